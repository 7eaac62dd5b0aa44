// Command seed submits a batch of demo tasks through the client SDK so a
// freshly started stack has something to chew on.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/maumercado/task-orchestrator/pkg/client"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "API key")
	count := flag.Int("count", 10, "tasks per type")
	flag.Parse()

	c, err := client.New(*baseURL, client.WithAPIKey(*apiKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	payloads := map[string]func(i int) json.RawMessage{
		"cpu_burn": func(i int) json.RawMessage {
			return json.RawMessage(fmt.Sprintf(`{"milliseconds":%d}`, 10+i*5))
		},
		"data_transform": func(i int) json.RawMessage {
			return json.RawMessage(fmt.Sprintf(`{"data":{"a":%d,"b":%d},"select":["b"],"rename":{"b":"beta"}}`, i, i*2))
		},
		"http_fetch": func(i int) json.RawMessage {
			return json.RawMessage(`{"url":"https://example.com/"}`)
		},
	}

	submitted := 0
	for taskType, build := range payloads {
		for i := 0; i < *count; i++ {
			t, err := c.CreateTask(ctx, client.CreateTaskRequest{
				TaskType: taskType,
				Payload:  build(i),
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "seed: submit %s: %v\n", taskType, err)
				os.Exit(1)
			}
			submitted++
			fmt.Printf("submitted %s %s\n", t.TaskType, t.ID)
		}
	}

	fmt.Printf("seeded %d tasks\n", submitted)
}
