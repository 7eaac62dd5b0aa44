// Package client is the Go SDK for the task orchestrator's HTTP API:
// typed wrappers for task submission, lookup, listing, and cancellation,
// plus a WebSocket subscriber for the real-time lifecycle event stream.
//
// # Basic usage
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := c.CreateTask(ctx, client.CreateTaskRequest{
//	    TaskType: "data_transform",
//	    Payload:  json.RawMessage(`{"data":{"a":1},"select":["a"]}`),
//	})
//
// # Pagination
//
//	page, err := c.ListTasks(ctx, client.ListTasksOptions{Limit: 50})
//	for page.NextCursor != "" {
//	    page, err = c.ListTasks(ctx, client.ListTasksOptions{
//	        Limit:  50,
//	        Cursor: page.NextCursor,
//	    })
//	}
//
// # Event stream
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Println(event.Type, event.Data["task_id"])
//	}
package client
