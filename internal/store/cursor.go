package store

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// EncodeCursor renders a Cursor as the wire format described in the API:
// base64url of "{created_at_iso}|{id}".
func EncodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%s|%s", c.CreatedAt.UTC().Format(timeLayout), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor, rejecting anything truncated,
// non-base64, or missing the separator so malformed client input surfaces
// as ErrInvalidCursor rather than a panic or a silently wrong page.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, ErrInvalidCursor
	}

	ts, err := time.Parse(timeLayout, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	return Cursor{CreatedAt: ts.UTC(), ID: parts[1]}, nil
}
