package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{
		CreatedAt: time.Date(2026, 7, 4, 12, 30, 45, 123456789, time.UTC),
		ID:        "0c9c1ff5-2086-4f5c-9b60-6d8c5b89a011",
	}

	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestCursorNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	c := Cursor{CreatedAt: time.Date(2026, 7, 4, 14, 0, 0, 0, loc), ID: "abc"}

	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, decoded.CreatedAt.Location())
	assert.True(t, decoded.CreatedAt.Equal(c.CreatedAt))
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "!!!"},
		{"empty", ""},
		{"no separator", base64.RawURLEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z"))},
		{"empty id", base64.RawURLEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z|"))},
		{"bad timestamp", base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc"))},
		{"standard base64 padding", base64.StdEncoding.EncodeToString([]byte("2026-01-01T00:00:00Z|abc="))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.input)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestEncodeCursorIsURLSafe(t *testing.T) {
	c := Cursor{CreatedAt: time.Now().UTC(), ID: "id-with?&special=chars"}
	encoded := EncodeCursor(c)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")
}
