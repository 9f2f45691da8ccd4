// Package pagination implements opaque cursor pagination for list endpoints.
// Cursors encode the last-seen row id; listings are stable under concurrent
// inserts because ids are monotonic.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params are the decoded pagination inputs of a list request.
type Params struct {
	Limit   int
	AfterID int64
}

// FromRequest parses limit and cursor query parameters. A malformed cursor
// is an error; a malformed or out-of-range limit is clamped.
func FromRequest(c *gin.Context) (Params, error) {
	p := Params{Limit: DefaultLimit}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err == nil && limit > 0 {
			p.Limit = limit
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if raw := c.Query("cursor"); raw != "" {
		afterID, err := DecodeCursor(raw)
		if err != nil {
			return Params{}, err
		}
		p.AfterID = afterID
	}
	return p, nil
}

// EncodeCursor builds the opaque cursor for the row id.
func EncodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	return id, nil
}

// Page wraps a result slice with its next cursor.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewPage builds a page, setting the next cursor when the result filled the
// requested limit.
func NewPage[T any](items []T, limit int, lastID int64) Page[T] {
	page := Page[T]{Items: items}
	if len(items) == limit && limit > 0 {
		page.NextCursor = EncodeCursor(lastID)
	}
	return page
}
