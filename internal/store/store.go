package store

import (
	"context"
	"errors"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// ErrUnavailable marks storage failures: the persistence medium is
// unreachable or rejected the operation. Callers log it and apply their
// per-operation policy; it is never fatal once the server is up.
var ErrUnavailable = errors.New("message log unavailable")

// Log is the append-only, id-ordered message log. Append serializes id
// assignment internally, so it is safe under concurrent calls.
type Log interface {
	// Append commits one record with the next id and returns it. On error
	// nothing was persisted and the caller must not broadcast.
	Append(ctx context.Context, content, author string, meta map[string]string) (chat.MessageRecord, error)

	// Since returns every record with id > watermark, ascending. The result
	// is finite; a fresh call is required for a newer read.
	Since(ctx context.Context, watermark int64) ([]chat.MessageRecord, error)

	Close() error
}
