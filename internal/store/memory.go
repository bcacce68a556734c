package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// Memory is an in-memory Log with the same contract as SQL. It backs the
// DB_URL=memory configuration and the test suites, and can inject storage
// failures on demand.
type Memory struct {
	mu          sync.Mutex
	records     []chat.MessageRecord
	nextID      int64
	failAppends bool
	failReads   bool
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

// FailAppends toggles injected append failures.
func (m *Memory) FailAppends(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppends = fail
}

// FailReads toggles injected read failures.
func (m *Memory) FailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = fail
}

// Append commits one record under the lock, so id assignment is atomic
// with the write.
func (m *Memory) Append(_ context.Context, content, author string, meta map[string]string) (chat.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppends {
		return chat.MessageRecord{}, fmt.Errorf("%w: append rejected", ErrUnavailable)
	}

	rec := chat.MessageRecord{
		ID:      m.nextID,
		Content: content,
		Author:  author,
		Meta:    copyMeta(meta),
	}
	m.nextID++
	m.records = append(m.records, rec)
	return rec, nil
}

// Since returns every record with id > watermark, ascending by id.
func (m *Memory) Since(_ context.Context, watermark int64) ([]chat.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReads {
		return nil, fmt.Errorf("%w: read rejected", ErrUnavailable)
	}

	records := make([]chat.MessageRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.ID > watermark {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (m *Memory) Close() error {
	return nil
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	return copied
}
