package relay

import (
	"sync"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// sendBuffer bounds how far a slow consumer may fall behind before the
// router drops it.
const sendBuffer = 256

// Session is the registry's entry for one live connection. It is created on
// connect, destroyed on disconnect, and never persisted.
//
// A session starts in the holding state: live broadcasts are parked in held
// until the replayer releases the session, which keeps the backlog ahead of
// live traffic in the stream the client sees.
type Session struct {
	ID        string
	Author    string
	Watermark int64
	Recovered bool

	mu      sync.Mutex
	out     chan chat.MessageRecord
	closed  bool
	holding bool
	held    []chat.MessageRecord
	lastID  int64
	meta    map[string]string
}

func newSession(id, author string, watermark int64, recovered bool) *Session {
	return &Session{
		ID:        id,
		Author:    author,
		Watermark: watermark,
		Recovered: recovered,
		out:       make(chan chat.MessageRecord, sendBuffer),
		holding:   true,
		lastID:    watermark,
	}
}

// Outbound feeds the connection's writer pump. The channel is closed when
// the session closes.
func (s *Session) Outbound() <-chan chat.MessageRecord {
	return s.out
}

// Deliver queues a live broadcast. While the session is still replaying its
// backlog the record is held instead, preserving id order at the client.
// A false return means the session cannot keep up and should be dropped.
func (s *Session) Deliver(rec chat.MessageRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// Disconnected mid-flight; the result is discarded, not an error.
		return true
	}
	if s.holding {
		if len(s.held) >= sendBuffer {
			return false
		}
		s.held = append(s.held, rec)
		return true
	}
	return s.queue(rec)
}

// DeliverReplay queues a backlog record ahead of any held live traffic.
func (s *Session) DeliverReplay(rec chat.MessageRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.queue(rec)
}

// Release ends the holding state and flushes held live records in order.
func (s *Session) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holding = false
	held := s.held
	s.held = nil
	if s.closed {
		return true
	}
	for _, rec := range held {
		if !s.queue(rec) {
			return false
		}
	}
	return true
}

// queue assumes s.mu is held. Records at or below the delivery high-water
// mark are duplicates from a replay/backlog overlap and are skipped.
func (s *Session) queue(rec chat.MessageRecord) bool {
	if rec.ID <= s.lastID {
		return true
	}
	select {
	case s.out <- rec:
		s.lastID = rec.ID
		return true
	default:
		return false
	}
}

// Resume records the transport's continuity verdict once it is in: the
// client already holds everything through lastID, so the store replay is
// skipped and records at or below that mark are never re-sent. It must be
// called before the replayer runs.
func (s *Session) Resume(lastID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Recovered = true
	if lastID > s.Watermark {
		s.Watermark = lastID
	}
	if lastID > s.lastID {
		s.lastID = lastID
	}
}

// AdvanceWatermark raises the replay mark when the server saw more
// deliveries to this client than the client itself claims.
func (s *Session) AdvanceWatermark(lastID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lastID > s.Watermark {
		s.Watermark = lastID
	}
	if lastID > s.lastID {
		s.lastID = lastID
	}
}

// LastDelivered reports the highest id queued to this session. The
// transport remembers it when the connection drops so a fast reconnect can
// resume from there.
func (s *Session) LastDelivered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// SetMeta installs the enrichment snapshot once the resolver finishes.
func (s *Session) SetMeta(meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// MetaSnapshot returns whatever enrichment has resolved so far; nil is a
// legal answer, the pipeline is best-effort.
func (s *Session) MetaSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.held = nil
	close(s.out)
}
