package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// ConnInfo carries what the transport knows about a new connection at
// admission time. A continuity verdict reached after admission is recorded
// on the session itself via Resume.
type ConnInfo struct {
	Author    string
	Watermark int64
	Recovered bool
}

// Registry owns the set of live sessions. Admission always succeeds;
// removal is idempotent.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Admit registers a session for the connection and returns it.
func (r *Registry) Admit(conn ConnInfo) *Session {
	author := conn.Author
	if author == "" {
		author = chat.AnonymousAuthor
	}

	sess := newSession(uuid.NewString(), author, conn.Watermark, conn.Recovered)

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	online := len(r.sessions)
	r.mu.Unlock()

	log.Printf("[registry] session %s connected (author=%q watermark=%d, %d online)",
		sess.ID, author, conn.Watermark, online)
	return sess
}

// Remove unregisters and closes a session. Unknown ids are a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	online := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	log.Printf("[registry] session %s disconnected (%d online)", sessionID, online)
}

// Targets snapshots the live sessions for fan-out. It never blocks on
// delivery work.
func (r *Registry) Targets() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		targets = append(targets, sess)
	}
	return targets
}

// Count reports how many sessions are currently admitted.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
