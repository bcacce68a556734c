package relay

import (
	"context"
	"log"
	"sync"

	"github.com/avelasco/chatrelay/internal/model/chat"
	"github.com/avelasco/chatrelay/internal/store"
)

// backlogSize bounds the in-memory record ring backing fast reconnects.
const backlogSize = 256

// Router commits submissions to the log and fans them out to every live
// session. The whole commit-and-deliver pipeline runs under one lock, so
// every session and the ring observe records in commit order.
type Router struct {
	mu       sync.Mutex
	log      store.Log
	registry *Registry
	backlog  *ring
}

func NewRouter(messageLog store.Log, registry *Registry) *Router {
	return &Router{
		log:      messageLog,
		registry: registry,
		backlog:  newRing(backlogSize),
	}
}

// Submit commits one message and delivers the committed record to every
// live session, including the sender. The enrichment snapshot is whatever
// the session has resolved so far, possibly nothing.
//
// An append failure is logged and the submission dropped without telling
// the sender; the client gets neither an ack nor an error. That contract is
// inherited from the original server and kept as-is.
func (rt *Router) Submit(ctx context.Context, sess *Session, content string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rec, err := rt.log.Append(ctx, content, sess.Author, sess.MetaSnapshot())
	if err != nil {
		log.Printf("[relay] append from session %s failed: %v", sess.ID, err)
		return
	}

	rt.backlog.add(rec)

	for _, target := range rt.registry.Targets() {
		if !target.Deliver(rec) {
			log.Printf("[relay] session %s cannot keep up, dropping", target.ID)
			rt.registry.Remove(target.ID)
		}
	}
}

// Backlog returns the in-memory records after watermark when the ring still
// covers that range. The transport uses it to decide whether a reconnect
// can be resumed without touching the store.
func (rt *Router) Backlog(watermark int64) ([]chat.MessageRecord, bool) {
	return rt.backlog.since(watermark)
}
