package relay

import (
	"context"
	"log"

	"github.com/avelasco/chatrelay/internal/store"
)

// Replayer streams missed records to a freshly admitted session. It runs
// once per session, right after admission.
type Replayer struct {
	log      store.Log
	registry *Registry
}

func NewReplayer(messageLog store.Log, registry *Registry) *Replayer {
	return &Replayer{log: messageLog, registry: registry}
}

// Replay catches the session up from its watermark, then releases any live
// records held while the backlog was in flight.
//
// Recovered sessions skip the store read entirely: the transport already
// vouched that the client holds everything. A read failure abandons the
// backlog for this one session; it stays connected and keeps receiving new
// messages, there is no retry. A session whose buffer fills mid-replay is
// dropped instead, so a client never stays connected with a hole in its
// stream.
func (rp *Replayer) Replay(ctx context.Context, sess *Session) {
	if !rp.catchUp(ctx, sess) || !sess.Release() {
		log.Printf("[relay] session %s cannot absorb its backlog, dropping", sess.ID)
		rp.registry.Remove(sess.ID)
	}
}

// catchUp reports false when the session ran out of buffer mid-replay.
func (rp *Replayer) catchUp(ctx context.Context, sess *Session) bool {
	if sess.Recovered {
		return true
	}

	records, err := rp.log.Since(ctx, sess.Watermark)
	if err != nil {
		log.Printf("[relay] replay for session %s from watermark %d failed: %v",
			sess.ID, sess.Watermark, err)
		return true
	}

	for _, rec := range records {
		if !sess.DeliverReplay(rec) {
			return false
		}
	}
	return true
}
