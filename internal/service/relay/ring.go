package relay

import (
	"sync"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

// ring keeps the most recent committed records so a quickly-reconnecting
// client can be caught up from memory instead of the store.
type ring struct {
	mu   sync.Mutex
	max  int
	recs []chat.MessageRecord
}

func newRing(max int) *ring {
	return &ring{max: max}
}

func (b *ring) add(rec chat.MessageRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recs = append(b.recs, rec)
	if len(b.recs) > b.max {
		b.recs = b.recs[len(b.recs)-b.max:]
	}
}

// since returns the records with id > watermark, but only when the ring
// provably still holds all of them. Ids may have gaps, so coverage is
// judged conservatively: the oldest retained id must not be past
// watermark+1. Anything uncertain reports ok=false and the caller falls
// back to a store replay.
func (b *ring) since(watermark int64) ([]chat.MessageRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.recs) == 0 {
		return nil, false
	}
	if b.recs[len(b.recs)-1].ID <= watermark {
		return nil, true
	}
	if b.recs[0].ID > watermark+1 {
		return nil, false
	}

	missed := make([]chat.MessageRecord, 0, len(b.recs))
	for _, rec := range b.recs {
		if rec.ID > watermark {
			missed = append(missed, rec)
		}
	}
	return missed, true
}
