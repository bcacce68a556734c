package relay

import (
	"testing"

	"github.com/avelasco/chatrelay/internal/model/chat"
)

func TestHoldingBufferIsBounded(t *testing.T) {
	sess := newSession("s1", "ana", 0, false)

	for i := 0; i < sendBuffer; i++ {
		if !sess.Deliver(chat.MessageRecord{ID: int64(i + 1)}) {
			t.Fatalf("delivery %d refused below the bound", i+1)
		}
	}

	if sess.Deliver(chat.MessageRecord{ID: sendBuffer + 1}) {
		t.Fatal("delivery past the holding bound must report the session as unable to keep up")
	}
}
