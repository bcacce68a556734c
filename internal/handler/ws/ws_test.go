package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avelasco/chatrelay/internal/handler/ws"
	"github.com/avelasco/chatrelay/internal/service/enrich"
	"github.com/avelasco/chatrelay/internal/service/relay"
	"github.com/avelasco/chatrelay/internal/store"
)

type testRelay struct {
	srv      *httptest.Server
	log      *store.Memory
	registry *relay.Registry
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	messageLog := store.NewMemory()
	registry := relay.NewRegistry()
	router := relay.NewRouter(messageLog, registry)
	replayer := relay.NewReplayer(messageLog, registry)
	resolver := enrich.NewResolver(100 * time.Millisecond)

	handler := ws.New(registry, router, replayer, resolver, time.Minute)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testRelay{srv: srv, log: messageLog, registry: registry}
}

func (tr *testRelay) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(tr.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s err: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitOnline blocks until the registry settles at the wanted session count,
// which is how a test observes a server-side disconnect.
func (tr *testRelay) waitOnline(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.registry.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("registry stuck at %d sessions, want %d", tr.registry.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sessionData struct {
	SessionID string `json:"sessionId"`
	Recovered bool   `json:"recovered"`
}

type chatData struct {
	Content string            `json:"content"`
	ID      string            `json:"id"`
	Author  string            `json:"author"`
	Meta    map[string]string `json:"meta"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read err: %v", err)
	}
	return f
}

func readSession(t *testing.T, conn *websocket.Conn) sessionData {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != ws.EventSession {
		t.Fatalf("first frame type = %q, want %q", f.Type, ws.EventSession)
	}
	var data sessionData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("decode session err: %v", err)
	}
	return data
}

func readChat(t *testing.T, conn *websocket.Conn) chatData {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != ws.EventChatMessage {
		t.Fatalf("frame type = %q, want %q", f.Type, ws.EventChatMessage)
	}
	var data chatData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("decode chat err: %v", err)
	}
	return data
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	err := conn.WriteJSON(map[string]interface{}{
		"type": ws.EventChatMessage,
		"data": text,
	})
	if err != nil {
		t.Fatalf("write err: %v", err)
	}
}

// expectSilence asserts that no frame arrives in a short window. The read
// deadline poisons the connection, so this is always a test's last step on
// that socket.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	var f frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func seed(t *testing.T, messageLog *store.Memory, contents ...string) {
	t.Helper()
	for _, c := range contents {
		if _, err := messageLog.Append(context.Background(), c, "seed", nil); err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}
}

func TestFreshClientFirstMessage(t *testing.T) {
	tr := newTestRelay(t)

	conn := tr.dial(t, "username=A&offset=0")
	if sess := readSession(t, conn); sess.Recovered {
		t.Fatal("first connection must not be recovered")
	}

	sendChat(t, conn, "hello")

	rec := readChat(t, conn)
	if rec.Content != "hello" || rec.ID != "1" || rec.Author != "A" {
		t.Fatalf("unexpected broadcast: %+v", rec)
	}

	stored, err := tr.log.Since(context.Background(), 0)
	if err != nil {
		t.Fatalf("Since err: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != 1 {
		t.Fatalf("store should hold exactly record 1, got %+v", stored)
	}
}

func TestReplayFromClientWatermark(t *testing.T) {
	tr := newTestRelay(t)
	seed(t, tr.log, "one", "two", "three")

	conn := tr.dial(t, "username=B&offset=2")
	if sess := readSession(t, conn); sess.Recovered {
		t.Fatal("unknown client must be fresh")
	}

	rec := readChat(t, conn)
	if rec.ID != "3" || rec.Content != "three" {
		t.Fatalf("expected replay of record 3 only, got %+v", rec)
	}

	expectSilence(t, conn)
}

func TestRecoveredSessionSkipsReplay(t *testing.T) {
	tr := newTestRelay(t)

	connA := tr.dial(t, "username=A")
	token := readSession(t, connA).SessionID

	connB := tr.dial(t, "username=B")
	readSession(t, connB)

	for _, text := range []string{"one", "two", "three"} {
		sendChat(t, connB, text)
		readChat(t, connB)
		readChat(t, connA)
	}

	connA.Close()
	tr.waitOnline(t, 1)

	// Same client back with its token and a stale offset: the transport
	// vouches for it, so no store replay happens even though the log holds
	// three records past the claimed offset.
	resumed := tr.dial(t, "username=A&offset=0&session="+token)
	if sess := readSession(t, resumed); !sess.Recovered {
		t.Fatal("expected a recovered session")
	}

	expectSilence(t, resumed)
}

func TestRecoveredSessionCatchesUpFromRing(t *testing.T) {
	tr := newTestRelay(t)

	connA := tr.dial(t, "username=A")
	token := readSession(t, connA).SessionID

	connB := tr.dial(t, "username=B")
	readSession(t, connB)

	sendChat(t, connB, "before drop")
	readChat(t, connB)
	readChat(t, connA)

	connA.Close()
	tr.waitOnline(t, 1)

	sendChat(t, connB, "missed one")
	readChat(t, connB)
	sendChat(t, connB, "missed two")
	readChat(t, connB)

	resumed := tr.dial(t, "username=A&session="+token)
	if sess := readSession(t, resumed); !sess.Recovered {
		t.Fatal("expected a recovered session")
	}

	if rec := readChat(t, resumed); rec.ID != "2" || rec.Content != "missed one" {
		t.Fatalf("unexpected first catch-up record: %+v", rec)
	}
	if rec := readChat(t, resumed); rec.ID != "3" || rec.Content != "missed two" {
		t.Fatalf("unexpected second catch-up record: %+v", rec)
	}
}

func TestResumeUnderLiveTrafficLosesNothing(t *testing.T) {
	tr := newTestRelay(t)

	connA := tr.dial(t, "username=A")
	token := readSession(t, connA).SessionID

	connB := tr.dial(t, "username=B")
	readSession(t, connB)

	sendChat(t, connB, "before drop")
	readChat(t, connB)
	readChat(t, connA)

	connA.Close()
	tr.waitOnline(t, 1)

	// B keeps publishing while A reconnects, so records land on both sides
	// of the resume handshake.
	const extra = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < extra; i++ {
			err := connB.WriteJSON(map[string]interface{}{
				"type": ws.EventChatMessage,
				"data": "racing",
			})
			if err != nil {
				t.Errorf("write err: %v", err)
				return
			}
		}
	}()

	resumed := tr.dial(t, "username=A&session="+token)
	if sess := readSession(t, resumed); !sess.Recovered {
		t.Fatal("expected a recovered session")
	}
	<-done

	// Whether each record arrives via the in-memory backlog or the live
	// fan-out, A must see a gapless ascending stream after id 1.
	for next := int64(2); next <= extra+1; next++ {
		rec := readChat(t, resumed)
		id, err := strconv.ParseInt(rec.ID, 10, 64)
		if err != nil {
			t.Fatalf("bad record id %q: %v", rec.ID, err)
		}
		if id != next {
			t.Fatalf("gap or reorder in resumed stream: got id %d, want %d", id, next)
		}
	}
}

func TestUnknownResumeTokenFallsBackToReplay(t *testing.T) {
	tr := newTestRelay(t)
	seed(t, tr.log, "one", "two")

	conn := tr.dial(t, "username=C&offset=0&session=expired-or-bogus")
	if sess := readSession(t, conn); sess.Recovered {
		t.Fatal("a token the server never issued must not recover")
	}

	if rec := readChat(t, conn); rec.ID != "1" {
		t.Fatalf("expected full replay, got %+v", rec)
	}
	if rec := readChat(t, conn); rec.ID != "2" {
		t.Fatalf("expected full replay, got %+v", rec)
	}
}

func TestAppendFailureIsSilentAndNonFatal(t *testing.T) {
	tr := newTestRelay(t)

	conn := tr.dial(t, "username=A")
	readSession(t, conn)

	tr.log.FailAppends(true)
	sendChat(t, conn, "doomed")
	tr.log.FailAppends(false)
	sendChat(t, conn, "works")

	// Per-session handling is sequential, so if "doomed" had been
	// committed or broadcast it would arrive first with id 1.
	rec := readChat(t, conn)
	if rec.Content != "works" || rec.ID != "1" {
		t.Fatalf("unexpected broadcast after failure: %+v", rec)
	}

	stored, err := tr.log.Since(context.Background(), 0)
	if err != nil {
		t.Fatalf("Since err: %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "works" {
		t.Fatalf("log must only hold the second message, got %+v", stored)
	}

	// The process still accepts new connections afterwards.
	late := tr.dial(t, "username=B")
	readSession(t, late)
	if rec := readChat(t, late); rec.Content != "works" {
		t.Fatalf("late client replay = %+v", rec)
	}
}

func TestBroadcastCarriesEnrichment(t *testing.T) {
	tr := newTestRelay(t)

	conn := tr.dial(t, "username=A")
	readSession(t, conn)

	// Enrichment resolves off the connect path; give it a moment before
	// submitting so the snapshot is attached.
	time.Sleep(300 * time.Millisecond)
	sendChat(t, conn, "hello")

	rec := readChat(t, conn)
	if rec.Meta["addr"] != "127.0.0.1" {
		t.Fatalf("expected loopback addr in meta, got %+v", rec.Meta)
	}
}

func TestDefaultAuthorIsAnonymous(t *testing.T) {
	tr := newTestRelay(t)

	conn := tr.dial(t, "")
	readSession(t, conn)
	sendChat(t, conn, "hi")

	if rec := readChat(t, conn); rec.Author != "anonymous" {
		t.Fatalf("author = %q, want anonymous", rec.Author)
	}
}
