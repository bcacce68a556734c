package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avelasco/chatrelay/internal/model/chat"
	"github.com/avelasco/chatrelay/internal/service/enrich"
	"github.com/avelasco/chatrelay/internal/service/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Wire event names, kept compatible with the socket.io client vocabulary.
const (
	EventChatMessage = "chat message"
	EventSession     = "session"
)

type inboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outboundEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// sessionEvent is the first frame a client receives: its resume token and
// the transport's continuity verdict.
type sessionEvent struct {
	SessionID string `json:"sessionId"`
	Recovered bool   `json:"recovered"`
}

// Handler upgrades chat clients and runs the per-connection pumps. The
// handshake carries the same auth fields the original client sent over
// socket.io: username, offset (resume watermark) and a session resume
// token.
type Handler struct {
	registry *relay.Registry
	router   *relay.Router
	replayer *relay.Replayer
	resolver *enrich.Resolver
	recent   *continuity
	upgrader websocket.Upgrader
}

func New(registry *relay.Registry, router *relay.Router, replayer *relay.Replayer, resolver *enrich.Resolver, recoveryWindow time.Duration) *Handler {
	return &Handler{
		registry: registry,
		router:   router,
		replayer: replayer,
		resolver: resolver,
		recent:   newContinuity(recoveryWindow),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the chat endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleConnect)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	conn := relay.ConnInfo{Author: query.Get("username")}
	if offset, err := strconv.ParseInt(query.Get("offset"), 10, 64); err == nil && offset > 0 {
		conn.Watermark = offset
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	sess := h.registry.Admit(conn)

	// Continuity verdict, taken only after admission: from here on any
	// record committed by the router is parked in the session's holding
	// buffer, so a record can no longer slip between the ring query below
	// and the live fan-out. A token from a recently dropped session whose
	// missed records are all still in the router's ring means the client
	// is resumed from memory, no store replay needed.
	var backlog []chat.MessageRecord
	if token := query.Get("session"); token != "" {
		if lastID, ok := h.recent.resume(token); ok {
			if missed, covered := h.router.Backlog(lastID); covered {
				sess.Resume(lastID)
				backlog = missed
				log.Printf("[ws] session %s resumed from id %d", sess.ID, lastID)
			} else if lastID > conn.Watermark {
				// The server saw more than the client claims; trust the
				// server-side mark for the replay.
				sess.AdvanceWatermark(lastID)
			}
		}
	}

	// Enrichment runs off to the side; admission and replay never wait
	// for it.
	go h.resolveMeta(r, sess)

	go h.writePump(socket, sess)

	for _, rec := range backlog {
		if !sess.DeliverReplay(rec) {
			log.Printf("[ws] session %s cannot absorb its resume backlog, dropping", sess.ID)
			h.registry.Remove(sess.ID)
			socket.Close()
			return
		}
	}
	go h.replayer.Replay(r.Context(), sess)

	h.readPump(r.Context(), socket, sess)
}

// readPump handles inbound frames sequentially, so no two messages from
// the same session are processed out of order.
func (h *Handler) readPump(ctx context.Context, socket *websocket.Conn, sess *relay.Session) {
	defer func() {
		h.recent.remember(sess.ID, sess.LastDelivered())
		h.registry.Remove(sess.ID)
		socket.Close()
	}()

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("[ws] session %s read error: %v", sess.ID, err)
			}
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("[ws] session %s sent a malformed frame: %v", sess.ID, err)
			continue
		}
		if event.Type != EventChatMessage {
			continue
		}

		var text string
		if err := json.Unmarshal(event.Data, &text); err != nil {
			log.Printf("[ws] session %s sent a non-text payload: %v", sess.ID, err)
			continue
		}

		h.router.Submit(ctx, sess, text)
	}
}

// writePump is the connection's only writer. The session frame goes out
// first, then records in the order the session queued them.
func (h *Handler) writePump(socket *websocket.Conn, sess *relay.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		socket.Close()
	}()

	hello := outboundEvent{
		Type: EventSession,
		Data: sessionEvent{SessionID: sess.ID, Recovered: sess.Recovered},
	}
	_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := socket.WriteJSON(hello); err != nil {
		return
	}

	for {
		select {
		case rec, ok := <-sess.Outbound():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteJSON(outboundEvent{Type: EventChatMessage, Data: rec}); err != nil {
				// The read pump notices the dead socket and unregisters.
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) resolveMeta(r *http.Request, sess *relay.Session) {
	meta := h.resolver.Resolve(context.Background(), enrich.ConnContext{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	sess.SetMeta(meta)
}
