// Package transport exposes the generation engine over WebSocket and MCP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kayz/tavern/internal/engine"
	"github.com/kayz/tavern/internal/logger"
	"github.com/kayz/tavern/internal/promptbuild"
)

// wsRequest is one client frame. Op selects the operation; Request carries
// the structured generation request for "generate", Prompt/Stream carry the
// raw form for "generate_raw".
type wsRequest struct {
	ID      string               `json:"id"`
	Op      string               `json:"op"`
	Request *promptbuild.Request `json:"request,omitempty"`
	Prompt  string               `json:"prompt,omitempty"`
	Stream  bool                 `json:"stream,omitempty"`
}

// wsFrame is one server frame: either a response correlated by id, or a
// pushed lifecycle event.
type wsFrame struct {
	Type   string        `json:"type"` // "response" or "event"
	ID     string        `json:"id,omitempty"`
	OK     bool          `json:"ok,omitempty"`
	Result string        `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Event  *engine.Event `json:"event,omitempty"`
}

// WSServer serves generation over a WebSocket endpoint. Lifecycle events are
// pushed to every connection independently of request/response pairs.
type WSServer struct {
	exec     *engine.Executor
	upgrader websocket.Upgrader
}

// NewWSServer wires a WebSocket server around an executor.
func NewWSServer(exec *engine.Executor) *WSServer {
	return &WSServer{
		exec: exec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ListenAndServe blocks serving the "/ws" endpoint until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeHTTP upgrades one connection and runs its read loop.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	s.handleConn(r.Context(), conn)
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(f wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

func (s *WSServer) handleConn(ctx context.Context, raw *websocket.Conn) {
	defer raw.Close()
	conn := &wsConn{conn: raw}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := s.exec.Events().Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.write(wsFrame{Type: "event", Event: &ev}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read: %v", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			conn.write(wsFrame{Type: "response", Error: "malformed frame: " + err.Error()})
			continue
		}

		// Generation blocks until the provider finishes, so it runs off
		// the read loop; stop frames must still get through.
		switch req.Op {
		case "generate", "generate_raw":
			go s.dispatch(ctx, conn, req)
		case "stop":
			stopped := s.exec.Aborts().StopCurrent()
			conn.write(wsFrame{Type: "response", ID: req.ID, OK: stopped})
		default:
			conn.write(wsFrame{Type: "response", ID: req.ID, Error: "unknown op: " + req.Op})
		}
	}
}

func (s *WSServer) dispatch(ctx context.Context, conn *wsConn, req wsRequest) {
	var result string
	var err error
	switch req.Op {
	case "generate":
		if req.Request == nil {
			err = errors.New("generate: missing request")
		} else {
			result, err = s.exec.Generate(ctx, *req.Request)
		}
	case "generate_raw":
		result, err = s.exec.GenerateRaw(ctx, req.Prompt, req.Stream)
	}

	frame := wsFrame{Type: "response", ID: req.ID, OK: err == nil, Result: result}
	if err != nil {
		frame.Error = err.Error()
	}
	if werr := conn.write(frame); werr != nil {
		logger.Debug("websocket write: %v", werr)
	}
}
