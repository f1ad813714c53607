package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kayz/tavern/internal/ai"
	"github.com/kayz/tavern/internal/engine"
)

type stubBackend struct {
	text string
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Complete(ctx context.Context, req ai.ChatRequest) (ai.Response, error) {
	return ai.Response{Text: s.text}, nil
}

func (s *stubBackend) Stream(ctx context.Context, req ai.ChatRequest) (<-chan ai.Chunk, error) {
	out := make(chan ai.Chunk, 1)
	out <- ai.Chunk{Text: s.text, Final: true}
	close(out)
	return out, nil
}

func dialTestServer(t *testing.T, exec *engine.Executor) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewWSServer(exec))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readResponse skips pushed event frames until the response with the given
// id arrives.
func readResponse(t *testing.T, conn *websocket.Conn, id string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type == "response" && f.ID == id {
			return f
		}
	}
}

func TestWSGenerateRaw(t *testing.T) {
	exec := engine.New(&stubBackend{text: "hello there"}, nil, nil, nil, engine.Config{})
	conn := dialTestServer(t, exec)

	if err := conn.WriteJSON(map[string]any{"id": "1", "op": "generate_raw", "prompt": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readResponse(t, conn, "1")
	if !f.OK || f.Result != "hello there" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestWSGenerateRawPushesEvents(t *testing.T) {
	exec := engine.New(&stubBackend{text: "hello"}, nil, nil, nil, engine.Config{FlushInterval: time.Millisecond})
	conn := dialTestServer(t, exec)

	if err := conn.WriteJSON(map[string]any{"id": "1", "op": "generate_raw", "prompt": "hi", "stream": true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sawEnded := false
	deadline := time.Now().Add(2 * time.Second)
	for !sawEnded {
		conn.SetReadDeadline(deadline)
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type == "event" && f.Event != nil && f.Event.Type == engine.EventGenerationEnded {
			sawEnded = true
			if f.Event.Text != "hello" {
				t.Fatalf("ended event text = %q", f.Event.Text)
			}
		}
	}
}

func TestWSUnknownOp(t *testing.T) {
	exec := engine.New(&stubBackend{}, nil, nil, nil, engine.Config{})
	conn := dialTestServer(t, exec)

	if err := conn.WriteJSON(map[string]any{"id": "9", "op": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readResponse(t, conn, "9")
	if f.OK || !strings.Contains(f.Error, "unknown op") {
		t.Fatalf("frame = %+v", f)
	}
}

func TestWSStopWithoutRun(t *testing.T) {
	exec := engine.New(&stubBackend{}, nil, nil, nil, engine.Config{})
	conn := dialTestServer(t, exec)

	if err := conn.WriteJSON(map[string]any{"id": "2", "op": "stop"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readResponse(t, conn, "2")
	if f.OK {
		t.Fatalf("stop with no run reported ok")
	}
}

func TestWSGenerateMissingRequest(t *testing.T) {
	exec := engine.New(&stubBackend{}, nil, nil, nil, engine.Config{})
	conn := dialTestServer(t, exec)

	if err := conn.WriteJSON(map[string]any{"id": "3", "op": "generate"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := readResponse(t, conn, "3")
	if f.OK || !strings.Contains(f.Error, "missing request") {
		t.Fatalf("frame = %+v", f)
	}
}
