package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Garsondee/squad-formation/internal/squad"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, h.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestHub_BroadcastsSnapshot(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitSubscribers(t, h, 2)

	snap := squad.Snapshot{
		Tick: 12,
		Units: []squad.UnitSnapshot{
			{ID: "a", Squad: "s", Slot: 0, Role: "leader", Phase: "in_formation"},
		},
	}
	if err := h.Publish("snapshot", snap); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		if f.Type != "snapshot" {
			t.Fatalf("unexpected frame type %q", f.Type)
		}
		var got squad.Snapshot
		if err := json.Unmarshal(f.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Tick != 12 || len(got.Units) != 1 || got.Units[0].ID != "a" {
			t.Fatalf("snapshot did not survive the trip: %+v", got)
		}
	}
	if h.Sent() != 2 {
		t.Fatalf("expected 2 frames queued, got %d", h.Sent())
	}
}

func TestHub_LateJoinerGetsLastFrame(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	if err := h.Publish("snapshot", squad.Snapshot{Tick: 3}); err != nil {
		t.Fatal(err)
	}
	if err := h.Publish("snapshot", squad.Snapshot{Tick: 4}); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv)
	f := readFrame(t, conn)
	var got squad.Snapshot
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Tick != 4 {
		t.Fatalf("late joiner should see the latest frame, got tick %d", got.Tick)
	}
}

func TestHub_SlowSubscriberDropsFrames(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	// Never read from the connection; its buffers fill and Publish keeps
	// returning immediately.
	_ = dial(t, srv)
	waitSubscribers(t, h, 1)

	payload := strings.Repeat("x", 64*1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = h.Publish("blob", payload)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if h.Dropped() == 0 {
		t.Fatal("expected frames to be dropped for the slow subscriber")
	}
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitSubscribers(t, h, 1)
	_ = conn.Close()
	waitSubscribers(t, h, 0)
}

func TestHub_CloseDisconnectsAndRefuses(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitSubscribers(t, h, 1)
	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal close, got %v", err)
	}
	if err := h.Publish("snapshot", squad.Snapshot{}); err != nil {
		t.Fatal("publishing to a closed hub should be a no-op")
	}

	late := dial(t, srv)
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away for a late subscriber, got %v", err)
	}
}

func TestHub_PublishRejectsUnencodable(t *testing.T) {
	h := NewHub(nil)
	if err := h.Publish("bad", make(chan int)); err == nil {
		t.Fatal("expected a marshal error")
	}
}

func TestServe_ShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, addr, NewHub(nil)) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
