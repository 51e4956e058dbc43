package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas/internal/bus"
	"civitas/internal/signal"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSignal(t *testing.T, conn *websocket.Conn) signal.Signal {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var sig signal.Signal
	require.NoError(t, json.Unmarshal(data, &sig))
	return sig
}

func TestObserverReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	o := New(b)
	t.Cleanup(o.Close)
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)

	b.Emit(ctx, "FIRST", "test", nil)
	b.Emit(ctx, "SECOND", "test", map[string]string{"k": "v"})

	conn := dial(t, srv)
	assert.Equal(t, "FIRST", readSignal(t, conn).Type)
	second := readSignal(t, conn)
	assert.Equal(t, "SECOND", second.Type)
	assert.Equal(t, map[string]any{"k": "v"}, second.Payload)

	require.Eventually(t, func() bool { return o.Clients() == 1 }, time.Second, 10*time.Millisecond)
	b.Emit(ctx, "LIVE", "test", nil)
	assert.Equal(t, "LIVE", readSignal(t, conn).Type)
}

func TestObserverDropsSlowClients(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	o := New(b, WithBuffer(1))
	t.Cleanup(o.Close)

	// A client with no writer attached never drains its queue.
	stuck := &client{send: make(chan []byte, 1), replayed: map[string]struct{}{}}
	o.mu.Lock()
	o.clients[stuck] = struct{}{}
	o.mu.Unlock()

	b.Emit(ctx, "ONE", "test", nil)
	assert.Equal(t, 1, o.Clients())

	done := make(chan struct{})
	go func() {
		b.Emit(ctx, "TWO", "test", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a slow client")
	}
	assert.Equal(t, 0, o.Clients())

	_, open := <-stuck.send
	assert.True(t, open, "queued message is still readable")
	_, open = <-stuck.send
	assert.False(t, open, "queue is closed after the drop")
}

func TestObserverSkipsReplayedSignals(t *testing.T) {
	b := bus.New()
	o := New(b)
	t.Cleanup(o.Close)

	c := &client{send: make(chan []byte, 4), replayed: map[string]struct{}{"dup": {}}}
	o.mu.Lock()
	o.clients[c] = struct{}{}
	o.mu.Unlock()

	require.NoError(t, o.HandleSignal(context.Background(), signal.Signal{ID: "dup", Type: "X"}))
	require.NoError(t, o.HandleSignal(context.Background(), signal.Signal{ID: "fresh", Type: "X"}))

	assert.Len(t, c.send, 1)
	assert.Empty(t, c.replayed)
}

func TestObserverRemembersOnlyInflightReplays(t *testing.T) {
	b := bus.New()
	o := New(b, WithBuffer(8))
	t.Cleanup(o.Close)
	for range 5 {
		b.Emit(context.Background(), "X", "test", nil)
	}

	c, ok := o.register(nil)
	require.True(t, ok)
	assert.Len(t, c.send, 5, "history is replayed")
	assert.Empty(t, c.replayed, "delivered signals are not tracked")

	// Typed handlers run before the observer, so a client connecting from
	// one sees SLOW in the log before the observer has fanned it out.
	var late *client
	b.Subscribe("SLOW", bus.HandlerFunc(func(context.Context, signal.Signal) error {
		late, ok = o.register(nil)
		require.True(t, ok)
		assert.Len(t, late.replayed, 1)
		return nil
	}))
	b.Emit(context.Background(), "SLOW", "test", nil)

	require.NotNil(t, late)
	assert.Empty(t, late.replayed, "the in-flight id is cleared once delivered")
	assert.Len(t, late.send, 6, "SLOW is replayed once, not streamed again")
}

func TestRecentIDsEvictsOldest(t *testing.T) {
	r := newRecentIDs(2)
	r.add("a")
	r.add("b")
	r.add("c")
	assert.False(t, r.has("a"))
	assert.True(t, r.has("b"))
	assert.True(t, r.has("c"))
	assert.Len(t, r.ids, 2)
}

func TestObserverClose(t *testing.T) {
	b := bus.New()
	o := New(b)
	assert.Equal(t, 1, b.SubscriberCount(signal.Wildcard))

	o.Close()
	assert.Equal(t, 0, b.SubscriberCount(signal.Wildcard))

	_, ok := o.register(nil)
	assert.False(t, ok)
}
