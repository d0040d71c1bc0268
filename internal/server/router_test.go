package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Hub, *Router) {
	hub := NewHub(quietLogger())
	return hub, NewRouter(hub, quietLogger())
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.SendChan():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastReachesOnlyTheGroup(t *testing.T) {
	req := require.New(t)
	hub, router := newTestRouter()
	cfg := testConfig()

	a, b, other := detachedClient(cfg), detachedClient(cfg), detachedClient(cfg)
	req.NoError(hub.Register(3, a))
	req.NoError(hub.Register(3, b))
	req.NoError(hub.Register(4, other))

	req.Equal(2, router.Broadcast(3, []byte(`{"n":1}`)))

	req.Equal([][]byte{[]byte(`{"n":1}`)}, drain(a))
	req.Equal([][]byte{[]byte(`{"n":1}`)}, drain(b))
	req.Empty(drain(other))
}

func TestBroadcastToEmptyGroup(t *testing.T) {
	_, router := newTestRouter()
	require.Zero(t, router.Broadcast(99, []byte("x")))
}

func TestBroadcastEvictsFullClient(t *testing.T) {
	req := require.New(t)
	hub, router := newTestRouter()
	cfg := testConfig()
	cfg.SendBufferSize = 1

	slow, healthy := detachedClient(cfg), detachedClient(cfg)
	req.NoError(hub.Register(3, slow))
	req.NoError(hub.Register(3, healthy))

	req.Equal(2, router.Broadcast(3, []byte("first")))
	drain(healthy)

	req.Equal(1, router.Broadcast(3, []byte("second")))
	req.Equal([]*Client{healthy}, hub.Snapshot(3))
	req.Equal([][]byte{[]byte("second")}, drain(healthy))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}
}

// stalledPeer returns a server-side client whose remote end never reads.
func stalledPeer(t *testing.T, cfg Config) *Client {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
			conns <- conn
		}
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case conn := <-conns:
		client := NewClient(conn, "stalled", cfg, quietLogger())
		go client.writePump()
		return client
	case <-time.After(readTimeout):
		t.Fatal("server side of the connection never appeared")
		return nil
	}
}

func TestEvictingStalledPeerDoesNotBlockBroadcast(t *testing.T) {
	req := require.New(t)
	hub, router := newTestRouter()
	cfg := testConfig()
	cfg.SendBufferSize = 1
	cfg.WriteWait = 3 * time.Second

	stalled := stalledPeer(t, cfg)
	healthy := detachedClient(testConfig())
	req.NoError(hub.Register(3, stalled))
	req.NoError(hub.Register(3, healthy))

	payload := bytes.Repeat([]byte("x"), 1<<20)
	var slowest time.Duration
	for i := 0; i < 256 && len(hub.Snapshot(3)) == 2; i++ {
		start := time.Now()
		router.Broadcast(3, payload)
		slowest = max(slowest, time.Since(start))
		drain(healthy)
	}

	req.Equal([]*Client{healthy}, hub.Snapshot(3))
	req.Less(slowest, 500*time.Millisecond)
	select {
	case <-stalled.Done():
	default:
		t.Fatal("stalled client was not closed")
	}
}

func TestBroadcastSkipsClientClosedMidway(t *testing.T) {
	req := require.New(t)
	hub, router := newTestRouter()
	cfg := testConfig()

	gone, alive := detachedClient(cfg), detachedClient(cfg)
	req.NoError(hub.Register(3, gone))
	req.NoError(hub.Register(3, alive))

	// Closed after registration but before the broadcast snapshot is used.
	gone.Close(websocket.CloseGoingAway, "")

	req.Equal(1, router.Broadcast(3, []byte("hi")))
	req.Equal([]*Client{alive}, hub.Snapshot(3))
	req.Len(drain(alive), 1)
}

func TestDuplicateRegistrationDeliversOnce(t *testing.T) {
	req := require.New(t)
	hub, router := newTestRouter()
	client := detachedClient(testConfig())

	req.NoError(hub.Register(3, client))
	req.Error(hub.Register(3, client))

	req.Equal(1, router.Broadcast(3, []byte("once")))
	req.Len(drain(client), 1)
}

func TestSequenceSerializesPerGroup(t *testing.T) {
	_, router := newTestRouter()

	var (
		wg      sync.WaitGroup
		counter int
		order   []int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			router.Sequence(3, func() {
				counter++
				order = append(order, counter)
			})
		}()
	}
	wg.Wait()

	require.Len(t, order, 50)
	for i, v := range order {
		require.Equal(t, i+1, v)
	}
}

func TestConcurrentBroadcastAndChurn(t *testing.T) {
	hub, router := newTestRouter()
	cfg := testConfig()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		client := detachedClient(cfg)
		go func() {
			defer wg.Done()
			_ = hub.Register(3, client)
			hub.Unregister(3, client)
		}()
		go func() {
			defer wg.Done()
			router.Broadcast(3, []byte("x"))
		}()
	}
	wg.Wait()
	require.Zero(t, hub.ClientCount())
}
