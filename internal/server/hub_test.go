package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-scorer/internal/metrics"
)

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics, string) {
	t.Helper()

	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := NewHub(met, zerolog.Nop())
	t.Cleanup(h.Close)

	ts := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(ts.Close)
	return h, met, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitForClients(t *testing.T, met *metrics.Metrics, want float64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(met.WSClients) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %v connected clients, have %v", want, testutil.ToFloat64(met.WSClients))
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	h, met, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, met, 1)

	h.Broadcast(map[string]string{"type": "prediction"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "prediction", msg["type"])
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	h, met, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, met, 1)

	// Reads run alongside the broadcasters so the fan-out stays under load
	// for the whole test.
	received := make(chan int, 1)
	go func() {
		n := 0
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			n++
		}
		received <- n
	}()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				h.Broadcast(map[string]interface{}{"type": "prediction", "source": id, "seq": i})
			}
		}(g)
	}
	wg.Wait()

	h.Close()
	assert.Greater(t, <-received, 0)
	waitForClients(t, met, 0)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	_, met, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	waitForClients(t, met, 1)

	conn.Close()
	waitForClients(t, met, 0)
}
