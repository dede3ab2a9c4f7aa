package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/logging"
)

// storeController serializes access to a real store, like the sync loop does.
type storeController struct {
	mu    sync.Mutex
	store *channel.Store
}

func (c *storeController) SetSignal(ch int, frequency float64, phase, amplitude int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.SetSignal(ch, frequency, phase, amplitude)
}

func (c *storeController) UpdateSignal(ch int, frequency float64, phase, amplitude *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.UpdateSignal(ch, frequency, phase, amplitude)
}

func (c *storeController) Snapshot() []channel.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

func newTestHub(t *testing.T) (*Hub, *storeController) {
	t.Helper()
	store, err := channel.NewStore(2, channel.Identity)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctrl := &storeController{store: store}
	if err := ctrl.SetSignal(0, 100_000_000, 0, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ctrl.SetSignal(1, 101_000_000, 90, 2); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewHub(4, ctrl, logging.New(logging.Debug, logging.Text, io.Discard)), ctrl
}

func TestNewSummarySpread(t *testing.T) {
	values := []channel.Values{
		{Index: 0, Frequency: 100_000_000},
		{Index: 1, Frequency: 104_000_000, Amplitude: 3},
	}
	s := NewSummary(time.Unix(0, 0), "sess", FullBurst, 6, values)
	if s.Spread.SpanHz != 4_000_000 || s.Spread.MeanHz != 102_000_000 {
		t.Fatalf("unexpected spread %+v", s.Spread)
	}
	if s.Channels[1].AmplitudeLabel != "+5dBm" {
		t.Fatalf("unexpected amplitude label %q", s.Channels[1].AmplitudeLabel)
	}
	if empty := NewSummary(time.Unix(0, 0), "", IncrementalBurst, 0, nil); empty.Spread != (Spread{}) {
		t.Fatalf("empty summary should have zero spread, got %+v", empty.Spread)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	hub, _ := newTestHub(t)
	for i := 0; i < 6; i++ {
		hub.Report(Summary{LinesSent: i})
	}
	hist := hub.History()
	if len(hist) != 4 || hist[0].LinesSent != 2 || hist[3].LinesSent != 5 {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestHandleChannels(t *testing.T) {
	hub, _ := newTestHub(t)
	rr := httptest.NewRecorder()
	hub.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []channel.Values
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Phase != 90 {
		t.Fatalf("unexpected channels %+v", got)
	}
}

func TestHandleSetSignal(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"applies update", "/api/channels/1/signal", `{"frequency":102000000,"phase":45}`, http.StatusOK},
		{"unknown channel", "/api/channels/5/signal", `{"frequency":102000000}`, http.StatusNotFound},
		{"above ceiling", "/api/channels/0/signal", `{"frequency":5000000000}`, http.StatusUnprocessableEntity},
		{"negative frequency", "/api/channels/0/signal", `{"frequency":-1e30}`, http.StatusUnprocessableEntity},
		{"missing frequency", "/api/channels/0/signal", `{"phase":10}`, http.StatusBadRequest},
		{"phase overflows", "/api/channels/0/signal", `{"frequency":-1e30,"phase":1e30,"amplitude":2}`, http.StatusBadRequest},
		{"fractional amplitude", "/api/channels/0/signal", `{"frequency":102000000,"amplitude":2.9}`, http.StatusBadRequest},
		{"bad json", "/api/channels/0/signal", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub, ctrl := newTestHub(t)
			req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(tc.body))
			rr := httptest.NewRecorder()
			hub.Router().ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rr.Code, strings.TrimSpace(rr.Body.String()))
			}
			if tc.status != http.StatusOK {
				if got := ctrl.Snapshot()[0]; got.Frequency != 100_000_000 || got.Phase != 0 || got.Amplitude != 0 {
					t.Fatalf("rejected request changed channel 0: %+v", got)
				}
				return
			}
			ch := ctrl.Snapshot()[1]
			if ch.Frequency != 102_000_000 || ch.Phase != 45 || ch.Amplitude != 2 {
				t.Fatalf("unexpected channel state %+v", ch)
			}
		})
	}
}

func TestSetSignalMethodNotAllowed(t *testing.T) {
	hub, _ := newTestHub(t)
	rr := httptest.NewRecorder()
	hub.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels/0/signal", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestLiveStreamsHistoryAndUpdates(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Report(Summary{Kind: FullBurst, LinesSent: 18})

	server := httptest.NewServer(hub.Router())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first Summary
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read history frame: %v", err)
	}
	if first.Kind != FullBurst || first.LinesSent != 18 {
		t.Fatalf("unexpected history frame %+v", first)
	}

	// The subscription is registered before history is replayed, so a
	// report made now is delivered.
	hub.Report(Summary{Kind: IncrementalBurst, LinesSent: 1})
	var next Summary
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read live frame: %v", err)
	}
	if next.Kind != IncrementalBurst || next.LinesSent != 1 {
		t.Fatalf("unexpected live frame %+v", next)
	}
}

func TestMultiReporterSkipsNil(t *testing.T) {
	hub, _ := newTestHub(t)
	MultiReporter{nil, hub}.Report(Summary{LinesSent: 3})
	if len(hub.History()) != 1 {
		t.Fatal("expected hub to receive the summary")
	}
}
