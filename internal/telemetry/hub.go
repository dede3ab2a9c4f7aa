package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rjboer/GoSigGen/internal/channel"
	"github.com/rjboer/GoSigGen/internal/logging"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10_000
)

// Controller is the part of the sync loop the control API drives.
type Controller interface {
	SetSignal(ch int, frequency float64, phase, amplitude int) error
	// UpdateSignal keeps the current phase or amplitude when passed nil.
	UpdateSignal(ch int, frequency float64, phase, amplitude *int) error
	Snapshot() []channel.Values
}

// SignalRequest is the body of a set-signal call.
type SignalRequest struct {
	Frequency *float64 `json:"frequency"`
	Phase     *float64 `json:"phase"`
	Amplitude *float64 `json:"amplitude"`
}

// Hub keeps recent summaries, fans them out to live subscribers and routes
// control requests to the sync loop.
type Hub struct {
	mu           sync.RWMutex
	history      []Summary
	historyLimit int
	subscribers  map[chan Summary]struct{}

	ctrl     Controller
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewHub builds a hub retaining up to historyLimit summaries.
func NewHub(historyLimit int, ctrl Controller, logger logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if historyLimit > maxHistoryLimit {
		historyLimit = maxHistoryLimit
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Summary]struct{}),
		ctrl:         ctrl,
		logger:       logger.With(logging.F("subsystem", "control")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Report implements Reporter and records a new summary.
func (h *Hub) Report(s Summary) {
	h.mu.Lock()
	h.history = append(h.history, s)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored summaries.
func (h *Hub) History() []Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Summary, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Summary, func()) {
	ch := make(chan Summary, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Router exposes the control API.
func (h *Hub) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/channels", h.handleChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels/{channel:[0-9]+}/signal", h.handleSetSignal).Methods(http.MethodPost)
	api.HandleFunc("/history", h.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/live", h.handleLive).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleChannels(w http.ResponseWriter, _ *http.Request) {
	if h.ctrl == nil {
		http.Error(w, "no controller attached", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.History())
}

func (h *Hub) handleSetSignal(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		http.Error(w, "no controller attached", http.StatusServiceUnavailable)
		return
	}
	idx, err := strconv.Atoi(mux.Vars(r)["channel"])
	if err != nil {
		http.Error(w, "invalid channel", http.StatusBadRequest)
		return
	}

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid signal payload: %v", err), http.StatusBadRequest)
		return
	}

	if req.Frequency == nil {
		http.Error(w, "frequency is required", http.StatusBadRequest)
		return
	}
	// Omitted phase or amplitude keeps the channel's current value.
	phase, err := wholeField("phase", req.Phase)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amp, err := wholeField("amplitude", req.Amplitude)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ctrl.UpdateSignal(idx, *req.Frequency, phase, amp); err != nil {
		switch {
		case errors.Is(err, channel.ErrChannelRange):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, channel.ErrValueRejected):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	updated, _ := channelAt(h.ctrl.Snapshot(), idx)
	writeJSON(w, http.StatusOK, updated)
}

func wholeField(name string, v *float64) (*int, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := channel.WholeNumber(*v)
	if !ok {
		return nil, fmt.Errorf("%s must be a whole number within 32 bits, got %v", name, *v)
	}
	return &n, nil
}

func channelAt(values []channel.Values, idx int) (channel.Values, bool) {
	if idx < 0 || idx >= len(values) {
		return channel.Values{}, false
	}
	return values[idx], true
}

// handleLive streams summaries over a WebSocket, starting with the retained
// history.
func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	// Drain client frames so close and ping control messages are handled.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for _, s := range h.History() {
		if err := writeFrame(conn, s); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := writeFrame(conn, s); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket write failed", logging.Err(err))
				}
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, s Summary) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(s)
}
