package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"

	"spot_trader/internal/models"
	"spot_trader/internal/trader"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed
	},
}

// Source is the part of the trader the dashboard reads.
type Source interface {
	LastCycle() trader.CycleStats
	Paused() bool
	Positions(ctx context.Context) (map[string]models.Position, error)
}

// Status is one frame of the status stream.
type Status struct {
	Time       time.Time         `json:"time"`
	Paused     bool              `json:"paused"`
	Cycle      int               `json:"cycle"`
	CycleAt    time.Time         `json:"cycle_at"`
	DurationMS int64             `json:"duration_ms"`
	Evaluated  int               `json:"evaluated"`
	Failed     int               `json:"failed"`
	Live       int               `json:"live"`
	Positions  []models.Position `json:"positions"`
	Error      string            `json:"error,omitempty"`
}

type Handler struct {
	src      Source
	interval time.Duration
}

func NewHandler(src Source, interval time.Duration) *Handler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Handler{src: src, interval: interval}
}

// Snapshot collects the current status. A store failure is reported in the
// frame rather than dropping it.
func (h *Handler) Snapshot(ctx context.Context) Status {
	last := h.src.LastCycle()
	st := Status{
		Time:       time.Now().UTC(),
		Paused:     h.src.Paused(),
		Cycle:      last.Cycle,
		CycleAt:    last.StartedAt,
		DurationMS: last.Duration.Milliseconds(),
		Evaluated:  last.Evaluated,
		Failed:     last.Failed,
		Live:       last.Live,
		Positions:  []models.Position{},
	}

	positions, err := h.src.Positions(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	for _, p := range positions {
		if p.State.IsLive() {
			st.Positions = append(st.Positions, p)
		}
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })
	return st
}

// HandleStatus serves a single snapshot as JSON.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot(r.Context())); err != nil {
		log.Printf("dashboard: encode status: %v", err)
	}
}

// HandleStream upgrades to a websocket and pushes a snapshot immediately and
// then every interval until the client goes away.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so a close is noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(h.Snapshot(ctx)); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
