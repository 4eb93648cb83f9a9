// services/telemetry/service.go
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/services/arbiter"
	"mads-go/services/internal/payload"
	"mads-go/types"
)

const defaultListen = "127.0.0.1:9431"

var substateValue = map[types.Substate]float64{
	types.SubstateDisabled:  0,
	types.SubstateIdle:      1,
	types.SubstateRequested: 2,
	types.SubstateActive:    3,
}

// Service exposes the arbiter's state for observers: prometheus metrics on
// /metrics, a JSON snapshot stream on /ws, and a substate machine that
// flags lifecycle transitions the arbiter should never report.
type Service struct {
	conn *bus.Connection
	log  *logrus.Entry
	addr string

	reg                *prometheus.Registry
	disengageTotal     *prometheus.CounterVec
	engageTotal        prometheus.Counter
	lateralAllowed     prometheus.Gauge
	substateGauge      prometheus.Gauge
	substateViolations prometheus.Counter

	tracker *substateTracker

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

func New(conn *bus.Connection, log *logrus.Entry, cfg types.TelemetryConfig) *Service {
	addr := cfg.Listen
	if addr == "" {
		addr = defaultListen
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Service{
		conn: conn,
		log:  log,
		addr: addr,
		reg:  reg,
		disengageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mads_disengage_total",
			Help: "Lateral disengagements by reason.",
		}, []string{"reason"}),
		engageTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mads_engage_total",
			Help: "Lateral engagements.",
		}),
		lateralAllowed: f.NewGauge(prometheus.GaugeOpts{
			Name: "mads_lateral_allowed",
			Help: "Current lateral grant (1 allowed, 0 blocked).",
		}),
		substateGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "mads_substate",
			Help: "Arbiter substate (0 disabled, 1 idle, 2 requested, 3 active).",
		}),
		substateViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "mads_substate_violations_total",
			Help: "Observed substate jumps outside the legal lifecycle edges.",
		}),
		tracker:  newSubstateTracker(types.SubstateDisabled),
		clients:  map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	snapSub := s.conn.Subscribe(arbiter.TopicSnapshot())
	disSub := s.conn.Subscribe(arbiter.TopicEvent(arbiter.EventDisengage))
	engSub := s.conn.Subscribe(arbiter.TopicEvent(arbiter.EventEngage))
	defer s.conn.Unsubscribe(snapSub)
	defer s.conn.Unsubscribe(disSub)
	defer s.conn.Unsubscribe(engSub)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.serveWS)
	srv := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("telemetry http server failed")
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		s.closeClients()
	}()

	s.log.WithField("addr", s.addr).Info("telemetry listening")

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-snapSub.Channel():
			if snap, code := payload.As[types.Snapshot](m.Payload); code == "" {
				s.onSnapshot(snap)
			}
		case m := <-disSub.Channel():
			if ev, code := payload.As[types.DisengageEvent](m.Payload); code == "" {
				s.disengageTotal.WithLabelValues(string(ev.Reason)).Inc()
			}
		case m := <-engSub.Channel():
			if _, code := payload.As[types.EngageEvent](m.Payload); code == "" {
				s.engageTotal.Inc()
			}
		}
	}
}

func (s *Service) onSnapshot(snap types.Snapshot) {
	if snap.AllowedLat && snap.SystemEnabled {
		s.lateralAllowed.Set(1)
	} else {
		s.lateralAllowed.Set(0)
	}
	s.substateGauge.Set(substateValue[snap.Substate])

	if !s.tracker.observe(snap.Substate) {
		s.substateViolations.Inc()
		s.log.WithField("substate", snap.Substate).Warn("illegal substate jump")
	}

	s.broadcast(snap)
}

// ---- websocket fan-out ----

func (s *Service) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	// Reader loop exists only to notice the close.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				s.drop(c)
				return
			}
		}
	}()
}

func (s *Service) broadcast(snap types.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			s.drop(c)
		}
	}
}

func (s *Service) drop(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Service) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		_ = c.Close()
	}
	s.clients = map[*websocket.Conn]struct{}{}
}
