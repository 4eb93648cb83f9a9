// services/watchdog/service.go
package watchdog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/services/arbiter"
	"mads-go/types"
)

const (
	defaultCheckEvery = 100 * time.Millisecond
	defaultStaleAfter = 500 * time.Millisecond
)

// Service watches signal-frame freshness. While the producer is quiet for
// longer than the stale budget it forces a LAG disengage on every check;
// fresh frames clear the episode. Button topics are only monitored after
// they have been seen at least once (a vehicle may not expose them).
type Service struct {
	conn *bus.Connection
	log  *logrus.Entry

	checkEvery time.Duration
	staleAfter time.Duration

	lastSeen map[string]time.Time
	tripped  bool
}

func New(conn *bus.Connection, log *logrus.Entry, cfg types.WatchdogConfig) *Service {
	s := &Service{
		conn:       conn,
		log:        log,
		checkEvery: defaultCheckEvery,
		staleAfter: defaultStaleAfter,
		lastSeen:   map[string]time.Time{},
	}
	if cfg.CheckEveryMs > 0 {
		s.checkEvery = time.Duration(cfg.CheckEveryMs) * time.Millisecond
	}
	if cfg.StaleAfterMs > 0 {
		s.staleAfter = time.Duration(cfg.StaleAfterMs) * time.Millisecond
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	frameSub := s.conn.Subscribe(arbiter.TopicSignalFrame())
	steerSub := s.conn.Subscribe(arbiter.TopicSteeringButton())
	mainSub := s.conn.Subscribe(arbiter.TopicMainButton())
	defer s.conn.Unsubscribe(frameSub)
	defer s.conn.Unsubscribe(steerSub)
	defer s.conn.Unsubscribe(mainSub)

	tick := time.NewTicker(s.checkEvery)
	defer tick.Stop()

	s.pubState("ok", "")

	for {
		select {
		case <-ctx.Done():
			s.pubState("stopped", "context_cancelled")
			return
		case <-frameSub.Channel():
			s.seen("frame")
		case <-steerSub.Channel():
			s.seen("button_steering")
		case <-mainSub.Channel():
			s.seen("button_main")
		case <-tick.C:
			s.check(ctx)
		}
	}
}

func (s *Service) seen(source string) {
	s.lastSeen[source] = time.Now()
}

func (s *Service) check(ctx context.Context) {
	// Nothing ever arrived: the producer has not started; do not trip.
	if len(s.lastSeen) == 0 {
		return
	}
	now := time.Now()
	stale := ""
	for source, at := range s.lastSeen {
		if now.Sub(at) > s.staleAfter {
			stale = source
			break
		}
	}

	switch {
	case stale != "":
		if !s.tripped {
			s.tripped = true
			s.log.WithField("source", stale).Warn("signal stale, forcing LAG disengage")
			s.pubState("stale", stale)
		}
		// Re-assert every check: a LAG disengage does not retract the
		// request latch, so a single force would be undone one tick later.
		s.forceLag(ctx)
	case s.tripped:
		s.tripped = false
		s.log.Info("signals fresh again")
		s.pubState("ok", "")
	}
}

func (s *Service) forceLag(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, s.checkEvery)
	defer cancel()
	_, err := s.conn.RequestWait(rctx, s.conn.NewMessage(
		arbiter.TopicControl(arbiter.VerbForceDisengage),
		types.ForceDisengage{Reason: types.ReasonLag}, false))
	if err != nil {
		s.log.WithError(err).Warn("force_disengage request failed")
	}
}

func (s *Service) pubState(level, status string) {
	s.conn.Publish(s.conn.NewMessage(bus.T("watchdog", "state"),
		types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}, true))
}
