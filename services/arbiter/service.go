// services/arbiter/service.go
package arbiter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/errcode"
	"mads-go/mads"
	"mads-go/services/internal/payload"
	"mads-go/types"
)

const defaultTickHz = 100

// Service owns the mads.State and is its only writer. Signal topics are
// latched between ticks; the tick timer drives the arbitration update; the
// verdict, snapshot and events are published from this goroutine only.
type Service struct {
	conn *bus.Connection
	log  *logrus.Entry
	cfg  types.ArbiterConfig

	st    *mads.State
	frame types.SignalFrame

	lastVerdict  types.Verdict
	haveVerdict  bool
	lastSnapshot types.Snapshot
	haveSnapshot bool
}

func New(conn *bus.Connection, log *logrus.Entry, cfg types.ArbiterConfig) *Service {
	if cfg.TickHz == 0 {
		cfg.TickHz = defaultTickHz
	}
	return &Service{
		conn: conn,
		log:  log,
		cfg:  cfg,
		st:   mads.NewFromFlags(cfg.Flags),
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	frameSub := s.conn.Subscribe(TopicSignalFrame())
	steerSub := s.conn.Subscribe(TopicSteeringButton())
	mainSub := s.conn.Subscribe(TopicMainButton())
	ctrlSub := s.conn.Subscribe(ctrlWildcard())
	defer s.conn.Unsubscribe(frameSub)
	defer s.conn.Unsubscribe(steerSub)
	defer s.conn.Unsubscribe(mainSub)
	defer s.conn.Unsubscribe(ctrlSub)

	period := time.Second / time.Duration(s.cfg.TickHz)
	tick := time.NewTicker(period)
	defer tick.Stop()

	s.pubState("ready", "")
	s.log.WithField("tick_hz", s.cfg.TickHz).Info("arbiter running")

	for {
		select {
		case <-ctx.Done():
			s.pubState("stopped", "context_cancelled")
			return

		case m := <-frameSub.Channel():
			if f, code := payload.As[types.SignalFrame](m.Payload); code == "" {
				s.frame = f
			}

		case m := <-steerSub.Channel():
			if b, code := payload.As[types.ButtonSample](m.Payload); code == "" {
				s.st.SetSteeringToggle(b.State)
			}

		case m := <-mainSub.Channel():
			if b, code := payload.As[types.ButtonSample](m.Payload); code == "" {
				s.st.SetMainButton(b.State)
			}

		case m := <-ctrlSub.Channel():
			s.handleControl(m)

		case <-tick.C:
			s.st.Tick(mads.Inputs{
				VehicleMoving:       s.frame.VehicleMoving,
				MainCruise:          s.frame.MainCruise,
				BrakePressed:        s.frame.BrakePressed,
				LongitudinalAllowed: s.frame.LongitudinalAllowed,
			})
			s.publishDeltas()
		}
	}
}

// publishDeltas emits retained verdict/snapshot updates, suppressed when
// unchanged, plus engage/disengage events on grant flips.
func (s *Service) publishDeltas() {
	now := time.Now().UnixMilli()

	v := types.Verdict{
		LateralAllowed: s.st.LateralAllowed(),
		Reason:         s.st.DisengageReason(),
		TS:             now,
	}
	if !s.haveVerdict || v.LateralAllowed != s.lastVerdict.LateralAllowed || v.Reason != s.lastVerdict.Reason {
		if s.haveVerdict && v.LateralAllowed != s.lastVerdict.LateralAllowed {
			if v.LateralAllowed {
				s.conn.Publish(s.conn.NewMessage(TopicEvent(EventEngage),
					types.EngageEvent{Cleared: s.st.PreviousDisengageReason(), TS: now}, false))
				s.log.WithField("cleared", s.st.PreviousDisengageReason()).Info("lateral engaged")
			} else {
				s.conn.Publish(s.conn.NewMessage(TopicEvent(EventDisengage),
					types.DisengageEvent{Reason: v.Reason, Previous: s.st.PreviousDisengageReason(), TS: now}, false))
				s.log.WithField("reason", v.Reason).Warn("lateral disengaged")
			}
		}
		s.conn.Publish(s.conn.NewMessage(TopicVerdict(), v, true))
		s.lastVerdict = v
		s.haveVerdict = true
	}

	snap := s.st.Snapshot()
	if !s.haveSnapshot || snap != s.lastSnapshot {
		s.conn.Publish(s.conn.NewMessage(TopicSnapshot(), snap, true))
		s.lastSnapshot = snap
		s.haveSnapshot = true
	}
}

// handleControl serves mads/control/<verb> requests. Strictly non-blocking.
func (s *Service) handleControl(m *bus.Message) {
	verb := m.Topic.At(2)
	switch verb {
	case VerbForceDisengage:
		fd, code := payload.As[types.ForceDisengage](m.Payload)
		if code != "" {
			s.replyErr(m, code)
			return
		}
		if !fd.Reason.IsValid() || fd.Reason == types.ReasonNone {
			s.replyErr(m, errcode.UnknownReason)
			return
		}
		s.st.ForceDisengage(fd.Reason)
		s.publishDeltas()
		s.replyOK(m)

	case VerbStatus:
		s.conn.Reply(m, s.st.Snapshot(), false)

	case VerbReset:
		r, code := payload.As[types.ResetReq](m.Payload)
		if code != "" {
			s.replyErr(m, code)
			return
		}
		s.st.Reset(r.Enabled, r.DisengageLateralOnBrake)
		s.frame = types.SignalFrame{}
		s.publishDeltas()
		s.replyOK(m)

	default:
		s.replyErr(m, errcode.Unsupported)
	}
}

func (s *Service) replyOK(m *bus.Message) {
	s.conn.Reply(m, types.OKReply{OK: true}, false)
}

func (s *Service) replyErr(m *bus.Message, code errcode.Code) {
	s.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func (s *Service) pubState(level, status string) {
	s.conn.Publish(s.conn.NewMessage(topicState(),
		types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}, true))
}
