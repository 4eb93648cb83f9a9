// services/console/console.go
package console

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/errcode"
	"mads-go/services/arbiter"
	"mads-go/services/internal/payload"
	"mads-go/types"
)

const (
	defaultListen  = "127.0.0.1:9430"
	requestTimeout = 500 * time.Millisecond
)

// Service is the operator console: a TCP line protocol, one goroutine per
// connection. Commands are tokenised with shlex and served via
// request/reply against the arbiter.
//
//	status
//	disengage <reason>
//	reset <enabled> <disengage_on_brake>
//	watch
//	quit
type Service struct {
	conn *bus.Connection
	log  *logrus.Entry
	addr string
}

func New(conn *bus.Connection, log *logrus.Entry, cfg types.ConsoleConfig) *Service {
	addr := cfg.Listen
	if addr == "" {
		addr = defaultListen
	}
	return &Service{conn: conn, log: log, addr: addr}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.WithError(err).Error("console listen failed")
		s.pubState("error", "listen_failed")
		return
	}
	s.pubState("ready", s.addr)
	s.log.WithField("addr", s.addr).Info("console listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			s.pubState("stopped", "listener_closed")
			return
		}
		go s.handleConn(ctx, c)
	}
}

func (s *Service) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()
	sc := bufio.NewScanner(c)
	for sc.Scan() {
		argv, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Fprintf(c, "err %s\n", errcode.InvalidParams)
			continue
		}
		if len(argv) == 0 {
			continue
		}
		if argv[0] == "watch" {
			s.watch(ctx, c)
			continue
		}
		line, quit := s.Execute(ctx, argv)
		fmt.Fprintln(c, line)
		if quit {
			return
		}
	}
}

// Execute runs one non-streaming command and renders a single reply line.
func (s *Service) Execute(ctx context.Context, argv []string) (line string, quit bool) {
	switch argv[0] {
	case "quit":
		return "bye", true

	case "status":
		snap, code := s.requestStatus(ctx)
		if code != "" {
			return "err " + string(code), false
		}
		return renderSnapshot(snap), false

	case "disengage":
		if len(argv) != 2 {
			return "err " + string(errcode.InvalidParams), false
		}
		r := types.Reason(argv[1])
		if !r.IsValid() || r == types.ReasonNone {
			return "err " + string(errcode.UnknownReason), false
		}
		return s.requestOK(ctx, arbiter.VerbForceDisengage, types.ForceDisengage{Reason: r}), false

	case "reset":
		if len(argv) != 3 {
			return "err " + string(errcode.InvalidParams), false
		}
		enabled, err1 := strconv.ParseBool(argv[1])
		onBrake, err2 := strconv.ParseBool(argv[2])
		if err1 != nil || err2 != nil {
			return "err " + string(errcode.InvalidParams), false
		}
		return s.requestOK(ctx, arbiter.VerbReset,
			types.ResetReq{Enabled: enabled, DisengageLateralOnBrake: onBrake}), false

	default:
		return "err " + string(errcode.Unsupported), false
	}
}

// watch streams verdict changes to the client until it disconnects.
func (s *Service) watch(ctx context.Context, c net.Conn) {
	sub := s.conn.Subscribe(arbiter.TopicVerdict())
	defer s.conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			v, code := payload.As[types.Verdict](m.Payload)
			if code != "" {
				continue
			}
			if _, err := fmt.Fprintf(c, "verdict allowed=%t reason=%s\n", v.LateralAllowed, v.Reason); err != nil {
				return
			}
		}
	}
}

func (s *Service) requestStatus(ctx context.Context) (types.Snapshot, errcode.Code) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	m, err := s.conn.RequestWait(rctx, s.conn.NewMessage(
		arbiter.TopicControl(arbiter.VerbStatus), nil, false))
	if err != nil {
		return types.Snapshot{}, errcode.Timeout
	}
	return payload.As[types.Snapshot](m.Payload)
}

func (s *Service) requestOK(ctx context.Context, verb string, p any) string {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	m, err := s.conn.RequestWait(rctx, s.conn.NewMessage(arbiter.TopicControl(verb), p, false))
	if err != nil {
		return "err " + string(errcode.Timeout)
	}
	if e, code := payload.As[types.ErrorReply](m.Payload); code == "" && !e.OK {
		return "err " + e.Error
	}
	return "ok"
}

func renderSnapshot(snap types.Snapshot) string {
	return fmt.Sprintf(
		"substate=%s allowed=%t requested=%t reason=%s prev_reason=%s braking=%t enabled=%t brake_policy=%t flags=%d",
		snap.Substate, snap.AllowedLat, snap.RequestedLat,
		snap.CurrentReason, snap.PreviousReason, snap.IsBraking,
		snap.SystemEnabled, snap.DisengageLateralOnBrake, snap.StateFlags)
}

func (s *Service) pubState(level, status string) {
	s.conn.Publish(s.conn.NewMessage(bus.T("console", "state"),
		types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}, true))
}
