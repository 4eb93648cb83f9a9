// cmd/madsd/main.go
//
// madsd runs the MADS arbitration plane: the bus, the arbiter, the signal
// watchdog, the operator console and the telemetry server. Vehicle signal
// producers attach to the same bus and publish retained frames on
// vehicle/signal/frame and button samples on vehicle/button/{steering,main}.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/services/arbiter"
	"mads-go/services/config"
	"mads-go/services/console"
	"mads-go/services/telemetry"
	"mads-go/services/watchdog"
)

func main() {
	cfgPath := flag.String("config", "", "path to madsd.yaml (default: search ./, /etc/mads)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(8)
	config.Publish(b.NewConnection("config"), log.WithField("service", "config"), cfg)

	arb := arbiter.New(b.NewConnection("arbiter"), log.WithField("service", "arbiter"), cfg.Arbiter)
	wd := watchdog.New(b.NewConnection("watchdog"), log.WithField("service", "watchdog"), cfg.Watchdog)
	con := console.New(b.NewConnection("console"), log.WithField("service", "console"), cfg.Console)
	tel := telemetry.New(b.NewConnection("telemetry"), log.WithField("service", "telemetry"), cfg.Telemetry)

	go wd.Run(ctx)
	go con.Run(ctx)
	go tel.Run(ctx)

	log.Info("madsd up")
	arb.Run(ctx) // blocks; owns the state machine
	log.Info("madsd stopped")
}
