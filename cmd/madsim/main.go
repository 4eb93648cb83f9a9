// cmd/madsim/main.go
//
// madsim replays a scripted input trace against a live in-process arbiter
// and prints every verdict change. It exists to exercise the full stack
// (bus, arbiter, events) without a vehicle attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"mads-go/bus"
	"mads-go/mads"
	"mads-go/services/arbiter"
	"mads-go/types"
)

// step is one tick's worth of scripted inputs. Button states stick until a
// later step changes them.
type step struct {
	frame    types.SignalFrame
	steering types.ButtonState
	main     types.ButtonState
	note     string
}

var scenarios = map[string][]step{
	"main-engage": {
		{frame: types.SignalFrame{}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "baseline"},
		{frame: types.SignalFrame{MainCruise: true}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "main rises"},
		{frame: types.SignalFrame{}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "main falls"},
	},
	"brake-while-moving": {
		{frame: types.SignalFrame{MainCruise: true}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "engage"},
		{frame: types.SignalFrame{MainCruise: true, BrakePressed: true, VehicleMoving: true}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "brake while moving"},
		{frame: types.SignalFrame{MainCruise: true, VehicleMoving: true}, steering: types.ButtonUnavailable, main: types.ButtonUnavailable, note: "brake released"},
	},
	"toggle-cycle": {
		{frame: types.SignalFrame{}, steering: types.ButtonPressed, main: types.ButtonUnavailable, note: "toggle press"},
		{frame: types.SignalFrame{}, steering: types.ButtonNotPressed, main: types.ButtonUnavailable, note: "toggle release"},
		{frame: types.SignalFrame{}, steering: types.ButtonPressed, main: types.ButtonUnavailable, note: "toggle press again"},
	},
}

func main() {
	name := flag.String("scenario", "main-engage", "scenario: main-engage | brake-while-moving | toggle-cycle")
	tickHz := flag.Uint("tick-hz", 100, "arbiter tick rate")
	flag.Parse()

	script, ok := scenarios[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *name)
		os.Exit(2)
	}
	if *tickHz == 0 {
		*tickHz = 100
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(8)
	arb := arbiter.New(b.NewConnection("arbiter"),
		log.WithField("service", "arbiter"),
		types.ArbiterConfig{Flags: mads.FlagEnableMADS, TickHz: uint32(*tickHz)})
	go arb.Run(ctx)

	sim := b.NewConnection("sim")
	verdicts := sim.Subscribe(arbiter.TopicVerdict())

	period := time.Second / time.Duration(*tickHz)
	for i, st := range script {
		sim.Publish(sim.NewMessage(arbiter.TopicSteeringButton(),
			types.ButtonSample{State: st.steering, TS: time.Now().UnixMilli()}, true))
		sim.Publish(sim.NewMessage(arbiter.TopicMainButton(),
			types.ButtonSample{State: st.main, TS: time.Now().UnixMilli()}, true))
		f := st.frame
		f.TS = time.Now().UnixMilli()
		sim.Publish(sim.NewMessage(arbiter.TopicSignalFrame(), f, true))

		// Give the arbiter a few ticks to absorb the step.
		time.Sleep(3 * period)

		fmt.Printf("step %d (%s):", i+1, st.note)
		drained := false
		for !drained {
			select {
			case m := <-verdicts.Channel():
				if v, ok := m.Payload.(types.Verdict); ok {
					fmt.Printf(" allowed=%t reason=%s", v.LateralAllowed, v.Reason)
				}
			default:
				drained = true
			}
		}
		fmt.Println()
	}
}
