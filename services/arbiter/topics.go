package arbiter

import "mads-go/bus"

// Topic layout:
//
//	vehicle/signal/frame        retained SignalFrame (producer)
//	vehicle/button/steering     retained ButtonSample
//	vehicle/button/main         retained ButtonSample
//	mads/verdict                retained Verdict
//	mads/snapshot               retained Snapshot
//	mads/event/<tag>            events
//	mads/control/<verb>         request/reply
//	arbiter/state               retained ServiceState

func TopicSignalFrame() bus.Topic    { return bus.T("vehicle", "signal", "frame") }
func TopicSteeringButton() bus.Topic { return bus.T("vehicle", "button", "steering") }
func TopicMainButton() bus.Topic     { return bus.T("vehicle", "button", "main") }

func TopicVerdict() bus.Topic  { return bus.T("mads", "verdict") }
func TopicSnapshot() bus.Topic { return bus.T("mads", "snapshot") }

func TopicEvent(tag string) bus.Topic { return bus.T("mads", "event", tag) }

func TopicControl(verb string) bus.Topic { return bus.T("mads", "control", verb) }
func ctrlWildcard() bus.Topic            { return bus.T("mads", "control", bus.SingleWildcard) }

func topicState() bus.Topic { return bus.T("arbiter", "state") }

const (
	EventDisengage = "disengage"
	EventEngage    = "engage"

	VerbForceDisengage = "force_disengage"
	VerbStatus         = "status"
	VerbReset          = "reset"
)
