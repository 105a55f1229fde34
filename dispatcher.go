package battleye

import (
	"time"

	"github.com/iamalone98/eventEmitter"
)

// Event names accepted by On/WaitFor.
const (
	EventLogin              = "login"
	EventMessage            = "message"
	EventCommand            = "command"
	EventRaw                = "raw_event"
	EventAdminLogin         = "admin_login"
	EventAdminMessage       = "admin_message"
	EventAdminAnnouncement  = "admin_announcement"
	EventAdminWhisper       = "admin_whisper"
	EventPlayerConnect      = "player_connect"
	EventPlayerGUID         = "player_guid"
	EventPlayerVerifyGUID   = "player_verify_guid"
	EventPlayerDisconnect   = "player_disconnect"
	EventPlayerKick         = "player_kick"
	EventPlayerMessage      = "player_message"
)

// Dispatcher maps parsed protocol/text events onto user callbacks. It is
// a thin wrapper over iamalone98/eventEmitter: On registers a callback,
// dispatch invokes every registered callback for a name, one event at a
// time, from the connector's receive loop.
type Dispatcher struct {
	emitter eventEmitter.EventEmitter
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{emitter: eventEmitter.NewEventEmitter()}
}

// On registers fn to run whenever event is dispatched.
func (d *Dispatcher) On(event string, fn func(interface{})) {
	d.emitter.On(event, fn)
}

// dispatch emits event with payload to every registered listener.
func (d *Dispatcher) dispatch(event string, payload interface{}) {
	d.emitter.Emit(event, payload)
}

// WaitFor blocks until event is dispatched with a payload matching
// predicate (or any payload, if predicate is nil), or timeout elapses.
// It returns the matching payload and true, or nil and false on timeout.
func (d *Dispatcher) WaitFor(event string, predicate func(interface{}) bool, timeout time.Duration) (interface{}, bool) {
	result := make(chan interface{}, 1)

	var handle func(interface{})
	handle = func(payload interface{}) {
		if predicate == nil || predicate(payload) {
			select {
			case result <- payload:
			default:
			}
		}
	}
	d.On(event, handle)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case payload := <-result:
		return payload, true
	case <-t.C:
		return nil, false
	}
}
