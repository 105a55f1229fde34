package battleye

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// disallowedCommandText is the literal response text the server sends
// back for a command the admin is not permitted to run. A Commander
// surfaces it as a CommandError rather than the raw string.
const disallowedCommandText = "Disallowed command"

// Transport is the narrow sending surface the Commander needs. The
// Connector is the production implementation; tests may substitute a
// fake to exercise retry behavior without a socket.
type Transport interface {
	Send(p *Packet) error
}

type commandResult struct {
	text string
}

// Commander turns a user-issued command string into a ClientCommand
// packet, hands it to a Transport, and retries on a per-attempt timeout
// until the protocol engine reports a matching CommandEvent (delivered
// via Settle) or the attempt budget is exhausted.
//
// Exactly one waiter exists per in-flight sequence number: the waiter
// channel is installed before the packet reaches the transport, so a
// CommandEvent arriving between "packet sent" and "waiter registered"
// cannot be missed.
type Commander struct {
	engine            *Engine
	transport         Transport
	attempts          int
	perAttemptTimeout time.Duration
	log               *logrus.Entry

	mu      sync.Mutex
	waiters map[byte]chan commandResult
}

// NewCommander returns a Commander bound to engine and transport.
func NewCommander(engine *Engine, transport Transport, attempts int, perAttemptTimeout time.Duration, log *logrus.Entry) *Commander {
	if attempts <= 0 {
		attempts = defaultCommandAttempts
	}
	if perAttemptTimeout <= 0 {
		perAttemptTimeout = defaultPerAttemptTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Commander{
		engine:            engine,
		transport:         transport,
		attempts:          attempts,
		perAttemptTimeout: perAttemptTimeout,
		log:               log,
		waiters:           make(map[byte]chan commandResult),
	}
}

// Settle delivers a CommandEvent's joined text to whichever goroutine is
// waiting on its sequence number, if any. A settle for a sequence with
// no waiter (already timed out, already invalidated, or unsolicited) is
// dropped silently.
func (c *Commander) Settle(seq byte, text string) {
	c.mu.Lock()
	ch, ok := c.waiters[seq]
	if ok {
		delete(c.waiters, seq)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- commandResult{text: text}:
	default:
	}
}

// Exec sends command, retrying up to attempts times with
// perAttemptTimeout between tries, and returns the server's joined
// response text.
func (c *Commander) Exec(command string) (string, error) {
	packet, err := c.engine.SendCommand(command)
	if err != nil {
		return "", err
	}
	seq := packet.Sequence

	for attempt := 1; attempt <= c.attempts; attempt++ {
		ch := make(chan commandResult, 1)
		c.mu.Lock()
		c.waiters[seq] = ch
		c.mu.Unlock()

		if err := c.transport.Send(packet); err != nil {
			c.mu.Lock()
			delete(c.waiters, seq)
			c.mu.Unlock()
			c.engine.InvalidateCommand(seq)
			return "", err
		}

		select {
		case res := <-ch:
			if res.text == disallowedCommandText {
				return "", &CommandError{Command: command, Reason: disallowedCommandText}
			}
			return res.text, nil
		case <-time.After(c.perAttemptTimeout):
			c.mu.Lock()
			delete(c.waiters, seq)
			c.mu.Unlock()
			c.log.WithFields(logrus.Fields{"seq": seq, "attempt": attempt}).Warn("battleye: command attempt timed out")
		}
	}

	c.engine.InvalidateCommand(seq)
	return "", &CommandError{Command: command, Reason: "exhausted retry attempts"}
}
