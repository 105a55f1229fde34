package battleye

import (
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
)

// constantTimeEqual compares two strings without leaking timing
// information about where they first differ.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ClientState is the authentication state of a client-role Engine.
type ClientState int

const (
	// Authenticating is the initial state: the engine has sent (or is
	// about to send) a ClientLogin and is waiting for ServerLogin.
	Authenticating ClientState = iota
	// LoggedIn is reached once the server accepts the client's
	// credentials. The engine never transitions back on its own; only
	// Reset (invoked by the connector on server timeout) does so.
	LoggedIn
)

func (s ClientState) String() string {
	if s == LoggedIn {
		return "logged-in"
	}
	return "authenticating"
}

// pendingCommand tracks the chunks received so far for a command this
// engine issued, keyed by sequence number.
type pendingCommand struct {
	total  byte // 0 means "not yet known"
	chunks map[byte][]byte
}

// Engine is the sans-I/O BattlEye RCON state machine for the client
// role. It never touches a socket or a clock: it is driven entirely by
// ReceiveDatagram and the handful of command methods below, and its
// output is collected by draining EventsReceived/PacketsToSend.
type Engine struct {
	// mu guards every field below. The engine's logic is clock-free and
	// socket-free, but it is not goroutine-free: a Connector drives it
	// from its receive loop, its run loop (reconnect), and the
	// Commander's per-command goroutines at once.
	mu sync.Mutex

	state        ClientState
	nextSequence byte
	pendingCmds  map[byte]*pendingCommand
	nonce        *nonceCheck
	events       []Event
	outbox       []*Packet
}

// NewEngine returns a client-role Engine with the default nonce window
// (5 recent sequences).
func NewEngine() *Engine {
	return NewEngineWithNonceWindow(defaultNonceWindow)
}

// NewEngineWithNonceWindow returns a client-role Engine whose
// duplicate-message window holds the given number of recent sequences.
func NewEngineWithNonceWindow(window int) *Engine {
	e := &Engine{}
	e.nonce = newNonceCheck(window)
	e.Reset()
	return e
}

// Reset returns the engine to Authenticating and discards all queued
// state: pending commands, the nonce window, and any undrained
// events/packets. This is the only way to leave LoggedIn besides a
// successful re-login after Reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Authenticating
	e.nextSequence = 0
	e.pendingCmds = make(map[byte]*pendingCommand)
	e.nonce.Reset()
	e.events = nil
	e.outbox = nil
}

// State returns the engine's current authentication state.
func (e *Engine) State() ClientState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Authenticate returns the ClientLogin packet for password. It may only
// be called while Authenticating.
func (e *Engine) Authenticate(password string) (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Authenticating {
		return nil, &InvalidStateError{Current: e.state.String(), Expected: Authenticating.String()}
	}
	return NewClientLogin(password), nil
}

// SendCommand allocates the next sequence number, registers bookkeeping
// to collect its (possibly multipart) response, and returns the
// ClientCommand packet to transmit. The same packet must be reused on
// retransmit so the sequence number does not change.
func (e *Engine) SendCommand(command string) (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != LoggedIn {
		return nil, &InvalidStateError{Current: e.state.String(), Expected: LoggedIn.String()}
	}
	seq := e.nextSequence
	e.nextSequence++
	e.pendingCmds[seq] = &pendingCommand{chunks: make(map[byte][]byte)}
	return NewClientCommand(seq, command), nil
}

// InvalidateCommand drops any bookkeeping for a command's sequence
// number, e.g. after the commander exhausts its retry attempts. It is
// idempotent.
func (e *Engine) InvalidateCommand(seq byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pendingCmds, seq)
}

// ReceiveDatagram decodes raw and drives the state machine, appending
// any resulting events and outbound packets to the engine's queues.
func (e *Engine) ReceiveDatagram(raw []byte) (*Packet, error) {
	packet, err := Decode(raw, false)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch packet.Type {
	case loginType:
		if err := e.handleServerLogin(packet); err != nil {
			return nil, err
		}
	case commandType:
		if err := e.handleServerCommand(packet); err != nil {
			return nil, err
		}
	case serverMessageType:
		if err := e.handleServerMessage(packet); err != nil {
			return nil, err
		}
	}
	return packet, nil
}

func (e *Engine) handleServerLogin(p *Packet) error {
	if e.state != Authenticating {
		return &InvalidStateError{Current: e.state.String(), Expected: Authenticating.String()}
	}
	if p.Success {
		e.state = LoggedIn
	}
	e.events = append(e.events, AuthEvent{Success: p.Success})
	return nil
}

func (e *Engine) handleServerCommand(p *Packet) error {
	if e.state != LoggedIn {
		return &InvalidStateError{Current: e.state.String(), Expected: LoggedIn.String()}
	}

	pc, ok := e.pendingCmds[p.Sequence]
	if !ok {
		return fmt.Errorf("%w: sequence %d", errUnexpectedCommandSequence, p.Sequence)
	}
	if _, dup := pc.chunks[p.Index]; dup {
		return fmt.Errorf("%w: index %d (sequence %d)", errDuplicateCommandIndex, p.Index, p.Sequence)
	}
	if pc.total != 0 && pc.total != p.Total {
		return fmt.Errorf("%w: got %d, expected %d (sequence %d)", errMismatchedCommandTotal, p.Total, pc.total, p.Sequence)
	}
	pc.total = p.Total
	pc.chunks[p.Index] = p.Response

	if byte(len(pc.chunks)) < pc.total {
		return nil
	}

	joined := joinChunks(pc.chunks, pc.total)
	delete(e.pendingCmds, p.Sequence)
	e.events = append(e.events, CommandEvent{Sequence: p.Sequence, Message: joined})
	return nil
}

func joinChunks(chunks map[byte][]byte, total byte) string {
	ordered := make([][]byte, total)
	for i := byte(0); i < total; i++ {
		ordered[i] = chunks[i]
	}
	size := 0
	for _, c := range ordered {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range ordered {
		out = append(out, c...)
	}
	return string(out)
}

func (e *Engine) handleServerMessage(p *Packet) error {
	if e.state != LoggedIn {
		return &InvalidStateError{Current: e.state.String(), Expected: LoggedIn.String()}
	}

	if e.nonce.Check(p.Sequence) {
		e.events = append(e.events, MessageEvent{Message: string(p.Message)})
	}
	// Acknowledgement is always sent, duplicate or not.
	e.outbox = append(e.outbox, NewClientMessage(p.Sequence))
	return nil
}

// EventsReceived drains and returns every event produced since the last
// call.
func (e *Engine) EventsReceived() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

// PacketsToSend drains and returns every packet queued for
// transmission since the last call.
func (e *Engine) PacketsToSend() []*Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.outbox
	e.outbox = nil
	return out
}

// ServerState is the authentication state of a server-role Engine.
type ServerState int

const (
	serverAuthenticating ServerState = iota
	serverLoggedIn
)

func (s ServerState) String() string {
	if s == serverLoggedIn {
		return "logged-in"
	}
	return "authenticating"
}

// ServerEngine is the sans-I/O mirror of Engine for the server role: it
// authenticates a single client, chunks command responses, and tracks
// which broadcast messages remain unacknowledged. It backs the
// in-process mock server used by this repository's tests, and is
// exported so a standalone game-server implementation can reuse the
// same wire-level state machine.
type ServerEngine struct {
	// mu guards every field below, for the same reason Engine needs one:
	// the mock server's serve loop and the test goroutines calling
	// Broadcast/SendMessage touch this engine from different goroutines.
	mu sync.Mutex

	password  string
	chunkSize int

	state        ServerState
	nextSequence byte
	nonce        *nonceCheck
	pendingMsgs  map[byte]struct{}
	events       []Event
	outbox       []*Packet
}

// NewServerEngine returns a ServerEngine that authenticates clients
// against password and splits long command responses into chunkSize
// byte pieces. A chunkSize <= 0 uses the protocol's common default of
// 512 bytes (the wire format does not prescribe one).
func NewServerEngine(password string, chunkSize int) *ServerEngine {
	if chunkSize <= 0 {
		chunkSize = defaultResponseChunkSize
	}
	s := &ServerEngine{password: password, chunkSize: chunkSize}
	s.nonce = newNonceCheck(defaultNonceWindow)
	s.Reset()
	return s
}

// Reset returns the server engine to its initial, unauthenticated
// state.
func (s *ServerEngine) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = serverAuthenticating
	s.nextSequence = 0
	s.pendingMsgs = make(map[byte]struct{})
	s.nonce.Reset()
	s.events = nil
	s.outbox = nil
}

// State returns the server engine's current authentication state.
func (s *ServerEngine) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TryAuthenticate compares password (in constant time) against the
// engine's configured password and returns the ServerLogin packet to
// send back. A client may re-attempt authentication at any time.
func (s *ServerEngine) TryAuthenticate(password string) *Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryAuthenticateLocked(password)
}

func (s *ServerEngine) tryAuthenticateLocked(password string) *Packet {
	success := constantTimeEqual(password, s.password)
	if success {
		s.state = serverLoggedIn
	} else {
		s.state = serverAuthenticating
	}
	return NewServerLogin(success)
}

// RespondToCommand returns the packet(s) needed to deliver text as the
// response to the command identified by sequence, chunked to the
// engine's configured chunk size.
func (s *ServerEngine) RespondToCommand(sequence byte, text string) []*Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := []byte(text)
	if len(body) == 0 {
		return []*Packet{NewServerCommand(sequence, 1, 0, nil)}
	}

	var chunks [][]byte
	for i := 0; i < len(body); i += s.chunkSize {
		end := i + s.chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[i:end])
	}

	total := byte(len(chunks))
	packets := make([]*Packet, total)
	for i, c := range chunks {
		packets[i] = NewServerCommand(sequence, total, byte(i), c)
	}
	return packets
}

// SendMessage allocates the next sequence number and returns the
// ServerMessage packet to broadcast. The caller should retain the
// returned packet and retransmit it as-is until the client
// acknowledges it.
func (s *ServerEngine) SendMessage(text string) (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != serverLoggedIn {
		return nil, &InvalidStateError{Current: s.state.String(), Expected: serverLoggedIn.String()}
	}
	seq := s.nextSequence
	s.nextSequence++
	s.pendingMsgs[seq] = struct{}{}
	return NewServerMessage(seq, []byte(text)), nil
}

// ReceiveDatagram decodes a client-originated packet and drives the
// server-role state machine.
func (s *ServerEngine) ReceiveDatagram(raw []byte) (*Packet, error) {
	packet, err := Decode(raw, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch packet.Type {
	case loginType:
		resp := s.tryAuthenticateLocked(packet.Password)
		s.events = append(s.events, ServerAuthEvent{Success: resp.Success})
		s.outbox = append(s.outbox, resp)
	case commandType:
		if s.state != serverLoggedIn {
			return nil, &InvalidStateError{Current: s.state.String(), Expected: serverLoggedIn.String()}
		}
		if s.nonce.Check(packet.Sequence) {
			s.events = append(s.events, ServerCommandEvent{Sequence: packet.Sequence, Command: packet.Command})
		}
	case serverMessageType:
		if s.state != serverLoggedIn {
			return nil, &InvalidStateError{Current: s.state.String(), Expected: serverLoggedIn.String()}
		}
		if _, ok := s.pendingMsgs[packet.Sequence]; !ok {
			return nil, fmt.Errorf("battleye: unexpected message acknowledgement (sequence %d)", packet.Sequence)
		}
		delete(s.pendingMsgs, packet.Sequence)
		s.events = append(s.events, ServerMessageEvent{Sequence: packet.Sequence})
	}
	return packet, nil
}

// EventsReceived drains and returns every event produced since the last
// call.
func (s *ServerEngine) EventsReceived() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// PacketsToSend drains and returns every packet queued for
// transmission since the last call.
func (s *ServerEngine) PacketsToSend() []*Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

// pendingSequences returns the sorted sequence numbers still awaiting
// acknowledgement, primarily useful for tests.
func (s *ServerEngine) pendingSequences() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, len(s.pendingMsgs))
	for seq := range s.pendingMsgs {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
