package battleye

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const mockReadBufferSize = 1500

// mockServer is a minimal BattlEye RCON server used to exercise the
// Connector end-to-end, driven by ServerEngine instead of hand-rolled
// byte encoding.
type mockServer struct {
	Addr string

	pc     net.PacketConn
	t      *testing.T
	engine *ServerEngine

	mu       sync.Mutex
	client   net.Addr
	handlers map[string]string
	deny     bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newMockServer(t *testing.T, password string) *mockServer {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if !assert.NoError(t, err) {
		return nil
	}
	return &mockServer{
		Addr:     pc.LocalAddr().String(),
		pc:       pc,
		t:        t,
		engine:   NewServerEngine(password, 0),
		handlers: make(map[string]string),
		done:     make(chan struct{}),
	}
}

// OnCommand registers the text response returned for command.
func (s *mockServer) OnCommand(command, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = response
}

// DenyLogin makes every future login attempt fail.
func (s *mockServer) DenyLogin(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deny = deny
}

func (s *mockServer) Start() {
	s.wg.Add(1)
	go s.serve()
}

func (s *mockServer) Close() {
	close(s.done)
	s.wg.Wait()
	s.pc.Close() // nolint: errcheck
}

// Broadcast sends a server message to the last known client. The
// message is sent once; tests that need delivery guarantees poll on the
// client side.
func (s *mockServer) Broadcast(text string) {
	packet, err := s.engine.SendMessage(text)
	if !assert.NoError(s.t, err) {
		return
	}
	s.send(packet)
}

func (s *mockServer) send(p *Packet) {
	raw, err := Encode(p)
	if !assert.NoError(s.t, err) {
		return
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	_, _ = s.pc.WriteTo(raw, client)
}

func (s *mockServer) serve() {
	defer s.wg.Done()
	buf := make([]byte, mockReadBufferSize)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pc.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return
		}
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		s.mu.Lock()
		s.client = addr
		deny := s.deny
		s.mu.Unlock()

		raw := make([]byte, n)
		copy(raw, buf[:n])

		if deny {
			pkt, err := Decode(raw, true)
			if err == nil && pkt.Type == loginType {
				resp := NewServerLogin(false)
				s.send(resp)
				continue
			}
		}

		if _, err := s.engine.ReceiveDatagram(raw); err != nil {
			continue
		}
		s.handleEvents()
		for _, p := range s.engine.PacketsToSend() {
			s.send(p)
		}
	}
}

func (s *mockServer) handleEvents() {
	for _, ev := range s.engine.EventsReceived() {
		cmdEv, ok := ev.(ServerCommandEvent)
		if !ok {
			continue
		}
		s.mu.Lock()
		resp, ok := s.handlers[cmdEv.Command]
		s.mu.Unlock()
		if !ok {
			resp = ""
		}
		for _, p := range s.engine.RespondToCommand(cmdEv.Sequence, resp) {
			s.send(p)
		}
	}
}
