package battleye

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ConnectorConfig tunes the Connector's timing. Zero values are
// replaced by the documented defaults in NewConnector.
type ConnectorConfig struct {
	RunInterval            time.Duration
	KeepAliveInterval      time.Duration
	PlayersInterval        time.Duration
	InitialConnectAttempts int
	ConnectionTimeout      time.Duration
	LastReceivedTimeout    time.Duration
	CommandAttempts        int
	PerAttemptTimeout      time.Duration
}

// DefaultConnectorConfig returns the Connector's documented defaults.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		RunInterval:            defaultRunInterval,
		KeepAliveInterval:      defaultKeepAliveInterval,
		PlayersInterval:        defaultPlayersInterval,
		InitialConnectAttempts: defaultInitialConnectTries,
		ConnectionTimeout:      defaultConnectionTimeout,
		LastReceivedTimeout:    lastReceivedTimeout,
		CommandAttempts:        defaultCommandAttempts,
		PerAttemptTimeout:      defaultPerAttemptTimeout,
	}
}

func (cfg *ConnectorConfig) applyDefaults() {
	d := DefaultConnectorConfig()
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = d.RunInterval
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = d.KeepAliveInterval
	}
	if cfg.PlayersInterval <= 0 {
		cfg.PlayersInterval = d.PlayersInterval
	}
	if cfg.InitialConnectAttempts <= 0 {
		cfg.InitialConnectAttempts = d.InitialConnectAttempts
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = d.ConnectionTimeout
	}
	if cfg.LastReceivedTimeout <= 0 {
		cfg.LastReceivedTimeout = d.LastReceivedTimeout
	}
	if cfg.CommandAttempts <= 0 {
		cfg.CommandAttempts = d.CommandAttempts
	}
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = d.PerAttemptTimeout
	}
}

// atomicTime is a lock-free time.Time, stored as Unix nanoseconds in a
// go.uber.org/atomic counter rather than behind a mutex. It backs the
// Connector's inactivity bookkeeping, which is read from the run loop
// and written from both the run loop and command goroutines.
type atomicTime struct {
	nanos atomic.Int64
}

func (t *atomicTime) Store(when time.Time) {
	t.nanos.Store(when.UnixNano())
}

func (t *atomicTime) Load() time.Time {
	n := t.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connector binds a protocol Engine to a UDP transport: it drives login
// with bounded retry and exponential backoff, sends keep-alive traffic
// on an inactivity timer, and detects a dead server by elapsed time
// since the last received datagram.
type Connector struct {
	cfg        ConnectorConfig
	addr       string
	password   string
	engine     *Engine
	cache      *PlayerCache
	dispatcher *Dispatcher
	log        *logrus.Entry

	pc         net.PacketConn
	remoteAddr net.Addr

	mu      sync.Mutex
	running bool
	stop    *shutdownSignal
	wg      sync.WaitGroup

	commander *Commander

	loginMu sync.Mutex
	loginCh chan bool

	lastReceived       atomicTime
	lastCommandSent    atomicTime
	lastPlayersRefresh atomicTime
}

// NewConnector returns a Connector for addr (host:port), not yet
// running. Call Run to bind the socket and authenticate.
func NewConnector(addr, password string, engine *Engine, cache *PlayerCache, dispatcher *Dispatcher, cfg ConnectorConfig, log *logrus.Entry) *Connector {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Connector{
		cfg:        cfg,
		addr:       addr,
		password:   password,
		engine:     engine,
		cache:      cache,
		dispatcher: dispatcher,
		log:        log,
		stop:       newShutdownSignal(),
	}
	c.commander = NewCommander(engine, c, cfg.CommandAttempts, cfg.PerAttemptTimeout, log)
	return c
}

// Exec runs command through the Commander, marking the moment of send
// for the keep-alive inactivity timer regardless of outcome.
func (c *Connector) Exec(command string) (string, error) {
	c.lastCommandSent.Store(time.Now())
	return c.commander.Exec(command)
}

// Send implements Transport by encoding p and writing it to the
// configured remote address. Exported so Commander can treat the
// Connector as its transport.
func (c *Connector) Send(p *Packet) error {
	raw, err := Encode(p)
	if err != nil {
		return err
	}
	if err := c.pc.SetWriteDeadline(time.Now().Add(c.cfg.ConnectionTimeout)); err != nil {
		return err
	}
	_, err = c.pc.WriteTo(raw, c.remoteAddr)
	return err
}

// Run binds the UDP socket, authenticates, and starts the background
// run loop. It is single-shot: a second call on an already-running
// Connector returns ErrAlreadyRunning. Run blocks until the initial
// login succeeds or is exhausted/denied; steady-state operation
// continues on a background goroutine after it returns.
func (c *Connector) Run() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.stop.Triggered() {
		c.mu.Unlock()
		return ErrClosed
	}
	c.running = true
	c.mu.Unlock()

	remoteAddr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		return err
	}
	c.remoteAddr = remoteAddr

	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return err
	}
	c.pc = pc

	c.wg.Add(1)
	go c.receiveLoop()

	if err := c.initialLogin(); err != nil {
		c.Close() // nolint: errcheck
		return err
	}
	c.lastReceived.Store(time.Now())

	c.wg.Add(1)
	go c.runLoop()
	c.wg.Add(1)
	go c.warmupCache()

	return nil
}

// Close signals the run loop to exit after its current tick and tears
// down the socket. It is idempotent.
func (c *Connector) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.stop.Trigger()
	c.wg.Wait()
	if c.pc != nil {
		return c.pc.Close()
	}
	return nil
}

// initialLogin performs the bounded-attempt login phase. An explicit
// ServerLogin{false} is fatal and returned immediately; exhausting every
// attempt without a response returns ErrTimeout.
func (c *Connector) initialLogin() error {
	for i := 0; i < c.cfg.InitialConnectAttempts; i++ {
		success, err := c.attemptLogin(c.cfg.ConnectionTimeout)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
	}
	return ErrTimeout
}

// attemptLogin sends one ClientLogin and waits up to timeout for the
// engine to report an AuthEvent. The completion channel is installed
// before the packet is handed to the transport, mirroring the
// Commander's lost-wakeup avoidance for the single login in flight.
func (c *Connector) attemptLogin(timeout time.Duration) (bool, error) {
	packet, err := c.engine.Authenticate(c.password)
	if err != nil {
		return false, err
	}

	ch := make(chan bool, 1)
	c.loginMu.Lock()
	c.loginCh = ch
	c.loginMu.Unlock()

	if err := c.Send(packet); err != nil {
		return false, err
	}

	select {
	case success := <-ch:
		if !success {
			return false, ErrLoginFailed
		}
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

// receiveLoop reads datagrams from the socket, filters by source
// address, and feeds everything from the expected remote into the
// protocol engine.
func (c *Connector) receiveLoop() {
	defer c.wg.Done()
	buf := make([]byte, defaultReadBufferSize)

	for {
		select {
		case <-c.stop.C():
			return
		default:
		}

		if err := c.pc.SetReadDeadline(time.Now().Add(c.cfg.RunInterval)); err != nil {
			return
		}
		n, addr, err := c.pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if c.stop.Triggered() {
				return
			}
			c.log.WithError(err).Warn("battleye: read error")
			continue
		}

		if c.remoteAddr != nil && addr.String() != c.remoteAddr.String() {
			continue
		}

		c.lastReceived.Store(time.Now())

		raw := make([]byte, n)
		copy(raw, buf[:n])
		if _, err := c.engine.ReceiveDatagram(raw); err != nil {
			c.log.WithError(err).WithField("addr", addr.String()).Warn("battleye: discarding malformed datagram")
			continue
		}
		c.drain()
	}
}

// drain dispatches every event and outbound packet the last
// ReceiveDatagram call produced.
func (c *Connector) drain() {
	for _, ev := range c.engine.EventsReceived() {
		c.dispatcher.dispatch(EventRaw, ev)

		switch e := ev.(type) {
		case AuthEvent:
			c.settleLogin(e.Success)
			c.dispatcher.dispatch(EventLogin, e)
		case CommandEvent:
			c.commander.Settle(e.Sequence, e.Message)
			c.dispatcher.dispatch(EventCommand, e)
		case MessageEvent:
			c.dispatcher.dispatch(EventMessage, e)
			c.handleMessageText(e.Message)
		}
	}

	for _, p := range c.engine.PacketsToSend() {
		if err := c.Send(p); err != nil {
			c.log.WithError(err).Warn("battleye: failed to send queued packet")
		}
	}
}

func (c *Connector) settleLogin(success bool) {
	c.loginMu.Lock()
	ch := c.loginCh
	c.loginCh = nil
	c.loginMu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- success:
	default:
	}
}

// handleMessageText runs a server broadcast through the message parser
// and fans its resulting text events out to the cache and dispatcher.
func (c *Connector) handleMessageText(text string) {
	events, err := ParseMessage(text, c.cache.ResolveName)
	if err != nil {
		c.log.WithField("text", text).Warn(err.Error())
		return
	}
	for _, te := range events {
		c.dispatchTextEvent(te)
	}
}

func (c *Connector) dispatchTextEvent(te TextEvent) {
	switch e := te.(type) {
	case AdminLoginEvent:
		c.dispatcher.dispatch(EventAdminLogin, e)
	case PlayerConnectEvent:
		c.cache.HandleConnect(e)
		c.dispatcher.dispatch(EventPlayerConnect, e)
	case PlayerGUIDEvent:
		c.cache.HandleGUID(e)
		c.dispatcher.dispatch(EventPlayerGUID, e)
	case PlayerVerifyGUIDEvent:
		c.cache.HandleVerifyGUID(e)
		c.dispatcher.dispatch(EventPlayerVerifyGUID, e)
	case PlayerDisconnectEvent:
		c.cache.HandleDisconnect(e.ID)
		c.dispatcher.dispatch(EventPlayerDisconnect, e)
	case PlayerKickEvent:
		c.cache.HandleDisconnect(e.ID)
		c.dispatcher.dispatch(EventPlayerKick, e)
	case AdminMessageEvent:
		c.dispatcher.dispatch(EventAdminMessage, e)
	case AdminAnnouncementEvent:
		c.dispatcher.dispatch(EventAdminAnnouncement, e)
	case AdminWhisperEvent:
		c.dispatcher.dispatch(EventAdminWhisper, e)
	case PlayerMessageEvent:
		c.dispatcher.dispatch(EventPlayerMessage, e)
	}
}

// warmupCache clears the cache on every fresh login, then waits up to
// adminLoginWarmupTimeout for the server to report an AdminLogin (the
// first one observed is taken as this client's) before issuing a "players" command to populate it. Failure to observe
// either is logged, not fatal: the cache simply stays empty until the
// next periodic refresh.
func (c *Connector) warmupCache() {
	defer c.wg.Done()
	c.cache.Clear()

	// Wait for AdminLogin without Dispatcher.WaitFor so Close can
	// interrupt the warmup instead of blocking until the window expires.
	observed := make(chan interface{}, 1)
	c.dispatcher.On(EventAdminLogin, func(payload interface{}) {
		select {
		case observed <- payload:
		default:
		}
	})

	var payload interface{}
	select {
	case payload = <-observed:
	case <-time.After(adminLoginWarmupTimeout):
		c.log.Warn("battleye: no admin_login observed within warmup window, cache stays empty")
		return
	case <-c.stop.C():
		return
	}
	e, ok := payload.(AdminLoginEvent)
	if !ok {
		return
	}
	c.cache.SetAdminID(e.ID)

	resp, err := c.Exec("players")
	if err != nil {
		c.log.WithError(err).Warn("battleye: players warmup command failed")
		return
	}
	c.lastPlayersRefresh.Store(time.Now())
	c.cache.ReconcileFromPlayers(ParsePlayers(resp))
}

// runLoop is the Connector's steady-state ticker: it watches for server
// timeout and drives the keep-alive/players-refresh cadence.
func (c *Connector) runLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.RunInterval)
	defer t.Stop()

	for {
		select {
		case <-c.stop.C():
			return
		case <-t.C:
			c.tick()
		}
	}
}

func (c *Connector) tick() {
	now := time.Now()
	if now.Sub(c.lastReceived.Load()) > c.cfg.LastReceivedTimeout {
		c.log.Warn("battleye: no datagram received within the timeout, resetting and re-authenticating")
		c.handleServerTimeout()
		return
	}
	if now.Sub(c.lastCommandSent.Load()) > c.cfg.KeepAliveInterval {
		c.sendKeepAlive()
	}
}

// sendKeepAlive issues an inactivity command: an empty command string
// ordinarily, or a "players" cache refresh once per PlayersInterval.
func (c *Connector) sendKeepAlive() {
	upgrade := time.Since(c.lastPlayersRefresh.Load()) > c.cfg.PlayersInterval
	cmd := ""
	if upgrade {
		cmd = "players"
	}

	go func() {
		resp, err := c.Exec(cmd)
		if err != nil {
			c.log.WithError(err).Warn("battleye: keep-alive command failed")
			return
		}
		if upgrade {
			c.lastPlayersRefresh.Store(time.Now())
			c.cache.ReconcileFromPlayers(ParsePlayers(resp))
		}
	}()
}

// handleServerTimeout resets the engine and cache, then re-authenticates
// with indefinite exponential backoff (2^(i mod 11) seconds) until the
// server accepts the password again, the server denies it (logged, and no
// further attempt is made), or Close is called.
func (c *Connector) handleServerTimeout() {
	c.engine.Reset()
	c.cache.Clear()

	for i := 0; ; i++ {
		if c.stop.Triggered() {
			return
		}

		success, err := c.attemptLogin(c.cfg.ConnectionTimeout)
		if err == nil && success {
			c.lastReceived.Store(time.Now())
			c.wg.Add(1)
			go c.warmupCache()
			return
		}
		if err == ErrLoginFailed {
			c.log.WithError(err).Error("battleye: reconnect denied, giving up")
			return
		}

		backoff := time.Duration(1<<uint(i%maxExponentialBackoffTries)) * exponentialBackoffUnitSleep
		select {
		case <-time.After(backoff):
		case <-c.stop.C():
			return
		}
	}
}
