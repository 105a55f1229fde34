package battleye

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testConnectorConfig() ConnectorConfig {
	cfg := DefaultConnectorConfig()
	cfg.RunInterval = 20 * time.Millisecond
	cfg.KeepAliveInterval = 50 * time.Millisecond
	cfg.PlayersInterval = 200 * time.Millisecond
	cfg.ConnectionTimeout = 200 * time.Millisecond
	cfg.PerAttemptTimeout = 200 * time.Millisecond
	cfg.InitialConnectAttempts = 3
	cfg.CommandAttempts = 2
	return cfg
}

func silentLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestConnector(t *testing.T, addr, password string, cfg ConnectorConfig) (*Connector, *Engine, *PlayerCache, *Dispatcher) {
	t.Helper()
	engine := NewEngine()
	cache := newPlayerCache(fakeCommands{}, silentLog())
	dispatcher := NewDispatcher()
	conn := NewConnector(addr, password, engine, cache, dispatcher, cfg, silentLog())
	return conn, engine, cache, dispatcher
}

func TestConnectorHappyLogin(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.Start()
	defer s.Close()

	conn, engine, _, _ := newTestConnector(t, s.Addr, "secret", testConnectorConfig())
	require.NoError(t, conn.Run())
	defer conn.Close()

	assert.Equal(t, LoggedIn, engine.State())
}

func TestConnectorDeniedLogin(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.DenyLogin(true)
	s.Start()
	defer s.Close()

	conn, _, _, _ := newTestConnector(t, s.Addr, "wrong", testConnectorConfig())
	err := conn.Run()
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestConnectorExecReturnsServerResponse(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.OnCommand("version", "BattlEye Server 1.234")
	s.Start()
	defer s.Close()

	conn, _, _, _ := newTestConnector(t, s.Addr, "secret", testConnectorConfig())
	require.NoError(t, conn.Run())
	defer conn.Close()

	resp, err := conn.Exec("version")
	require.NoError(t, err)
	assert.Equal(t, "BattlEye Server 1.234", resp)
}

func TestConnectorCacheWarmupOnAdminLogin(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.OnCommand("players", "Players:\n0   1.2.3.4:2302   10   abc(OK) Bob\n")
	s.Start()
	defer s.Close()

	conn, _, cache, _ := newTestConnector(t, s.Addr, "secret", testConnectorConfig())
	require.NoError(t, conn.Run())
	defer conn.Close()

	go s.Broadcast("RCon admin #3 (9.9.9.9:1) logged in")

	require.Eventually(t, func() bool {
		_, ok := cache.AdminID()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	id, ok := cache.AdminID()
	require.True(t, ok)
	assert.Equal(t, 3, id)

	require.Eventually(t, func() bool {
		_, ok := cache.ByID(0)
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConnectorServerTimeoutTriggersReauthentication(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.Start()
	defer s.Close()

	cfg := testConnectorConfig()
	cfg.LastReceivedTimeout = 100 * time.Millisecond
	// Starve the connection: after the keep-alive sent on the first tick,
	// nothing refreshes lastReceived for 10s, so the server-dead detection
	// must fire.
	cfg.KeepAliveInterval = 10 * time.Second
	conn, _, _, dispatcher := newTestConnector(t, s.Addr, "secret", cfg)

	var logins atomic.Int32
	dispatcher.On(EventLogin, func(payload interface{}) {
		if e, ok := payload.(AuthEvent); ok && e.Success {
			logins.Inc()
		}
	})

	require.NoError(t, conn.Run())
	defer conn.Close()

	require.Eventually(t, func() bool {
		return logins.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond, "expected a reset and re-authentication after the server went silent")
}

func TestConnectorIdleKeepAliveUpgradesToPlayersRefresh(t *testing.T) {
	s := newMockServer(t, "secret")
	require.NotNil(t, s)
	s.OnCommand("players", "Players:\n0   1.2.3.4:2302   10   abc(OK) Bob\n")
	s.Start()
	defer s.Close()

	cfg := testConnectorConfig()
	cfg.KeepAliveInterval = 50 * time.Millisecond
	cfg.PlayersInterval = 100 * time.Millisecond
	conn, _, cache, _ := newTestConnector(t, s.Addr, "secret", cfg)
	require.NoError(t, conn.Run())
	defer conn.Close()

	// No user commands are issued and no AdminLogin broadcast arrives, so
	// the cache can only be populated by an idle keep-alive upgraded to a
	// "players" refresh.
	require.Eventually(t, func() bool {
		_, ok := cache.ByID(0)
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
