package battleye

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// clientCommands adapts Client's public command methods to the narrow
// commandIssuer surface Player and Ban's helper methods need, so
// player.go can stay free of a direct *Client back-reference and no
// ownership cycle forms between the session, the cache, and its
// players.
type clientCommands struct{ c *Client }

func (a clientCommands) Kick(id int, reason string) (string, error) {
	return a.c.Kick(id, reason)
}

func (a clientCommands) Whisper(id int, message string) (string, error) {
	return a.c.Whisper(id, message)
}

func (a clientCommands) Ban(addrOrGUID string, durationMinutes int, reason string) (string, error) {
	return a.c.connector.Exec(fmt.Sprintf("addBan %s %d %s", addrOrGUID, durationMinutes, reason))
}

func (a clientCommands) Unban(index int) (string, error) {
	return a.c.Unban(index)
}

// Client is the user-facing BattlEye RCON session: it composes the
// protocol Engine, Commander, Connector, message parser, and
// PlayerCache behind a small command-and-event surface.
type Client struct {
	engine     *Engine
	cache      *PlayerCache
	dispatcher *Dispatcher
	connector  *Connector
	log        *logrus.Entry
}

// Connect authenticates to a BattlEye RCON server at host:port with
// password and returns a running Client. It fails with ErrLoginFailed
// if the server denies the password, with ErrTimeout if the bounded
// initial connect phase is exhausted without a response, or with the
// socket error if the UDP endpoint cannot be set up.
func Connect(host string, port int, password string, opts ...Option) (*Client, error) {
	o := &connectOptions{
		cfg:         DefaultConnectorConfig(),
		log:         logrus.NewEntry(logrus.StandardLogger()),
		nonceWindow: defaultNonceWindow,
	}
	for _, opt := range opts {
		if opt == nil {
			return nil, ErrNilOption
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	c := &Client{
		engine:     NewEngineWithNonceWindow(o.nonceWindow),
		dispatcher: NewDispatcher(),
		log:        o.log,
	}
	c.cache = newPlayerCache(clientCommands{c}, c.log)

	addr := fmt.Sprintf("%s:%d", host, port)
	c.connector = NewConnector(addr, password, c.engine, c.cache, c.dispatcher, o.cfg, c.log)
	if err := c.connector.Run(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close ends the session: the run loop exits after its current tick and
// the UDP socket is torn down. Idempotent.
func (c *Client) Close() error {
	return c.connector.Close()
}

// SendCommand executes command on the server and returns its response.
// It may fail with a *CommandError after exhausting the configured
// retry attempts, or if the server refuses the command outright.
func (c *Client) SendCommand(command string) (string, error) {
	return c.connector.Exec(command)
}

// FetchAdmins returns every RCON admin currently logged into the
// server.
func (c *Client) FetchAdmins() ([]ParsedAdmin, error) {
	resp, err := c.connector.Exec("admins")
	if err != nil {
		return nil, err
	}
	return ParseAdmins(resp), nil
}

// FetchBans returns every active ban known to the server.
func (c *Client) FetchBans() ([]*Ban, error) {
	resp, err := c.connector.Exec("bans")
	if err != nil {
		return nil, err
	}
	rows := ParseBans(resp)
	out := make([]*Ban, len(rows))
	for i, row := range rows {
		out[i] = &Ban{
			Index: row.Index, ID: row.ID, Duration: row.Duration, Reason: row.Reason,
			commands: clientCommands{c},
		}
	}
	return out, nil
}

// FetchMissions returns the names of the missions available on the
// server.
func (c *Client) FetchMissions() ([]string, error) {
	resp, err := c.connector.Exec("missions")
	if err != nil {
		return nil, err
	}
	return ParseMissions(resp), nil
}

// FetchPlayers issues a "players" command, reconciles the player cache
// with its response (dropping any published player absent from it), and
// returns a snapshot of the resulting cache.
func (c *Client) FetchPlayers() ([]*Player, error) {
	resp, err := c.connector.Exec("players")
	if err != nil {
		return nil, err
	}
	c.cache.ReconcileFromPlayers(ParsePlayers(resp))
	return c.cache.Published(), nil
}

// Ban bans idOrAddr — a player id (int) or a BE GUID/IP address
// (string) — for durationMinutes (nil means permanent).
func (c *Client) Ban(idOrAddr interface{}, durationMinutes *int, reason string) (string, error) {
	minutes := 0
	if durationMinutes != nil {
		minutes = *durationMinutes
	}
	switch v := idOrAddr.(type) {
	case int:
		return c.connector.Exec(fmt.Sprintf("ban %d %d %s", v, minutes, reason))
	case string:
		return c.connector.Exec(fmt.Sprintf("addBan %s %d %s", v, minutes, reason))
	default:
		return "", fmt.Errorf("battleye: Ban: unsupported id type %T", idOrAddr)
	}
}

// Kick removes the player identified by id, with an optional reason.
func (c *Client) Kick(id int, reason string) (string, error) {
	return c.connector.Exec(fmt.Sprintf("kick %d %s", id, reason))
}

// Send broadcasts message to every connected player.
func (c *Client) Send(message string) (string, error) {
	return c.connector.Exec("say -1 " + message)
}

// Unban removes the ban at index (as reported by FetchBans).
func (c *Client) Unban(index int) (string, error) {
	return c.connector.Exec(fmt.Sprintf("removeBan %d", index))
}

// Whisper sends message to the single player identified by id.
func (c *Client) Whisper(id int, message string) (string, error) {
	return c.connector.Exec(fmt.Sprintf("say %d %s", id, message))
}

// On registers fn to run whenever event (one of the Event* constants in
// dispatcher.go) is dispatched.
func (c *Client) On(event string, fn func(interface{})) {
	c.dispatcher.On(event, fn)
}

// WaitFor blocks until event is dispatched with a payload matching
// predicate (or any payload, if predicate is nil), or timeout elapses.
func (c *Client) WaitFor(event string, predicate func(interface{}) bool, timeout time.Duration) (interface{}, bool) {
	return c.dispatcher.WaitFor(event, predicate, timeout)
}
