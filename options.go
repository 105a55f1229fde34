package battleye

import (
	"time"

	"github.com/sirupsen/logrus"
)

// connectOptions collects everything an Option may configure before
// Connect builds the engine, cache, and connector.
type connectOptions struct {
	cfg         ConnectorConfig
	log         *logrus.Entry
	nonceWindow int
}

// Option configures a Client during Connect.
type Option func(*connectOptions) error

// WithRunInterval overrides the Connector's tick granularity.
func WithRunInterval(d time.Duration) Option {
	return func(o *connectOptions) error { o.cfg.RunInterval = d; return nil }
}

// WithKeepAliveInterval overrides how long the connection may sit idle
// before a keep-alive command is sent.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(o *connectOptions) error { o.cfg.KeepAliveInterval = d; return nil }
}

// WithPlayersInterval overrides how often a keep-alive is upgraded to a
// players cache refresh.
func WithPlayersInterval(d time.Duration) Option {
	return func(o *connectOptions) error { o.cfg.PlayersInterval = d; return nil }
}

// WithInitialConnectAttempts overrides the bounded number of login
// attempts made before Connect gives up.
func WithInitialConnectAttempts(n int) Option {
	return func(o *connectOptions) error {
		if n < 1 {
			return ErrInvalidOptionValue
		}
		o.cfg.InitialConnectAttempts = n
		return nil
	}
}

// WithConnectionTimeout overrides the per-login-attempt timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *connectOptions) error { o.cfg.ConnectionTimeout = d; return nil }
}

// WithCommandAttempts overrides how many times the Commander retries a
// command before giving up.
func WithCommandAttempts(n int) Option {
	return func(o *connectOptions) error {
		if n < 1 {
			return ErrInvalidOptionValue
		}
		o.cfg.CommandAttempts = n
		return nil
	}
}

// WithPerAttemptTimeout overrides the Commander's per-attempt timeout.
func WithPerAttemptTimeout(d time.Duration) Option {
	return func(o *connectOptions) error { o.cfg.PerAttemptTimeout = d; return nil }
}

// WithNonceWindow overrides the protocol engine's duplicate-message
// window size. Must be in [1, 255].
func WithNonceWindow(n int) Option {
	return func(o *connectOptions) error {
		if n < 1 || n > 255 {
			return ErrInvalidOptionValue
		}
		o.nonceWindow = n
		return nil
	}
}

// WithLogger overrides the logrus entry threaded through the connector,
// commander, and player cache. The protocol engine, codec, and
// dispatcher stay logger-free.
func WithLogger(log *logrus.Entry) Option {
	return func(o *connectOptions) error {
		if log == nil {
			return ErrNilOption
		}
		o.log = log
		return nil
	}
}
