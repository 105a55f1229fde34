package battleye

import "time"

// payloadType identifies which of the three BattlEye payload kinds a
// packet carries.
type payloadType byte

// BattlEye payload types, as laid out in the wire protocol.
const (
	loginType payloadType = iota
	commandType
	serverMessageType

	// multiPacketType is the optional sub-header byte embedded in a
	// commandType payload when the server's response spans more than
	// one packet.
	multiPacketType byte = 0
)

const (
	// headerPrefix is the two leading bytes of every BattlEye packet.
	headerPrefix = "BE"

	// endOfHeader terminates the 7-byte header, immediately before the
	// payload type byte.
	endOfHeader = 0xff

	// minPacketSize is the smallest legal packet: 7-byte header plus a
	// 1-byte payload type.
	minPacketSize = 8

	// maxPacketSize is the hard ceiling on a whole packet imposed by the
	// protocol.
	maxPacketSize = 65507

	// defaultNonceWindow is the number of recently forwarded server
	// message sequences the engine remembers for de-duplication.
	defaultNonceWindow = 5

	// defaultResponseChunkSize is the size, in bytes, used by a
	// server-role engine to split a command response across multiple
	// packets when none is configured.
	defaultResponseChunkSize = 512

	// lastReceivedTimeout is fixed by the wire protocol: a client that
	// hears nothing from the server for this long must treat it as dead.
	lastReceivedTimeout = 45 * time.Second

	// playerAdmissionGrace is how long a connecting player sits in the
	// pending cache waiting for its GUID to verify before being
	// published anyway.
	playerAdmissionGrace = 5 * time.Second

	// adminLoginWarmupTimeout bounds how long the player cache waits for
	// an AdminLogin message after connecting before giving up on warmup.
	adminLoginWarmupTimeout = 10 * time.Second
)

// Default Connector tuning, per the wire protocol and the reference
// client's observed defaults.
const (
	defaultRunInterval          = 1 * time.Second
	defaultKeepAliveInterval    = 30 * time.Second
	defaultPlayersInterval      = 60 * time.Second
	defaultInitialConnectTries  = 3
	defaultConnectionTimeout    = 3 * time.Second
	defaultCommandAttempts      = 3
	defaultPerAttemptTimeout    = 1 * time.Second
	defaultReadBufferSize       = 1500
	maxExponentialBackoffTries  = 11
	exponentialBackoffUnitSleep = 1 * time.Second
)
