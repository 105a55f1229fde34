package battleye

import "fmt"

// Player is a connected player as tracked by the PlayerCache. Identity
// is its server-assigned ID; all other fields may be updated in place.
type Player struct {
	ID          int
	Name        string
	GUID        string
	Addr        string
	Ping        *int
	IsGUIDValid bool
	InLobby     bool

	cache *PlayerCache
}

func (p *Player) String() string {
	return fmt.Sprintf("Player(id=%d, name=%q, guid=%q)", p.ID, p.Name, p.GUID)
}

func (p *Player) clone() *Player {
	cp := *p
	return &cp
}

// Kick removes the player from the server with an optional reason. It
// is a thin wrapper around the owning client's Kick command.
func (p *Player) Kick(reason string) (string, error) {
	if p.cache == nil || p.cache.commands == nil {
		return "", ErrClosed
	}
	return p.cache.commands.Kick(p.ID, reason)
}

// Send whispers message to the player. It is a thin wrapper around the
// owning client's Whisper command.
func (p *Player) Send(message string) (string, error) {
	if p.cache == nil || p.cache.commands == nil {
		return "", ErrClosed
	}
	return p.cache.commands.Whisper(p.ID, message)
}

// BanGUID bans the player's BE GUID for durationMinutes (0 = permanent).
func (p *Player) BanGUID(durationMinutes int, reason string) (string, error) {
	if p.cache == nil || p.cache.commands == nil {
		return "", ErrClosed
	}
	return p.cache.commands.Ban(p.GUID, durationMinutes, reason)
}

// commandIssuer is the narrow surface the Player/Ban helpers need from
// the facade Client, kept as an interface so the cache package doesn't
// need a full back-reference and the protocol engine stays I/O-free.
type commandIssuer interface {
	Kick(id int, reason string) (string, error)
	Whisper(id int, message string) (string, error)
	Ban(addrOrGUID string, durationMinutes int, reason string) (string, error)
	Unban(index int) (string, error)
}

// Ban is a GUID or IP ban reported by the "bans" command.
type Ban struct {
	Index    int
	ID       string // a BE GUID or IP address
	Duration *int   // nil = permanent, -1 = expired
	Reason   string

	commands commandIssuer
}

func (b *Ban) String() string {
	return fmt.Sprintf("Ban(id=%q, reason=%q)", b.ID, b.Reason)
}

// Unban removes this ban from the server.
func (b *Ban) Unban() (string, error) {
	if b.commands == nil {
		return "", ErrClosed
	}
	return b.commands.Unban(b.Index)
}
