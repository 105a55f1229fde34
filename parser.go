package battleye

import (
	"regexp"
	"strconv"
	"strings"
)

// Message patterns, in priority order: the first match wins. Literal
// strings and group layout follow the BattlEye RCON message grammar;
// group names map directly onto the typed events below.
var (
	adminLoginPattern = regexp.MustCompile(
		`^RCon admin #(?P<id>\d+) \((?P<addr>.*?:\d+)\) logged in$`)

	playerConnectPattern = regexp.MustCompile(
		`^Player #(?P<id>\d+) (?P<name>.+) \((?P<addr>.*?:\d+)\) connected$`)

	playerGUIDPattern = regexp.MustCompile(
		`^Player #(?P<id>\d+) (?P<name>.+) - BE GUID: (?P<guid>\w+)$`)

	playerVerifyGUIDPattern = regexp.MustCompile(
		`^Verified GUID \((?P<guid>\w+)\) of player #(?P<id>\d+) (?P<name>.+)$`)

	playerDisconnectPattern = regexp.MustCompile(
		`^Player #(?P<id>\d+) (?P<name>.+) disconnected$`)

	playerKickPattern = regexp.MustCompile(
		`^Player #(?P<id>\d+) (?P<name>.+) \((?P<guid>\w+|-)\) has been kicked by BattlEye: (?P<reason>.+)$`)

	adminMessagePattern = regexp.MustCompile(
		`^RCon admin #(?P<id>\d+): \((?P<channel>.+?)\) (?P<message>.+)$`)

	playerMessagePattern = regexp.MustCompile(
		`^\((?P<channel>.+?)\) (?P<name>.+?): (?P<message>.+)$`)
)

// Tabular command response row patterns, used with FindAllStringSubmatch
// over the whole response rather than per-line matching against a
// fixed-shape table.
var (
	adminsRowPattern = regexp.MustCompile(`(?P<id>\d+) +(?P<addr>\S*?:\d+)`)

	bansRowPattern = regexp.MustCompile(
		`(?P<index>\d+) +(?P<id>[\w.]+) +(?P<duration>\d+|-|perm) +(?P<reason>.*)`)

	playersRowPattern = regexp.MustCompile(
		`(?P<id>\d+) +(?P<addr>\S*?:\d+) +(?P<ping>\d+) +(?P<guid>\w+)\((?P<status>\w+)\) +(?P<name>.+)`)
)

// benign messages that carry no event of their own; they are consumed
// silently rather than surfaced as UnexpectedTextError.
var benignPrefixes = []string{
	"Config entry:",
	"Failed to receive from BE Master",
}

var benignExact = map[string]struct{}{
	"Ban check timed out, no response from BE Master":    {},
	"Connected to BE Master":                             {},
	"Disconnected from BE Master":                        {},
	"Failed to resolve BE Master DNS name(s)":            {},
	"Master query timed out, no response from BE Master": {},
}

func isBenignMessage(text string) bool {
	if _, ok := benignExact[text]; ok {
		return true
	}
	for _, prefix := range benignPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// ParsedAdmin is one row of an "admins" command response.
type ParsedAdmin struct {
	ID   int
	Addr string
}

// ParsedBan is one row of a "bans" command response. Duration is nil
// for a permanent ban ("perm"), the minutes left otherwise, and -1 for
// an already-expired row ("-").
type ParsedBan struct {
	Index    int
	ID       string
	Duration *int
	Reason   string
}

// ParsedPlayer is one row of a "players" command response.
type ParsedPlayer struct {
	ID          int
	Name        string
	GUID        string
	Addr        string
	Ping        int
	IsGUIDValid bool
	InLobby     bool
}

// ParseMissions parses a "missions" command response into one mission
// file name per line; blank lines are skipped.
func ParseMissions(response string) []string {
	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseAdmins parses an "admins" command response into one row per
// connected RCON admin.
func ParseAdmins(response string) []ParsedAdmin {
	var out []ParsedAdmin
	for _, m := range adminsRowPattern.FindAllStringSubmatch(response, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, ParsedAdmin{ID: id, Addr: m[2]})
	}
	return out
}

// ParseBans parses a "bans" command response into one row per ban.
func ParseBans(response string) []ParsedBan {
	var out []ParsedBan
	for _, m := range bansRowPattern.FindAllStringSubmatch(response, -1) {
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		var duration *int
		switch m[3] {
		case "perm":
			duration = nil
		case "-":
			v := -1
			duration = &v
		default:
			v, err := strconv.Atoi(m[3])
			if err != nil {
				continue
			}
			duration = &v
		}

		out = append(out, ParsedBan{Index: index, ID: m[2], Duration: duration, Reason: m[4]})
	}
	return out
}

// ParsePlayers parses a "players" command response into one row per
// connected player.
func ParsePlayers(response string) []ParsedPlayer {
	var out []ParsedPlayer
	for _, m := range playersRowPattern.FindAllStringSubmatch(response, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ping, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}

		name := m[6]
		inLobby := strings.HasSuffix(name, " (Lobby)")
		if inLobby {
			name = strings.TrimSuffix(name, " (Lobby)")
		}

		out = append(out, ParsedPlayer{
			ID:          id,
			Addr:        m[2],
			Ping:        ping,
			GUID:        m[4],
			IsGUIDValid: m[5] == "OK",
			Name:        name,
			InLobby:     inLobby,
		})
	}
	return out
}

// TextEvent is the common interface for every value ParseMessage can
// produce from a single server message.
type TextEvent interface {
	isTextEvent()
}

// AdminLoginEvent fires when an RCON admin (possibly this client)
// authenticates with the server.
type AdminLoginEvent struct {
	ID   int
	Addr string
}

// PlayerConnectEvent fires when a player begins connecting.
type PlayerConnectEvent struct {
	ID   int
	Name string
	Addr string
}

// PlayerGUIDEvent reports a player's (not yet verified) BE GUID.
type PlayerGUIDEvent struct {
	ID   int
	Name string
	GUID string
}

// PlayerVerifyGUIDEvent reports that a player's BE GUID has been
// verified by the anti-cheat layer.
type PlayerVerifyGUIDEvent struct {
	ID   int
	Name string
	GUID string
}

// PlayerDisconnectEvent fires when a player leaves normally.
type PlayerDisconnectEvent struct {
	ID   int
	Name string
}

// PlayerKickEvent fires when BattlEye removes a player.
type PlayerKickEvent struct {
	ID     int
	Name   string
	GUID   string // empty when the server reported "-"
	Reason string
}

// AdminMessageEvent fires for any text an RCON admin sends, regardless
// of channel.
type AdminMessageEvent struct {
	ID      int
	Channel string
	Message string
}

// AdminAnnouncementEvent additionally fires when an AdminMessageEvent's
// channel is "Global".
type AdminAnnouncementEvent struct {
	ID      int
	Message string
}

// AdminWhisperEvent additionally fires when an AdminMessageEvent's
// channel names a specific player ("To <name>") and that name resolves
// in the player cache.
type AdminWhisperEvent struct {
	PlayerID int
	AdminID  int
	Message  string
}

// PlayerMessageEvent fires for chat sent by a player whose name
// resolves in the player cache. A message from an unresolvable name is
// dropped rather than dispatched anonymously.
type PlayerMessageEvent struct {
	PlayerID int
	Channel  string
	Message  string
}

func (AdminLoginEvent) isTextEvent()          {}
func (PlayerConnectEvent) isTextEvent()       {}
func (PlayerGUIDEvent) isTextEvent()          {}
func (PlayerVerifyGUIDEvent) isTextEvent()    {}
func (PlayerDisconnectEvent) isTextEvent()    {}
func (PlayerKickEvent) isTextEvent()          {}
func (AdminMessageEvent) isTextEvent()        {}
func (AdminAnnouncementEvent) isTextEvent()   {}
func (AdminWhisperEvent) isTextEvent()        {}
func (PlayerMessageEvent) isTextEvent()       {}

// ParseMessage matches text against the known BattlEye message grammar
// in priority order and returns the events it produces. resolveName is
// consulted to turn a bare player name into an ID for AdminWhisperEvent
// and PlayerMessageEvent; it should return ok == false when no player
// with that name is cached.
//
// If text matches no known pattern and is not in the benign allowlist,
// ParseMessage returns a single UnexpectedTextError wrapped as the
// second return value and no events.
func ParseMessage(text string, resolveName func(name string) (id int, ok bool)) ([]TextEvent, error) {
	if m := adminLoginPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		return []TextEvent{AdminLoginEvent{ID: id, Addr: m[2]}}, nil
	}

	if m := playerConnectPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		return []TextEvent{PlayerConnectEvent{ID: id, Name: m[2], Addr: m[3]}}, nil
	}

	if m := playerGUIDPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		return []TextEvent{PlayerGUIDEvent{ID: id, Name: m[2], GUID: m[3]}}, nil
	}

	if m := playerVerifyGUIDPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[2])
		return []TextEvent{PlayerVerifyGUIDEvent{ID: id, Name: m[3], GUID: m[1]}}, nil
	}

	if m := playerDisconnectPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		return []TextEvent{PlayerDisconnectEvent{ID: id, Name: m[2]}}, nil
	}

	if m := playerKickPattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		guid := m[3]
		if guid == "-" {
			guid = ""
		}
		return []TextEvent{PlayerKickEvent{ID: id, Name: m[2], GUID: guid, Reason: m[4]}}, nil
	}

	if m := adminMessagePattern.FindStringSubmatch(text); m != nil {
		id, _ := strconv.Atoi(m[1])
		channel, message := m[2], m[3]
		events := []TextEvent{AdminMessageEvent{ID: id, Channel: channel, Message: message}}

		switch {
		case channel == "Global":
			events = append(events, AdminAnnouncementEvent{ID: id, Message: message})
		case strings.HasPrefix(channel, "To "):
			name := strings.TrimPrefix(channel, "To ")
			if pid, ok := resolveName(name); ok {
				events = append(events, AdminWhisperEvent{PlayerID: pid, AdminID: id, Message: message})
			}
		}
		return events, nil
	}

	if m := playerMessagePattern.FindStringSubmatch(text); m != nil {
		channel, name, message := m[1], m[2], m[3]
		if pid, ok := resolveName(name); ok {
			return []TextEvent{PlayerMessageEvent{PlayerID: pid, Channel: channel, Message: message}}, nil
		}
		// Name did not resolve: the event is dropped, not dispatched
		// anonymously.
		return nil, nil
	}

	if isBenignMessage(text) {
		return nil, nil
	}

	return nil, &UnexpectedTextError{Text: text}
}
