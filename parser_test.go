package battleye

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noResolve(string) (int, bool) { return 0, false }

func TestParseMessageAdminLogin(t *testing.T) {
	events, err := ParseMessage("RCon admin #4 (1.2.3.4:1234) logged in", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, AdminLoginEvent{ID: 4, Addr: "1.2.3.4:1234"}, events[0])
}

func TestParseMessagePlayerConnect(t *testing.T) {
	events, err := ParseMessage("Player #1 Bob (1.2.3.4:2302) connected", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerConnectEvent{ID: 1, Name: "Bob", Addr: "1.2.3.4:2302"}, events[0])
}

func TestParseMessagePlayerGUID(t *testing.T) {
	events, err := ParseMessage("Player #1 Bob - BE GUID: abc123def", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerGUIDEvent{ID: 1, Name: "Bob", GUID: "abc123def"}, events[0])
}

func TestParseMessagePlayerVerifyGUID(t *testing.T) {
	events, err := ParseMessage("Verified GUID (abc123def) of player #1 Bob", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerVerifyGUIDEvent{ID: 1, Name: "Bob", GUID: "abc123def"}, events[0])
}

func TestParseMessagePlayerDisconnect(t *testing.T) {
	events, err := ParseMessage("Player #1 Bob disconnected", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerDisconnectEvent{ID: 1, Name: "Bob"}, events[0])
}

func TestParseMessagePlayerKick(t *testing.T) {
	events, err := ParseMessage("Player #1 Bob (abc123def) has been kicked by BattlEye: Team kill", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerKickEvent{ID: 1, Name: "Bob", GUID: "abc123def", Reason: "Team kill"}, events[0])
}

func TestParseMessagePlayerKickWithoutGUID(t *testing.T) {
	events, err := ParseMessage("Player #1 Bob (-) has been kicked by BattlEye: Global Ban", noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerKickEvent{ID: 1, Name: "Bob", GUID: "", Reason: "Global Ban"}, events[0])
}

func TestParseMessageAdminAnnouncement(t *testing.T) {
	events, err := ParseMessage(`RCon admin #4: (Global) server restarting soon`, noResolve)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, AdminMessageEvent{ID: 4, Channel: "Global", Message: "server restarting soon"}, events[0])
	assert.Equal(t, AdminAnnouncementEvent{ID: 4, Message: "server restarting soon"}, events[1])
}

func TestParseMessageAdminWhisperResolvesName(t *testing.T) {
	resolve := func(name string) (int, bool) {
		if name == "Bob" {
			return 9, true
		}
		return 0, false
	}
	events, err := ParseMessage(`RCon admin #4: (To Bob) hello there`, resolve)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, AdminMessageEvent{ID: 4, Channel: "To Bob", Message: "hello there"}, events[0])
	assert.Equal(t, AdminWhisperEvent{PlayerID: 9, AdminID: 4, Message: "hello there"}, events[1])
}

func TestParseMessageAdminWhisperDropsUnresolvedName(t *testing.T) {
	events, err := ParseMessage(`RCon admin #4: (To Ghost) hello there`, noResolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, AdminMessageEvent{ID: 4, Channel: "To Ghost", Message: "hello there"}, events[0])
}

func TestParseMessagePlayerMessageResolvesName(t *testing.T) {
	resolve := func(name string) (int, bool) {
		if name == "Bob" {
			return 9, true
		}
		return 0, false
	}
	events, err := ParseMessage("(Side) Bob: anyone need ammo?", resolve)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PlayerMessageEvent{PlayerID: 9, Channel: "Side", Message: "anyone need ammo?"}, events[0])
}

func TestParseMessagePlayerMessageDropsUnresolvedName(t *testing.T) {
	events, err := ParseMessage("(Side) Ghost: anyone need ammo?", noResolve)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseMessageBenignIsSilentlyConsumed(t *testing.T) {
	for _, text := range []string{
		"Connected to BE Master",
		"Disconnected from BE Master",
		"Config entry: Whatever=1",
	} {
		events, err := ParseMessage(text, noResolve)
		require.NoError(t, err)
		assert.Empty(t, events)
	}
}

func TestParseMessageUnexpectedTextErrors(t *testing.T) {
	_, err := ParseMessage("something completely unrecognized happened", noResolve)
	var unexpected *UnexpectedTextError
	assert.ErrorAs(t, err, &unexpected)
}

func TestParseAdmins(t *testing.T) {
	resp := "Admins:\n0   1.2.3.4:1234\n"
	rows := ParseAdmins(resp)
	require.Len(t, rows, 1)
	assert.Equal(t, ParsedAdmin{ID: 0, Addr: "1.2.3.4:1234"}, rows[0])
}

func TestParseBans(t *testing.T) {
	resp := "GUID Bans:\n0   abc123def   perm   Cheating\n1   1.2.3.4   120   AFK\n"
	rows := ParseBans(resp)
	require.Len(t, rows, 2)

	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, "abc123def", rows[0].ID)
	assert.Nil(t, rows[0].Duration)
	assert.Equal(t, "Cheating", rows[0].Reason)

	assert.Equal(t, 1, rows[1].Index)
	require.NotNil(t, rows[1].Duration)
	assert.Equal(t, 120, *rows[1].Duration)
}

func TestParsePlayers(t *testing.T) {
	resp := "Players:\n0   1.2.3.4:2302   42   abc123def(OK) Bob\n1   5.6.7.8:2302   0   unknownguid(no) Alice (Lobby)\n"
	rows := ParsePlayers(resp)
	require.Len(t, rows, 2)

	assert.Equal(t, ParsedPlayer{ID: 0, Name: "Bob", GUID: "abc123def", Addr: "1.2.3.4:2302", Ping: 42, IsGUIDValid: true}, rows[0])
	assert.Equal(t, "Alice", rows[1].Name)
	assert.True(t, rows[1].InLobby)
	assert.False(t, rows[1].IsGUIDValid)
}

func TestParseMissions(t *testing.T) {
	rows := ParseMissions("mission_one.pbo\nmission_two.pbo\n\n")
	assert.Equal(t, []string{"mission_one.pbo", "mission_two.pbo"}, rows)
}
