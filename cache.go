package battleye

import (
	"strconv"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// PlayerCache is the in-memory player registry described by the two-phase
// admission protocol: a connecting player sits in an unpublished holding
// area until its GUID is verified or a grace period elapses, at which
// point it becomes visible to user code.
//
// published and pending are kept disjoint by construction: every mutating
// method removes an id from one before it can appear in the other.
// Promotion timing is delegated to patrickmn/go-cache's expiration
// callback; pending itself is a plain map guarded by mu, since the
// eviction callback only drives the timer, not the source of truth.
type PlayerCache struct {
	mu        sync.RWMutex
	published map[int]*Player
	pending   map[int]*Player
	timers    *gocache.Cache
	adminID   *int
	commands  commandIssuer
	log       *logrus.Entry
}

func newPlayerCache(commands commandIssuer, log *logrus.Entry) *PlayerCache {
	c := &PlayerCache{
		published: make(map[int]*Player),
		pending:   make(map[int]*Player),
		timers:    gocache.New(playerAdmissionGrace, playerAdmissionGrace/5),
		commands:  commands,
		log:       log,
	}
	c.timers.OnEvicted(func(key string, value interface{}) {
		id, err := strconv.Atoi(key)
		if err != nil {
			return
		}
		c.promote(id)
	})
	return c
}

func timerKey(id int) string {
	return strconv.Itoa(id)
}

// promote moves id from pending to published, if it is still pending.
// Called both by the 5s grace timer and, immediately, by GUID
// verification; either path is a no-op once the other has already run.
func (c *PlayerCache) promote(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	p.cache = c
	c.published[id] = p
	c.log.WithFields(logrus.Fields{"id": id, "name": p.Name}).Debug("battleye: player published")
}

// HandleConnect creates a pending Player for a freshly connecting id and
// starts its 5s admission timer.
func (c *PlayerCache) HandleConnect(e PlayerConnectEvent) {
	c.mu.Lock()
	p := &Player{ID: e.ID, Name: e.Name, Addr: e.Addr, cache: c}
	delete(c.published, e.ID)
	c.pending[e.ID] = p
	c.mu.Unlock()
	c.timers.Set(timerKey(e.ID), e.ID, gocache.DefaultExpiration)
}

// HandleGUID records an (unverified) GUID for an id already known to
// either map. A GUID for an id no connect has been seen for is silently
// dropped; players only ever enter through HandleConnect.
func (c *PlayerCache) HandleGUID(e PlayerGUIDEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[e.ID]; ok {
		p.GUID = e.GUID
		return
	}
	if p, ok := c.published[e.ID]; ok {
		p.GUID = e.GUID
	}
}

// HandleVerifyGUID marks an id's GUID valid and promotes it out of
// pending immediately, short-circuiting the 5s grace timer.
func (c *PlayerCache) HandleVerifyGUID(e PlayerVerifyGUIDEvent) {
	c.mu.Lock()
	if p, ok := c.pending[e.ID]; ok {
		p.GUID = e.GUID
		p.IsGUIDValid = true
		delete(c.pending, e.ID)
		p.cache = c
		c.published[e.ID] = p
	} else if p, ok := c.published[e.ID]; ok {
		p.GUID = e.GUID
		p.IsGUIDValid = true
	}
	c.mu.Unlock()
	c.timers.Delete(timerKey(e.ID))
}

// HandleDisconnect removes id from whichever map currently holds it.
func (c *PlayerCache) HandleDisconnect(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	delete(c.published, id)
	c.mu.Unlock()
	c.timers.Delete(timerKey(id))
}

// SetAdminID records the id the server assigned to this client. The
// connector's login-warmup sequence sets it from the first AdminLoginEvent
// it observes after login; the event's address is not compared with this
// client's own. It is exported so that sequence can set it without
// reaching into cache internals.
func (c *PlayerCache) SetAdminID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := id
	c.adminID = &v
}

// AdminID returns the id the server assigned this client, if known.
func (c *PlayerCache) AdminID() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.adminID == nil {
		return 0, false
	}
	return *c.adminID, true
}

// ReconcileFromPlayers updates or creates published entries from a
// parsed "players" command response and drops any published entry whose
// id is absent from it.
func (c *PlayerCache) ReconcileFromPlayers(rows []ParsedPlayer) {
	seen := make(map[int]struct{}, len(rows))

	c.mu.Lock()
	for _, row := range rows {
		seen[row.ID] = struct{}{}
		ping := row.Ping
		if p, ok := c.published[row.ID]; ok {
			p.Name = row.Name
			p.GUID = row.GUID
			p.Addr = row.Addr
			p.Ping = &ping
			p.IsGUIDValid = row.IsGUIDValid
			p.InLobby = row.InLobby
			continue
		}
		c.published[row.ID] = &Player{
			ID:          row.ID,
			Name:        row.Name,
			GUID:        row.GUID,
			Addr:        row.Addr,
			Ping:        &ping,
			IsGUIDValid: row.IsGUIDValid,
			InLobby:     row.InLobby,
			cache:       c,
		}
		delete(c.pending, row.ID)
	}
	for id := range c.published {
		if _, ok := seen[id]; !ok {
			delete(c.published, id)
		}
	}
	c.mu.Unlock()
}

// Clear empties both maps and forgets the admin id, as happens on every
// fresh login.
func (c *PlayerCache) Clear() {
	c.mu.Lock()
	c.published = make(map[int]*Player)
	c.pending = make(map[int]*Player)
	c.adminID = nil
	c.mu.Unlock()
	c.timers.Flush()
}

// Published returns a snapshot slice of every currently published
// player. Each Player is a clone: the connector's background goroutines
// keep mutating the cache's own copies as new text events and "players"
// reconciliations arrive, so a snapshot must not share storage with them.
func (c *PlayerCache) Published() []*Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Player, 0, len(c.published))
	for _, p := range c.published {
		out = append(out, p.clone())
	}
	return out
}

// ByID looks up a published player, returning a snapshot clone rather
// than the cache's live copy (see Published).
func (c *PlayerCache) ByID(id int) (*Player, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.published[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// ResolveName looks up a published player's id by name, for use as the
// parser's resolveName callback.
func (c *PlayerCache) ResolveName(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, p := range c.published {
		if p.Name == name {
			return id, true
		}
	}
	return 0, false
}
