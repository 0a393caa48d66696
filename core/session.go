package core

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/trustbgp/perf"
	"github.com/encodeous/trustbgp/protocol"
	"github.com/encodeous/trustbgp/state"
	"github.com/google/uuid"
)

type Role int

const (
	// RoleListener sessions were accepted by our listener
	RoleListener Role = iota
	// RoleConnector sessions were dialled by us
	RoleConnector
)

func (r Role) String() string {
	if r == RoleConnector {
		return "connector"
	}
	return "listener"
}

var ErrCollision = errors.New("session collision, existing session kept")

// Session is one live connection to a neighbour
type Session struct {
	Id        uuid.UUID
	Neighbour state.RouterId
	Role      Role
	Conn      net.Conn
	Started   time.Time

	writeLock sync.Mutex
	closed    atomic.Bool

	// guarded by the owning SessionTable
	lastKeepalive time.Time
	peerAS        uint16
	peerHold      uint16
}

func NewSession(neigh state.RouterId, role Role, conn net.Conn) *Session {
	return &Session{
		Id:        uuid.New(),
		Neighbour: neigh,
		Role:      role,
		Conn:      conn,
	}
}

// initiator is the router that opened the connection
func (s *Session) initiator(local state.RouterId) state.RouterId {
	if s.Role == RoleConnector {
		return local
	}
	return s.Neighbour
}

// WriteMsg frames and writes one message. Concurrent writers are serialised
// so frames never interleave.
func (s *Session) WriteMsg(m protocol.Message) error {
	buf, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if s.closed.Load() {
		return net.ErrClosed
	}
	err = s.Conn.SetWriteDeadline(time.Now().Add(state.WriteTimeout))
	if err != nil {
		return err
	}
	_, err = s.Conn.Write(buf)
	if err != nil {
		return err
	}
	perf.MsgsSentPerSec.Add(1)
	perf.BytesSentPerSec.Add(float64(len(buf)))
	return nil
}

func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.Conn.Close()
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s, %s)", s.Neighbour, s.Role, s.Id.String()[:8])
}

type SessionInfo struct {
	Id            string         `yaml:"id"`
	Neighbour     state.RouterId `yaml:"neighbor"`
	Role          string         `yaml:"role"`
	Started       time.Time      `yaml:"started"`
	LastKeepalive time.Time      `yaml:"last_keepalive"`
	PeerAS        uint16         `yaml:"peer_as,omitempty"`
	PeerHold      uint16         `yaml:"peer_hold,omitempty"`
}

// SessionTable holds at most one session per neighbour. It is safe for concurrent use.
type SessionTable struct {
	local    state.RouterId
	clk      clock.Clock
	lock     sync.Mutex
	sessions map[state.RouterId]*Session
	down     map[state.RouterId]struct{}
}

func NewSessionTable(local state.RouterId, clk clock.Clock) *SessionTable {
	return &SessionTable{
		local:    local,
		clk:      clk,
		sessions: make(map[state.RouterId]*Session),
		down:     make(map[state.RouterId]struct{}),
	}
}

// Attach records s as the session of its neighbour and stamps its keepalive
// time. When a live session already exists, the connection initiated by the
// higher router id is kept; between two connections from the same initiator
// the newer one wins. Attach returns the session that was displaced, or
// ErrCollision when s itself lost.
func (t *SessionTable) Attach(s *Session) (*Session, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	old, ok := t.sessions[s.Neighbour]
	if ok && !old.IsClosed() {
		oi, ni := old.initiator(t.local), s.initiator(t.local)
		winner := max(t.local, s.Neighbour)
		if oi != ni && oi == winner {
			return nil, ErrCollision
		}
	}
	now := t.clk.Now()
	s.Started = now
	s.lastKeepalive = now
	t.sessions[s.Neighbour] = s
	delete(t.down, s.Neighbour)
	if ok {
		return old, nil
	}
	return nil, nil
}

// Current returns the live session for neigh
func (t *SessionTable) Current(neigh state.RouterId) *Session {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.sessions[neigh]
}

// Touch refreshes the keepalive time if s is still the current session
func (t *SessionTable) Touch(s *Session) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.sessions[s.Neighbour] != s {
		return false
	}
	s.lastKeepalive = t.clk.Now()
	return true
}

func (t *SessionTable) RecordOpen(s *Session, open *protocol.Open) {
	t.lock.Lock()
	defer t.lock.Unlock()
	s.peerAS = open.AS
	s.peerHold = open.HoldTime
}

// Live returns a snapshot of every session, ordered by neighbour
func (t *SessionTable) Live() []*Session {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		res = append(res, s)
	}
	slices.SortFunc(res, func(a, b *Session) int {
		return int(a.Neighbour - b.Neighbour)
	})
	return res
}

func (t *SessionTable) Neighbours() []state.RouterId {
	live := t.Live()
	ids := make([]state.RouterId, 0, len(live))
	for _, s := range live {
		ids = append(ids, s.Neighbour)
	}
	return ids
}

// Expire removes every session silent for longer than hold and marks its
// neighbour down, in one step.
func (t *SessionTable) Expire(hold time.Duration) []*Session {
	t.lock.Lock()
	defer t.lock.Unlock()
	now := t.clk.Now()
	expired := make([]*Session, 0)
	for id, s := range t.sessions {
		if now.Sub(s.lastKeepalive) > hold {
			expired = append(expired, s)
			delete(t.sessions, id)
			t.down[id] = struct{}{}
		}
	}
	slices.SortFunc(expired, func(a, b *Session) int {
		return int(a.Neighbour - b.Neighbour)
	})
	return expired
}

func (t *SessionTable) IsDown(neigh state.RouterId) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.down[neigh]
	return ok
}

// Remove drops s if it is still the current session of its neighbour
func (t *SessionTable) Remove(s *Session) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.sessions[s.Neighbour] != s {
		return false
	}
	delete(t.sessions, s.Neighbour)
	return true
}

func (t *SessionTable) Info() []SessionInfo {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		res = append(res, SessionInfo{
			Id:            s.Id.String(),
			Neighbour:     s.Neighbour,
			Role:          s.Role.String(),
			Started:       s.Started,
			LastKeepalive: s.lastKeepalive,
			PeerAS:        s.peerAS,
			PeerHold:      s.peerHold,
		})
	}
	slices.SortFunc(res, func(a, b SessionInfo) int {
		return int(a.Neighbour - b.Neighbour)
	})
	return res
}

func (t *SessionTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.sessions)
}
