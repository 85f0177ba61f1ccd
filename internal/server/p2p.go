package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// P2pGroup is a numbered set of sessions relaying to each other. The first
// member is the master; when the master leaves, the oldest remaining
// member is promoted.
type P2pGroup struct {
	id      uint16
	master  *Session
	members []*Session
}

func (g *P2pGroup) ID() uint16       { return g.id }
func (g *P2pGroup) Master() *Session { return g.master }

// Members returns a copy of the current membership in join order.
func (g *P2pGroup) Members() []*Session {
	members := make([]*Session, len(g.members))
	copy(members, g.members)
	return members
}

func (g *P2pGroup) contains(s *Session) bool {
	for _, member := range g.members {
		if member == s {
			return true
		}
	}
	return false
}

func (g *P2pGroup) remove(s *Session) {
	for i, member := range g.members {
		if member == s {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if g.master == s {
		g.master = nil
		if len(g.members) > 0 {
			g.master = g.members[0]
		}
	}
}

// P2pManager tracks group membership so departing sessions release their
// slots no matter how they leave.
type P2pManager struct {
	mu     sync.Mutex
	groups map[uint16]*P2pGroup
	logger *logrus.Logger
}

func NewP2pManager(logger *logrus.Logger) *P2pManager {
	return &P2pManager{
		groups: make(map[uint16]*P2pGroup),
		logger: logger,
	}
}

// Join adds a session to a group, creating the group on demand. The first
// member becomes master. Joining a group twice is a no-op.
func (m *P2pManager) Join(groupID uint16, s *Session) *P2pGroup {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[groupID]
	if !ok {
		group = &P2pGroup{id: groupID}
		m.groups[groupID] = group
	}
	if group.contains(s) {
		return group
	}

	group.members = append(group.members, s)
	if group.master == nil {
		group.master = s
	}
	m.logger.Debugf("session %d joined p2p group %d (%d members)", s.ID(), groupID, len(group.members))
	return group
}

// Leave removes a session from a group, promoting a new master if needed
// and dropping the group once empty.
func (m *P2pManager) Leave(groupID uint16, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(groupID, s)
}

func (m *P2pManager) leaveLocked(groupID uint16, s *Session) {
	group, ok := m.groups[groupID]
	if !ok || !group.contains(s) {
		return
	}

	group.remove(s)
	m.logger.Debugf("session %d left p2p group %d (%d members)", s.ID(), groupID, len(group.members))
	if len(group.members) == 0 {
		delete(m.groups, groupID)
	}
}

// Find returns the group with the given id, or nil.
func (m *P2pManager) Find(groupID uint16) *P2pGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[groupID]
}

// GroupCount returns the number of live groups.
func (m *P2pManager) GroupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

// OnSessionClosed releases every group slot the departing session held.
func (m *P2pManager) OnSessionClosed(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, group := range m.groups {
		if group.contains(s) {
			m.leaveLocked(id, s)
		}
	}
}

// Clear drops all groups; called during server stop.
func (m *P2pManager) Clear() {
	m.mu.Lock()
	m.groups = make(map[uint16]*P2pGroup)
	m.mu.Unlock()
}
