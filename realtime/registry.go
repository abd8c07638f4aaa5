// Package realtime tracks live client connections and fans task events out
// to them.
package realtime

import (
	"sort"
	"sync"
)

// AllUsersGroup contains every live connection.
const AllUsersGroup = "all_users"

// UserGroup names the group of connections authenticated as userID.
func UserGroup(userID string) string { return "user:" + userID }

// ProjectGroup names the opt-in group for projectID updates.
func ProjectGroup(projectID string) string { return "project:" + projectID }

type connection struct {
	userID string
	groups map[string]struct{}
}

// Registry is a bidirectional index between connection handles and group
// names. Both directions are guarded by one lock so a reader never sees a
// connection in a group that its own group set does not list.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	groups map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		groups: make(map[string]map[string]struct{}),
	}
}

// OnConnect registers connID in all_users and, when userID is set, in the
// user's group. A known connID is reset to a fresh connection.
func (r *Registry) OnConnect(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
	c := &connection{userID: userID, groups: make(map[string]struct{}, 2)}
	r.conns[connID] = c
	r.addLocked(connID, c, AllUsersGroup)
	if userID != "" {
		r.addLocked(connID, c, UserGroup(userID))
	}
}

// OnDisconnect drops connID from every group. Unknown ids are ignored.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	r.removeLocked(connID)
	r.mu.Unlock()
}

// JoinProjectGroup adds connID to the project's group. Unknown ids are ignored.
func (r *Registry) JoinProjectGroup(connID, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	r.addLocked(connID, c, ProjectGroup(projectID))
}

// LeaveProjectGroup removes connID from the project's group. Unknown ids are
// ignored.
func (r *Registry) LeaveProjectGroup(connID, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	r.dropLocked(connID, c, ProjectGroup(projectID))
}

// MembersOf returns a sorted snapshot of the connections in group.
func (r *Registry) MembersOf(group string) []string {
	r.mu.RLock()
	members := r.groups[group]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// GroupsOf returns a sorted snapshot of the groups connID belongs to.
func (r *Registry) GroupsOf(connID string) []string {
	r.mu.RLock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// UserOf returns the user a connection authenticated as.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.userID, true
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) addLocked(connID string, c *connection, group string) {
	c.groups[group] = struct{}{}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]struct{})
		r.groups[group] = members
	}
	members[connID] = struct{}{}
}

func (r *Registry) dropLocked(connID string, c *connection, group string) {
	delete(c.groups, group)
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

func (r *Registry) removeLocked(connID string) {
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	for g := range c.groups {
		r.dropLocked(connID, c, g)
	}
	delete(r.conns, connID)
}
