package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOnConnectAddsDefaultGroups(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "u1")

	if diff := cmp.Diff([]string{AllUsersGroup, "user:u1"}, r.GroupsOf("c1")); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c1"}, r.MembersOf("user:u1")); diff != "" {
		t.Fatalf("unexpected members (-want +got):\n%s", diff)
	}
	if user, ok := r.UserOf("c1"); !ok || user != "u1" {
		t.Fatalf("unexpected user %q %v", user, ok)
	}
}

func TestOnConnectUnauthenticatedSkipsUserGroup(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "")
	if diff := cmp.Diff([]string{AllUsersGroup}, r.GroupsOf("c1")); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
}

func TestOnConnectTwiceDiscardsOldMembership(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "u1")
	r.JoinProjectGroup("c1", "p1")
	r.OnConnect("c1", "u2")

	if got := r.MembersOf(ProjectGroup("p1")); len(got) != 0 {
		t.Fatalf("expected project group to be empty, got %v", got)
	}
	if got := r.MembersOf(UserGroup("u1")); len(got) != 0 {
		t.Fatalf("expected old user group to be empty, got %v", got)
	}
	if diff := cmp.Diff([]string{AllUsersGroup, "user:u2"}, r.GroupsOf("c1")); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one connection, got %d", r.Len())
	}
}

func TestJoinThenDisconnectTwice(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "u1")
	r.OnConnect("c2", "u2")
	r.JoinProjectGroup("c1", "5")
	r.JoinProjectGroup("c2", "5")

	r.OnDisconnect("c1")
	r.OnDisconnect("c1")

	if diff := cmp.Diff([]string{"c2"}, r.MembersOf("project:5")); diff != "" {
		t.Fatalf("unexpected members (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c2"}, r.MembersOf(AllUsersGroup)); diff != "" {
		t.Fatalf("unexpected members (-want +got):\n%s", diff)
	}
	if got := r.GroupsOf("c1"); got != nil {
		t.Fatalf("expected no groups for disconnected connection, got %v", got)
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "u1")
	r.JoinProjectGroup("c1", "p")
	r.JoinProjectGroup("c1", "p")
	if diff := cmp.Diff([]string{"c1"}, r.MembersOf("project:p")); diff != "" {
		t.Fatalf("unexpected members (-want +got):\n%s", diff)
	}
	r.LeaveProjectGroup("c1", "p")
	r.LeaveProjectGroup("c1", "p")
	if got := r.MembersOf("project:p"); len(got) != 0 {
		t.Fatalf("expected empty group, got %v", got)
	}
	if diff := cmp.Diff([]string{AllUsersGroup, "user:u1"}, r.GroupsOf("c1")); diff != "" {
		t.Fatalf("leave touched default groups (-want +got):\n%s", diff)
	}
}

func TestUnknownConnectionIsTolerated(t *testing.T) {
	r := NewRegistry()
	r.JoinProjectGroup("ghost", "p")
	r.LeaveProjectGroup("ghost", "p")
	r.OnDisconnect("ghost")
	if got := r.MembersOf("project:p"); len(got) != 0 {
		t.Fatalf("unknown connection joined a group: %v", got)
	}
	if _, ok := r.UserOf("ghost"); ok {
		t.Fatal("unknown connection reported as registered")
	}
}

func TestMembersOfReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.OnConnect("c1", "u1")
	members := r.MembersOf(AllUsersGroup)
	r.OnConnect("c2", "u2")
	if len(members) != 1 {
		t.Fatalf("snapshot changed after connect: %v", members)
	}
}

func TestRegistryConcurrentIndexStaysConsistent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				r.OnConnect(id, fmt.Sprintf("u%d", i%4))
				r.JoinProjectGroup(id, fmt.Sprintf("p%d", j%3))
				_ = r.MembersOf(AllUsersGroup)
				r.LeaveProjectGroup(id, fmt.Sprintf("p%d", (j+1)%3))
				if j%2 == 0 {
					r.OnDisconnect(id)
				}
			}
		}(i)
	}
	wg.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID, c := range r.conns {
		for g := range c.groups {
			if _, ok := r.groups[g][connID]; !ok {
				t.Fatalf("connection %s lists group %s but group index misses it", connID, g)
			}
		}
	}
	for g, members := range r.groups {
		if len(members) == 0 {
			t.Fatalf("empty group %s left in index", g)
		}
		for connID := range members {
			c, ok := r.conns[connID]
			if !ok {
				t.Fatalf("group %s lists unknown connection %s", g, connID)
			}
			if _, ok := c.groups[g]; !ok {
				t.Fatalf("group %s lists %s but connection misses the group", g, connID)
			}
		}
	}
}
