package transaction

import "testing"

func TestRoleOf(t *testing.T) {
	txn := Transaction{ID: "t1", ClientID: "client-1", AgentID: "agent-1"}

	cases := []struct {
		user   string
		role   Role
		member bool
	}{
		{"agent-1", RoleAgent, true},
		{"client-1", RoleClient, true},
		{"stranger", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		role, ok := txn.RoleOf(tc.user)
		if ok != tc.member || role != tc.role {
			t.Fatalf("RoleOf(%q) = %q, %v; want %q, %v", tc.user, role, ok, tc.role, tc.member)
		}
	}

	if got := txn.Counterpart(RoleAgent); got != "client-1" {
		t.Fatalf("expected client counterpart, got %s", got)
	}
	if got := txn.Counterpart(RoleClient); got != "agent-1" {
		t.Fatalf("expected agent counterpart, got %s", got)
	}
}

func TestStatusOpen(t *testing.T) {
	for status, open := range map[Status]bool{
		StatusPending:   true,
		StatusActive:    true,
		StatusCompleted: false,
		StatusCancelled: false,
	} {
		if status.Open() != open {
			t.Fatalf("%s.Open() = %v", status, !open)
		}
	}
}
