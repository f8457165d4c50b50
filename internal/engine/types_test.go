package engine

import (
	"testing"

	"fadebot/pkg/exchanges/common"
)

func TestRoleFromClientID(t *testing.T) {
	cases := []struct {
		id   string
		role Role
		ok   bool
	}{
		{"open_1693489587123", RoleOpen, true},
		{"take_0_1693489587123", RoleTake0, true},
		{"take_1_1693489587123", RoleTake1, true},
		{"break_even_1693489587123", RoleBreakEven, true},
		{"timeout_1", RoleTimeout, true},
		{"close_42", RoleClose, true},
		{"stop_1693489587123", RoleStop, true},
		{"web_1693489587123", "", false},  // foreign prefix
		{"take_0_", "", false},            // empty suffix
		{"take_0_12a3", "", false},        // non-numeric suffix
		{"open", "", false},               // no separator
		{"x-fQq3T1mZ9", "", false},        // exchange-generated ID
		{"", "", false},
	}
	for _, tc := range cases {
		role, ok := RoleFromClientID(tc.id)
		if ok != tc.ok || role != tc.role {
			t.Errorf("RoleFromClientID(%q) = (%q, %v), want (%q, %v)", tc.id, role, ok, tc.role, tc.ok)
		}
	}
}

func TestRoleClosing(t *testing.T) {
	closing := map[Role]bool{
		RoleOpen:      false,
		RoleTake0:     false,
		RoleStop:      true,
		RoleTake1:     true,
		RoleBreakEven: true,
		RoleClose:     true,
		RoleTimeout:   true,
	}
	for role, want := range closing {
		if got := role.Closing(); got != want {
			t.Errorf("%s.Closing() = %v, want %v", role, got, want)
		}
	}
}

func TestExpectedRolesPerState(t *testing.T) {
	cases := map[State][]Role{
		StateEmpty:           {},
		StateOpenPlaced:      {RoleOpen},
		StateOpenFilled:      {},
		StateStopsPlaced:     {RoleStop, RoleTake0, RoleTake1},
		StateFirstTakeFilled: {RoleStop, RoleTake0, RoleTake1},
		StateBreakEvenPlaced: {RoleTake1, RoleBreakEven},
	}
	for state, want := range cases {
		got := ExpectedRoles(state)
		if len(got) != len(want) {
			t.Errorf("ExpectedRoles(%s) = %v, want %v", state, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ExpectedRoles(%s) = %v, want %v", state, got, want)
				break
			}
		}
	}

	// The returned slice is a copy; mutating it must not corrupt the table.
	roles := ExpectedRoles(StateStopsPlaced)
	if len(roles) > 0 {
		roles[0] = RoleClose
	}
	if ExpectedRoles(StateStopsPlaced)[0] != RoleStop {
		t.Fatal("ExpectedRoles exposed internal state")
	}
}

func TestImbalanceSize(t *testing.T) {
	up := Imbalance{Direction: DirectionUp, StartPrice: 90000, EndPrice: 93000}
	if up.Size() != 3000 {
		t.Fatalf("size = %v, want 3000", up.Size())
	}
	down := Imbalance{Direction: DirectionDown, StartPrice: 93000, EndPrice: 90000}
	if down.Size() != 3000 {
		t.Fatalf("size = %v, want 3000", down.Size())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	r.Register(RoleOpen, common.Order{ClientOrderID: "open_1"})
	r.Register(RoleStop, common.Order{ClientOrderID: "stop_1"})

	if role, ok := r.RoleOf("stop_1"); !ok || role != RoleStop {
		t.Fatalf("RoleOf(stop_1) = (%q, %v)", role, ok)
	}
	if _, ok := r.RoleOf("unknown_1"); ok {
		t.Fatal("RoleOf matched a foreign ID")
	}

	// Re-registering a role replaces the previous order.
	r.Register(RoleOpen, common.Order{ClientOrderID: "open_2"})
	if o, _ := r.Get(RoleOpen); o.ClientOrderID != "open_2" {
		t.Fatalf("re-register kept old order %q", o.ClientOrderID)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	r.Deregister(RoleOpen)
	if _, ok := r.Get(RoleOpen); ok {
		t.Fatal("deregistered role still present")
	}

	snap := r.Snapshot()
	snap[RoleStop] = common.Order{ClientOrderID: "tampered"}
	if o, _ := r.Get(RoleStop); o.ClientOrderID != "stop_1" {
		t.Fatal("snapshot aliases internal map")
	}

	r.Clear()
	if r.Len() != 0 {
		t.Fatal("clear left entries behind")
	}
}
