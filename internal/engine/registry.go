package engine

import (
	"fadebot/pkg/exchanges/common"
)

// Registry maps roles to the order placed for that role. It carries no
// ordering semantics and is cleared entirely on every reset. It is not
// self-locking: the Manager mutates it only under its own lock.
type Registry struct {
	orders map[Role]common.Order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{orders: make(map[Role]common.Order)}
}

// Register stores the order for a role, replacing any previous one.
func (r *Registry) Register(role Role, o common.Order) {
	r.orders[role] = o
}

// Deregister retires a role.
func (r *Registry) Deregister(role Role) {
	delete(r.orders, role)
}

// Get returns the order registered for a role.
func (r *Registry) Get(role Role) (common.Order, bool) {
	o, ok := r.orders[role]
	return o, ok
}

// RoleOf returns the role owning a client order ID.
func (r *Registry) RoleOf(clientOrderID string) (Role, bool) {
	for role, o := range r.orders {
		if o.ClientOrderID == clientOrderID {
			return role, true
		}
	}
	return "", false
}

// Roles lists the roles currently present.
func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.orders))
	for role := range r.orders {
		out = append(out, role)
	}
	return out
}

// Snapshot returns a copy of the full mapping.
func (r *Registry) Snapshot() map[Role]common.Order {
	out := make(map[Role]common.Order, len(r.orders))
	for role, o := range r.orders {
		out[role] = o
	}
	return out
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.orders = make(map[Role]common.Order)
}

// Len returns the number of registered roles.
func (r *Registry) Len() int {
	return len(r.orders)
}
