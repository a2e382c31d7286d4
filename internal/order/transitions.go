package order

import (
	"github.com/dshills/orderflow-mcp/pkg/types"
)

// targets maps a role and the current status to the statuses that role may set
type targets map[types.OrderStatus][]types.OrderStatus

var transitionTable = map[types.Role]targets{
	types.RoleOwner: {
		types.OrderCreated:    {types.OrderConfirmed, types.OrderCancelled},
		types.OrderConfirmed:  {types.OrderCooked, types.OrderCancelled},
		types.OrderCooked:     {types.OrderInDelivery, types.OrderCancelled},
		types.OrderInDelivery: {types.OrderCancelled},
	},
	types.RoleCourier: {
		types.OrderInDelivery: {types.OrderDelivered},
	},
	types.RoleAdmin: adminTargets(),
}

// adminTargets allows any later lifecycle status or CANCELLED from every
// non-terminal status
func adminTargets() targets {
	t := targets{}
	for i, from := range types.Lifecycle {
		if from.Terminal() {
			continue
		}
		later := append([]types.OrderStatus{}, types.Lifecycle[i+1:]...)
		t[from] = append(later, types.OrderCancelled)
	}
	return t
}

// Targets lists the statuses role may move an order in status from to
func Targets(role types.Role, from types.OrderStatus) []types.OrderStatus {
	return transitionTable[role][from]
}

// Allowed reports whether role may move an order from one status to another.
// Owners never confirm card orders: payment does that.
func Allowed(role types.Role, from, to types.OrderStatus, method types.PaymentMethod) bool {
	if role == types.RoleOwner && to == types.OrderConfirmed && method.CardBased() {
		return false
	}
	for _, t := range Targets(role, from) {
		if t == to {
			return true
		}
	}
	return false
}

// relation is what ties an actor to a particular order
type relation struct {
	owner   bool // actor owns the order's restaurant
	courier bool // order is assigned to the actor's courier profile
}

// permits checks the actor's roles against the table. Owner rows apply only
// to the owner's restaurant and courier rows only to the courier's orders.
func permits(actor types.Actor, rel relation, from, to types.OrderStatus, method types.PaymentMethod) bool {
	for _, role := range actor.Roles {
		switch role {
		case types.RoleOwner:
			if !rel.owner {
				continue
			}
		case types.RoleCourier:
			if !rel.courier {
				continue
			}
		case types.RoleAdmin:
		default:
			continue
		}
		if Allowed(role, from, to, method) {
			return true
		}
	}
	return false
}
