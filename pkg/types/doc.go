// Package types provides shared type definitions for the orderflow engine.
//
// This package defines the value types used across every component of the
// fulfillment engine: order, courier and payment statuses, payment methods,
// the closed set of actor roles, and the domain error taxonomy.
//
// # Statuses
//
// OrderStatus follows a linear happy path with a cancellation exit:
//
//	CREATED -> CONFIRMED -> COOKED -> IN_DELIVERY -> DELIVERED
//	    \__________\___________\__________\______-> CANCELLED
//
// DELIVERED and CANCELLED are terminal. The statuses CREATED through
// IN_DELIVERY are "active for courier" and count against a courier's load.
//
// CourierStatus is the single source of truth for availability:
//
//	status.Available() // true only for AVAILABLE
//
// # Actors
//
// Every operation receives a resolved Actor. Authentication happens upstream;
// the engine only inspects roles:
//
//	actor, err := types.NewActor(42, "customer")
//	if actor.IsAdmin() {
//	    // unrestricted
//	}
//
// # Errors
//
// Failures wrap one of five sentinels so a presentation layer can map them
// to stable categories:
//
//	ErrNotFound      referenced entity absent
//	ErrInvalidState  operation not legal in the current state
//	ErrOutOfStock    insufficient inventory
//	ErrAccessDenied  actor lacks rights over the aggregate
//	ErrValidation    malformed input
//
// Use errors.Is for branching and KindOf for mapping:
//
//	if errors.Is(err, types.ErrOutOfStock) {
//	    // business rejection, not a system failure
//	}
//	code := codes[types.KindOf(err)]
package types
