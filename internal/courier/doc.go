// Package courier matches orders with couriers.
//
// Assignment happens two ways: an administrator assigns a courier to an order
// with Engine.Assign, or the Sweeper periodically pairs unassigned CONFIRMED
// orders with AVAILABLE couriers. Both paths attach the courier the same way:
// the courier becomes WORKING and the order keeps its status unless the food
// is already COOKED, in which case it leaves for delivery.
//
// A courier returns to AVAILABLE through ReleaseIfIdle once its last active
// order is delivered or cancelled.
package courier
