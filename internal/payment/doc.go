// Package payment keeps payments consistent with their orders.
//
// A card order is confirmed only when its payment becomes PAID; a cash order
// is settled when the courier marks it delivered. Each order has at most one
// payment, created PENDING by the customer for the full order total.
package payment
