// Package order implements the order aggregate and its state machine.
//
// Orders are carved out of a customer's cart with prices frozen at creation.
// Status changes follow a fixed table of role, current status and allowed
// targets (see Targets). Every committed change writes a history row and
// notifies the customer after commit. Delivery records the cook time as a
// prep time sample, settles cash payments and frees the courier; cancellation
// returns every line to stock.
//
//	o, err := svc.CreateFromCart(ctx, customerID, restaurantID, types.PaymentCash)
//	o, err = svc.UpdateStatus(ctx, owner, o.ID, types.OrderConfirmed)
package order
