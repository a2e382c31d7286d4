// Package cart manages per-customer carts.
//
// Adding a line reserves stock immediately through the stock ledger, so a
// cart always holds the units it shows. Updating a line reserves or releases
// only the difference; removing a line or clearing the cart releases what was
// held. A cart holds items of one restaurant at a time.
//
// After every mutation the delivery estimate is recomputed from the
// restaurant of the first line:
//
//	svc := cart.NewService(store, stock.NewLedger(m), estimator, logger)
//	view, err := svc.AddItem(ctx, customerID, menuItemID, 2)
//	fmt.Println(view.TotalPrice, view.DeliveryTime)
package cart
