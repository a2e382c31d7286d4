package types

import "strings"

// OrderStatus is a state of the order lifecycle
type OrderStatus string

const (
	OrderCreated    OrderStatus = "CREATED"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderCooked     OrderStatus = "COOKED"
	OrderInDelivery OrderStatus = "IN_DELIVERY"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Lifecycle is the linear happy path of an order
var Lifecycle = []OrderStatus{
	OrderCreated,
	OrderConfirmed,
	OrderCooked,
	OrderInDelivery,
	OrderDelivered,
}

// AllOrderStatuses lists every order status, CANCELLED last
var AllOrderStatuses = append(append([]OrderStatus{}, Lifecycle...), OrderCancelled)

// ActiveForCourier lists the statuses that still count against a courier's workload
var ActiveForCourier = []OrderStatus{
	OrderCreated,
	OrderConfirmed,
	OrderCooked,
	OrderInDelivery,
}

// Terminal reports whether no transition can leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// ActiveForCourier reports whether s counts against a courier's workload
func (s OrderStatus) ActiveForCourier() bool {
	for _, a := range ActiveForCourier {
		if a == s {
			return true
		}
	}
	return false
}

// Step returns the position of s on the happy path, or -1 for CANCELLED/unknown
func (s OrderStatus) Step() int {
	for i, l := range Lifecycle {
		if l == s {
			return i
		}
	}
	return -1
}

// ParseOrderStatus accepts the canonical upper-case names
func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllOrderStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", Errorf("types.ParseOrderStatus", ErrValidation, "unknown order status %q", v)
}

// CourierStatus is the single source of truth for courier availability
type CourierStatus string

const (
	CourierOffline   CourierStatus = "OFFLINE"
	CourierAvailable CourierStatus = "AVAILABLE"
	CourierWorking   CourierStatus = "WORKING"
	CourierBusy      CourierStatus = "BUSY"
)

// Available is derived from the status; no separate flag is stored
func (s CourierStatus) Available() bool {
	return s == CourierAvailable
}

// ParseCourierStatus accepts the canonical upper-case names
func ParseCourierStatus(v string) (CourierStatus, error) {
	s := CourierStatus(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case CourierOffline, CourierAvailable, CourierWorking, CourierBusy:
		return s, nil
	}
	return "", Errorf("types.ParseCourierStatus", ErrValidation, "unknown courier status %q", v)
}

// PaymentStatus tracks settlement of an order's payment
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// ParsePaymentStatus accepts the canonical upper-case names
func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return s, nil
	}
	return "", Errorf("types.ParsePaymentStatus", ErrValidation, "unknown payment status %q", v)
}

// PaymentMethod decides whether confirmation is payment-driven (CARD) or
// settled on delivery (CASH)
type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH"
)

// CardBased reports whether the order is confirmed by the payment flow
func (m PaymentMethod) CardBased() bool {
	return m == PaymentCard
}

// ParsePaymentMethod accepts the canonical upper-case names
func ParsePaymentMethod(v string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(v)))
	switch m {
	case PaymentCard, PaymentCash:
		return m, nil
	}
	return "", Errorf("types.ParsePaymentMethod", ErrValidation, "unknown payment method %q", v)
}

// String implements fmt.Stringer
func (s OrderStatus) String() string { return string(s) }

// String implements fmt.Stringer
func (s CourierStatus) String() string { return string(s) }
