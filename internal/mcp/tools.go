package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/orderflow-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters or domain validation failure
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32010 // Referenced entity does not exist
	ErrorCodeInvalidState  = -32011 // Operation not legal in the current state
	ErrorCodeOutOfStock    = -32012 // Not enough stock for the reservation
	ErrorCodeAccessDenied  = -32013 // Caller has no rights over the target
)

// toolFunc is a tool body once arguments and the caller are resolved
type toolFunc func(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error)

// handle adapts a toolFunc to the mcp-go handler signature
func (s *Server) handle(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
		}

		actor, err := actorFrom(args)
		if err != nil {
			return nil, err
		}

		result, err := fn(ctx, actor, args)
		if err != nil {
			return nil, s.toolError(name, err)
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}
}

func (s *Server) handlers() map[string]toolFunc {
	return map[string]toolFunc{
		"cart_get":              s.cartGet,
		"cart_add_item":         s.cartAddItem,
		"cart_update_item":      s.cartUpdateItem,
		"cart_remove_item":      s.cartRemoveItem,
		"cart_clear":            s.cartClear,
		"order_create":          s.orderCreate,
		"order_get":             s.orderGet,
		"order_list":            s.orderList,
		"order_history":         s.orderHistory,
		"order_update_status":   s.orderUpdateStatus,
		"order_cancel":          s.orderCancel,
		"courier_assign":        s.courierAssign,
		"courier_active_orders": s.courierActiveOrders,
		"courier_set_status":    s.courierSetStatus,
		"courier_sweep":         s.courierSweep,
		"payment_create":        s.paymentCreate,
		"payment_get":           s.paymentGet,
		"payment_get_by_order":  s.paymentGetByOrder,
		"payment_update_status": s.paymentUpdateStatus,
		"eta_estimate":          s.etaEstimate,
	}
}

// Cart tools act on the caller's own cart

func (s *Server) cartGet(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	return s.svc.Carts.GetOrCreate(ctx, actor.ID)
}

func (s *Server) cartAddItem(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	itemID, err := requireID(args, "menu_item_id")
	if err != nil {
		return nil, err
	}
	qty, err := requireInt(args, "quantity")
	if err != nil {
		return nil, err
	}
	return s.svc.Carts.AddItem(ctx, actor.ID, itemID, qty)
}

func (s *Server) cartUpdateItem(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	lineID, err := requireID(args, "cart_item_id")
	if err != nil {
		return nil, err
	}
	qty, err := requireInt(args, "quantity")
	if err != nil {
		return nil, err
	}
	return s.svc.Carts.UpdateItem(ctx, actor.ID, lineID, qty)
}

func (s *Server) cartRemoveItem(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	lineID, err := requireID(args, "cart_item_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Carts.RemoveItem(ctx, actor.ID, lineID)
}

func (s *Server) cartClear(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	return s.svc.Carts.Clear(ctx, actor.ID)
}

// Order tools

func (s *Server) orderCreate(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if err := requireRole(actor, types.RoleCustomer); err != nil {
		return nil, err
	}
	restaurantID, err := requireID(args, "restaurant_id")
	if err != nil {
		return nil, err
	}
	method, err := types.ParsePaymentMethod(getStringDefault(args, "payment_method", ""))
	if err != nil {
		return nil, err
	}
	return s.svc.Orders.CreateFromCart(ctx, actor.ID, restaurantID, method)
}

func (s *Server) orderGet(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Orders.Get(ctx, actor, orderID)
}

func (s *Server) orderList(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	id, err := getIntDefault(args, "customer_id", int(actor.ID))
	if err != nil {
		return nil, err
	}
	customerID := int64(id)
	if customerID != actor.ID && !actor.IsAdmin() {
		return nil, types.Errorf("order.List", types.ErrAccessDenied, "orders of customer %d", customerID)
	}
	orders, err := s.svc.Orders.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"orders": orders, "count": len(orders)}, nil
}

func (s *Server) orderHistory(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	history, err := s.svc.Orders.History(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"order_id": orderID, "history": history}, nil
}

func (s *Server) orderUpdateStatus(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	status, err := types.ParseOrderStatus(getStringDefault(args, "status", ""))
	if err != nil {
		return nil, err
	}
	return s.svc.Orders.UpdateStatus(ctx, actor, orderID, status)
}

func (s *Server) orderCancel(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Orders.Cancel(ctx, actor, orderID)
}

// Courier tools

func (s *Server) courierAssign(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	courierID, err := requireID(args, "courier_id")
	if err != nil {
		return nil, err
	}
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Couriers.Assign(ctx, actor, courierID, orderID)
}

func (s *Server) courierActiveOrders(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	courierID, err := requireID(args, "courier_id")
	if err != nil {
		return nil, err
	}
	orders, err := s.svc.Couriers.ActiveOrders(ctx, actor, courierID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"courier_id": courierID, "orders": orders, "count": len(orders)}, nil
}

func (s *Server) courierSetStatus(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	courierID, err := requireID(args, "courier_id")
	if err != nil {
		return nil, err
	}
	status, err := types.ParseCourierStatus(getStringDefault(args, "status", ""))
	if err != nil {
		return nil, err
	}
	return s.svc.Couriers.SetStatus(ctx, actor, courierID, status)
}

func (s *Server) courierSweep(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	if !actor.IsAdmin() {
		return nil, types.Errorf("courier.Sweep", types.ErrAccessDenied, "only an administrator can run the sweep")
	}
	res, ran, err := s.svc.Sweeper.TryRun(ctx)
	if err != nil {
		return nil, err
	}
	if !ran {
		return map[string]interface{}{"ran": false, "message": "a sweep is already running"}, nil
	}
	return map[string]interface{}{"ran": true, "result": res}, nil
}

// Payment tools

func (s *Server) paymentCreate(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Payments.Create(ctx, actor, orderID)
}

func (s *Server) paymentGet(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	paymentID, err := requireID(args, "payment_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Payments.Get(ctx, actor, paymentID)
}

func (s *Server) paymentGetByOrder(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	orderID, err := requireID(args, "order_id")
	if err != nil {
		return nil, err
	}
	return s.svc.Payments.GetByOrder(ctx, actor, orderID)
}

func (s *Server) paymentUpdateStatus(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	paymentID, err := requireID(args, "payment_id")
	if err != nil {
		return nil, err
	}
	status, err := types.ParsePaymentStatus(getStringDefault(args, "status", ""))
	if err != nil {
		return nil, err
	}
	return s.svc.Payments.UpdateStatus(ctx, actor, paymentID, status)
}

func (s *Server) etaEstimate(ctx context.Context, actor types.Actor, args map[string]interface{}) (interface{}, error) {
	restaurantID, err := requireID(args, "restaurant_id")
	if err != nil {
		return nil, err
	}
	est, err := s.svc.Estimator.Estimate(ctx, s.svc.Store, restaurantID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"restaurant_id": restaurantID,
		"prep_minutes":  est.PrepMinutes,
		"wait_minutes":  est.WaitMinutes,
		"total_minutes": est.Minutes(),
		"delivery_time": time.Now().UTC().Add(est.Duration()).Format(time.RFC3339),
	}, nil
}

// Helper functions

// toolError maps a domain error to a stable MCP error code. Internal errors
// are logged and reported without detail.
func (s *Server) toolError(tool string, err error) error {
	kind := types.KindOf(err)
	code := ErrorCodeInternalError
	switch kind {
	case types.KindNotFound:
		code = ErrorCodeNotFound
	case types.KindInvalidState:
		code = ErrorCodeInvalidState
	case types.KindOutOfStock:
		code = ErrorCodeOutOfStock
	case types.KindAccessDenied:
		code = ErrorCodeAccessDenied
	case types.KindValidation:
		code = ErrorCodeInvalidParams
	}

	if code == ErrorCodeInternalError {
		s.logger.Error("tool failed", "tool", tool, "error", err)
		return newMCPError(code, "internal error", map[string]interface{}{"kind": string(kind)})
	}
	s.logger.Debug("tool rejected", "tool", tool, "kind", string(kind), "error", err)
	return newMCPError(code, err.Error(), map[string]interface{}{"kind": string(kind)})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// actorFrom resolves the caller from actor_id and roles
func actorFrom(args map[string]interface{}) (types.Actor, error) {
	id, err := getIntDefault(args, "actor_id", 0)
	if err != nil {
		return types.Actor{}, err
	}
	if id <= 0 {
		return types.Actor{}, newMCPError(ErrorCodeInvalidParams, "actor_id parameter is required", map[string]interface{}{
			"param":  "actor_id",
			"reason": "missing or not positive",
		})
	}

	raw, ok := args["roles"].([]interface{})
	if !ok {
		return types.Actor{}, newMCPError(ErrorCodeInvalidParams, "roles parameter is required", map[string]interface{}{
			"param":  "roles",
			"reason": "missing or not an array",
		})
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		name, ok := r.(string)
		if !ok {
			return types.Actor{}, newMCPError(ErrorCodeInvalidParams, "roles must be strings", map[string]interface{}{
				"param": "roles",
			})
		}
		roles = append(roles, name)
	}

	actor, err := types.NewActor(int64(id), roles...)
	if err != nil {
		return types.Actor{}, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
			"param": "roles",
		})
	}
	return actor, nil
}

func requireRole(actor types.Actor, role types.Role) error {
	if actor.Has(role) {
		return nil
	}
	return types.Errorf("mcp.requireRole", types.ErrAccessDenied, "role %s required", role)
}

// requireID extracts a positive id parameter
func requireID(args map[string]interface{}, key string) (int64, error) {
	v, err := getIntDefault(args, key, 0)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or not positive",
		})
	}
	return int64(v), nil
}

// requireInt extracts an integer parameter; range checks belong to the service
func requireInt(args map[string]interface{}, key string) (int, error) {
	if _, ok := args[key]; !ok {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing",
		})
	}
	return getIntDefault(args, key, 0)
}

// formatJSON formats a result as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value.
// Fractional and non-numeric values are invalid params, never truncated.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return defaultValue, nil
	}
	switch val := raw.(type) {
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > math.MaxInt32 {
			return 0, invalidInt(key, "not an integer")
		}
		return int(val), nil
	case int:
		return val, nil
	case int64:
		return int(val), nil
	}
	return 0, invalidInt(key, "not a number")
}

func invalidInt(key, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{
		"param":  key,
		"reason": reason,
	})
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
