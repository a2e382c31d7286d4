// Package mcp implements the Model Context Protocol (MCP) server for orderflow.
//
// The server exposes the order fulfillment operations as MCP tools so that an
// assistant or a thin gateway can drive carts, orders, couriers and payments:
//
//   - cart_get, cart_add_item, cart_update_item, cart_remove_item, cart_clear
//   - order_create, order_get, order_list, order_history,
//     order_update_status, order_cancel
//   - courier_assign, courier_active_orders, courier_set_status, courier_sweep
//   - payment_create, payment_get, payment_get_by_order, payment_update_status
//   - eta_estimate
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Identity
//
// Authentication happens upstream. Every tool receives the resolved caller as
// actor_id and roles (customer, owner, courier, admin):
//
//	Request:
//	{
//	  "name": "cart_add_item",
//	  "arguments": {
//	    "actor_id": 7,
//	    "roles": ["customer"],
//	    "menu_item_id": 10,
//	    "quantity": 2
//	  }
//	}
//
//	Response (text content, indented JSON):
//	{
//	  "id": 3,
//	  "customer_id": 7,
//	  "items": [...],
//	  "total_quantity": 2,
//	  "total_price": "20",
//	  "delivery_time": "2026-05-01T12:55:00Z"
//	}
//
// Cart tools and order_create always act on the caller's own cart and require
// the customer role. order_list defaults to the caller; administrators may pass
// customer_id.
//
// # Error Handling
//
// Domain rejections map to stable JSON-RPC error codes:
//
//   - -32010: Not found
//   - -32011: Invalid state (illegal transition, closed restaurant, ...)
//   - -32012: Out of stock
//   - -32013: Access denied
//   - -32602: Invalid params (missing arguments, unknown enum, non-positive quantity)
//   - -32603: Internal error (database, queue, ...), details are only logged
//
// # Logging
//
// The server never writes to stdout except for protocol frames. Logs go to the
// configured slog handler, stderr by default.
package mcp
