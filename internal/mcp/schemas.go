package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var roleNames = []string{"customer", "owner", "courier", "admin"}

var orderStatusNames = []string{"CREATED", "CONFIRMED", "COOKED", "IN_DELIVERY", "DELIVERED", "CANCELLED"}

// newTool builds a tool definition whose schema always carries the caller's
// identity (actor_id and roles) ahead of the tool's own properties
func newTool(name, description string, props map[string]interface{}, required ...string) mcp.Tool {
	properties := map[string]interface{}{
		"actor_id": map[string]interface{}{
			"type":        "integer",
			"description": "Id of the calling user",
			"minimum":     1,
		},
		"roles": map[string]interface{}{
			"type":        "array",
			"description": "Roles held by the calling user",
			"items": map[string]interface{}{
				"type": "string",
				"enum": roleNames,
			},
		},
	}
	for k, v := range props {
		properties[k] = v
	}

	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   append([]string{"actor_id", "roles"}, required...),
		},
	}
}

func idProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
	}
}

func quantityProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Number of units (must be positive)",
		"minimum":     1,
	}
}

// toolDefinitions lists every tool in registration order
func toolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		// Cart
		newTool("cart_get", "Get the caller's cart, creating an empty one when missing", nil),
		newTool("cart_add_item", "Reserve stock and add a menu item to the caller's cart",
			map[string]interface{}{
				"menu_item_id": idProperty("Menu item to add"),
				"quantity":     quantityProperty(),
			}, "menu_item_id", "quantity"),
		newTool("cart_update_item", "Change the quantity of a cart line, reserving or releasing the difference",
			map[string]interface{}{
				"cart_item_id": idProperty("Cart line to change"),
				"quantity":     quantityProperty(),
			}, "cart_item_id", "quantity"),
		newTool("cart_remove_item", "Remove a cart line and release its stock",
			map[string]interface{}{
				"cart_item_id": idProperty("Cart line to remove"),
			}, "cart_item_id"),
		newTool("cart_clear", "Remove every line from the caller's cart and release the stock", nil),

		// Orders
		newTool("order_create", "Place an order from the caller's cart",
			map[string]interface{}{
				"restaurant_id": idProperty("Restaurant the cart belongs to"),
				"payment_method": map[string]interface{}{
					"type":        "string",
					"description": "How the order is paid",
					"enum":        []string{"CASH", "CARD"},
				},
			}, "restaurant_id", "payment_method"),
		newTool("order_get", "Get an order with its items",
			map[string]interface{}{
				"order_id": idProperty("Order to read"),
			}, "order_id"),
		newTool("order_list", "List a customer's orders, newest first",
			map[string]interface{}{
				"customer_id": idProperty("Customer whose orders to list (administrators only, defaults to the caller)"),
			}),
		newTool("order_history", "List the status changes of an order, oldest first",
			map[string]interface{}{
				"order_id": idProperty("Order to read"),
			}, "order_id"),
		newTool("order_update_status", "Move an order to a new status",
			map[string]interface{}{
				"order_id": idProperty("Order to change"),
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Target status",
					"enum":        orderStatusNames,
				},
			}, "order_id", "status"),
		newTool("order_cancel", "Cancel an order and restore its stock",
			map[string]interface{}{
				"order_id": idProperty("Order to cancel"),
			}, "order_id"),

		// Couriers
		newTool("courier_assign", "Assign an order to an available courier (administrators only)",
			map[string]interface{}{
				"courier_id": idProperty("Courier to assign"),
				"order_id":   idProperty("Order to deliver"),
			}, "courier_id", "order_id"),
		newTool("courier_active_orders", "List the orders a courier is working on",
			map[string]interface{}{
				"courier_id": idProperty("Courier to inspect"),
			}, "courier_id"),
		newTool("courier_set_status", "Set a courier's availability",
			map[string]interface{}{
				"courier_id": idProperty("Courier to change"),
				"status": map[string]interface{}{
					"type":        "string",
					"description": "New availability",
					"enum":        []string{"AVAILABLE", "OFFLINE", "BUSY"},
				},
			}, "courier_id", "status"),
		newTool("courier_sweep", "Run one matching pass of confirmed orders against available couriers (administrators only)", nil),

		// Payments
		newTool("payment_create", "Open a pending payment for the caller's order",
			map[string]interface{}{
				"order_id": idProperty("Order to pay"),
			}, "order_id"),
		newTool("payment_get", "Get a payment",
			map[string]interface{}{
				"payment_id": idProperty("Payment to read"),
			}, "payment_id"),
		newTool("payment_get_by_order", "Get the payment of an order",
			map[string]interface{}{
				"order_id": idProperty("Order whose payment to read"),
			}, "order_id"),
		newTool("payment_update_status", "Record the outcome of a card payment (administrators only)",
			map[string]interface{}{
				"payment_id": idProperty("Payment to settle"),
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Outcome",
					"enum":        []string{"PAID", "FAILED"},
				},
			}, "payment_id", "status"),

		// Estimates
		newTool("eta_estimate", "Estimate delivery time for a restaurant from prep history and courier load",
			map[string]interface{}{
				"restaurant_id": idProperty("Restaurant to estimate"),
			}, "restaurant_id"),
	}
}
