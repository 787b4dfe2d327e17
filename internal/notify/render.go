package notify

import (
	"fmt"

	"github.com/erazemk/narocila/internal/model"
)

// Render turns an event into the notification its recipient sees.
func Render(ev model.Event) model.Notification {
	n := model.Notification{
		Type:          ev.Type,
		Recipient:     ev.Recipient,
		RecipientKind: ev.RecipientKind,
		RelatedOrder:  ev.OrderID,
	}

	switch ev.Type {
	case model.NotifyOrderPlaced:
		if ev.RecipientKind == model.RecipientAdmin {
			n.Title = "New Order Received"
			n.Message = fmt.Sprintf("New order #%s for %s (Qty: %d)", ev.OrderNumber, ev.ProductName, ev.Quantity)
		} else {
			n.Title = "Order Placed Successfully"
			n.Message = fmt.Sprintf("Your order #%s has been placed", ev.OrderNumber)
		}
	case model.NotifyOrderAccepted:
		n.Title = "Order Accepted"
		n.Message = fmt.Sprintf("Your order #%s has been accepted by admin", ev.OrderNumber)
	case model.NotifyOrderRejected:
		n.Title = "Order Rejected"
		n.Message = fmt.Sprintf("Your order #%s has been rejected", ev.OrderNumber)
	case model.NotifyLowStock:
		n.Title = "Low Inventory Alert"
		n.Message = fmt.Sprintf("Your inventory is running low! Current stock: %d units. Minimum required: %d units. You need to restock %d more units.",
			ev.CurrentStock, ev.MinQuantity, ev.MinQuantity-ev.CurrentStock)
	case model.NotifyNewUser:
		n.Title = "New User Added"
		n.Message = fmt.Sprintf("User %s has been added to your account", ev.Username)
	default:
		n.Title = ev.Type
	}
	return n
}
