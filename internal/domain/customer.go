package domain

import "time"

// Customer relationship tags applied by auto-tagging.
const (
	TagCustomer          = "customer"
	TagPotentialCustomer = "potential-customer"
	TagVisitor           = "visitor"
)

// OrderRef is a lightweight pointer to a shop order.
type OrderRef struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Status    string
}

// CustomerClass is the order-lookup view of a customer used for auto-tagging.
type CustomerClass struct {
	HasCompletedOrders   bool
	HasAbandonedCheckout bool
}

// Classification is the auto-tagging outcome.
type Classification struct {
	Tag      string
	Priority Priority
}

// Classify applies the relationship policy to a lookup result.
func (c CustomerClass) Classify() Classification {
	switch {
	case c.HasCompletedOrders:
		return Classification{Tag: TagCustomer, Priority: PriorityNormal}
	case c.HasAbandonedCheckout:
		return Classification{Tag: TagPotentialCustomer, Priority: PriorityHigh}
	default:
		return VisitorClassification()
	}
}

// VisitorClassification is the fail-open default.
func VisitorClassification() Classification {
	return Classification{Tag: TagVisitor, Priority: PriorityLow}
}
