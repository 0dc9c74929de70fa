package events

// Topic constants for domain events emitted by the cart services.
const (
	TopicCartCompleted     = "cart.completed"
	TopicCartAbandoned     = "cart.abandoned"
	TopicOrderCreated      = "order.created"
	TopicInventoryLowStock = "inventory.low_stock"
)

// DefaultTopics returns every topic the services emit.
func DefaultTopics() []string {
	return []string{
		TopicCartCompleted,
		TopicCartAbandoned,
		TopicOrderCreated,
		TopicInventoryLowStock,
	}
}
