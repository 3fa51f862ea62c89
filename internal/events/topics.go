package events

// Topic constants for domain events emitted by the checkout engine.
const (
	TopicOrderCreated  = "order.created"
	TopicOrderPaid     = "order.paid"
	TopicOrderCanceled = "order.canceled"
	TopicPaymentFailed = "payment.failed"
	TopicPromoRedeemed = "promo.redeemed"
	TopicPromoReleased = "promo.released"
)

// DefaultTopics returns the canonical list of topics the engine emits.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicPaymentFailed,
		TopicPromoRedeemed,
		TopicPromoReleased,
	}
}
