package identity

import "context"

type ctxKey string

const customerKeyKey ctxKey = "identity/customer-key"

// WithCustomerKey stores the resolved customer key on the provided context.
func WithCustomerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, customerKeyKey, key)
}

// CustomerKey extracts the customer key from the context if present.
func CustomerKey(ctx context.Context) (string, bool) {
	v := ctx.Value(customerKeyKey)
	if v == nil {
		return "", false
	}
	key, ok := v.(string)
	return key, ok
}
