package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pressplay/checkout-engine/internal/pricing"
)

// ErrEmptySnapshot is returned when a checkout starts with no line items.
var ErrEmptySnapshot = errors.New("cart: snapshot has no line items")

// LineItem is one priced line of a cart snapshot. Prices are frozen at the
// moment the snapshot is produced; the engine treats them as authoritative
// and never accepts a client-supplied discount amount.
type LineItem struct {
	ItemID    string           `json:"itemId"`
	Kind      pricing.ItemKind `json:"itemKind"`
	UnitPrice int64            `json:"unitPriceCents"`
	Qty       int              `json:"quantity"`
	Variant   string           `json:"variant,omitempty"`
}

// Validate checks the structural invariants of a snapshot line.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.ItemID) == "" {
		return errors.New("cart: item id is required")
	}
	switch li.Kind {
	case pricing.KindGame, pricing.KindMerch:
	default:
		return fmt.Errorf("cart: unknown item kind %q", li.Kind)
	}
	if li.UnitPrice < 0 {
		return fmt.Errorf("cart: negative unit price for item %s", li.ItemID)
	}
	if li.Qty < 1 {
		return fmt.Errorf("cart: quantity below 1 for item %s", li.ItemID)
	}
	return nil
}

// ValidateSnapshot rejects empty snapshots and any malformed line.
func ValidateSnapshot(items []LineItem) error {
	if len(items) == 0 {
		return ErrEmptySnapshot
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Subtotal returns the cent subtotal of the snapshot.
func Subtotal(items []LineItem) int64 {
	return pricing.Subtotal(PricingItems(items))
}

// PricingItems converts a snapshot to the pricing engine's input shape.
func PricingItems(items []LineItem) []pricing.Item {
	out := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		out = append(out, pricing.Item{Kind: it.Kind, Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return out
}

// Clone copies a snapshot so the stored order owns its own lines.
func Clone(items []LineItem) []LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
