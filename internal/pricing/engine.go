package pricing

// Money represents a monetary value stored in integer cents. All pricing
// arithmetic happens in cents; floating point is never used for currency.
type Money = int64

// ItemKind distinguishes the two catalogue families a promo can target.
type ItemKind string

const (
	KindGame  ItemKind = "game"
	KindMerch ItemKind = "merch"
)

// DiscountKind selects how a discount value is interpreted.
type DiscountKind string

const (
	// KindPercentage treats Value as a whole percentage in 1..100.
	KindPercentage DiscountKind = "percentage"
	// KindFixed treats Value as an absolute amount in cents.
	KindFixed DiscountKind = "fixed"
)

// Item describes a line item used for pricing calculation.
type Item struct {
	Kind      ItemKind
	Qty       int
	UnitPrice Money
}

// Discount captures an accepted promo decision as pricing input.
type Discount struct {
	Kind           DiscountKind
	Value          int64
	MaxDiscount    *Money
	AppliesToGames bool
	AppliesToMerch bool
}

// Params holds the fixed storefront pricing knobs.
type Params struct {
	TaxBps                int
	FreeShippingThreshold Money
	FlatShippingRate      Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money `json:"subtotalCents"`
	Eligible Money `json:"eligibleCents"`
	Discount Money `json:"discountCents"`
	Shipping Money `json:"shippingCents"`
	Tax      Money `json:"taxCents"`
	Total    Money `json:"totalCents"`
}

// Subtotal sums unit price times quantity over all lines with positive quantity.
func Subtotal(items []Item) Money {
	var total Money
	for _, it := range items {
		if it.Qty <= 0 || it.UnitPrice < 0 {
			continue
		}
		total += Money(it.Qty) * it.UnitPrice
	}
	return total
}

// EligibleSubtotal sums the lines a discount is allowed to touch. A nil
// discount makes the whole cart eligible.
func EligibleSubtotal(items []Item, d *Discount) Money {
	if d == nil {
		return Subtotal(items)
	}
	var total Money
	for _, it := range items {
		if it.Qty <= 0 || it.UnitPrice < 0 {
			continue
		}
		if applies(*d, it.Kind) {
			total += Money(it.Qty) * it.UnitPrice
		}
	}
	return total
}

func applies(d Discount, kind ItemKind) bool {
	switch kind {
	case KindGame:
		return d.AppliesToGames
	case KindMerch:
		return d.AppliesToMerch
	default:
		return false
	}
}

// DiscountAmount computes the cent value of a discount against the eligible
// subtotal. Percentage discounts floor; the optional cap clamps first and the
// eligible subtotal clamps last, so a discount can never push a line negative.
func DiscountAmount(eligible Money, d Discount) Money {
	if eligible <= 0 {
		return 0
	}
	var discount Money
	switch d.Kind {
	case KindPercentage:
		if d.Value <= 0 || d.Value > 100 {
			return 0
		}
		discount = (eligible * Money(d.Value)) / 100
	case KindFixed:
		discount = Money(d.Value)
	default:
		return 0
	}
	if d.MaxDiscount != nil && discount > *d.MaxDiscount {
		discount = *d.MaxDiscount
	}
	if discount > eligible {
		discount = eligible
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// Compute calculates cart totals. The discount applies against the eligible
// subtotal only; free shipping qualifies on the merchandise subtotal before
// discount; tax applies a flat basis-point rate to the discounted amount with
// half-up rounding.
func Compute(items []Item, d *Discount, p Params) Summary {
	subtotal := Subtotal(items)
	eligible := EligibleSubtotal(items, d)
	var discount Money
	if d != nil {
		discount = DiscountAmount(eligible, *d)
	}
	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	var shipping Money
	if subtotal <= p.FreeShippingThreshold {
		shipping = p.FlatShippingRate
	}
	tax := (taxable*Money(p.TaxBps) + 5000) / 10000
	return Summary{
		Subtotal: subtotal,
		Eligible: eligible,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    taxable + shipping + tax,
	}
}
