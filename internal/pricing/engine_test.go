package pricing

import "testing"

var storeParams = Params{TaxBps: 800, FreeShippingThreshold: 5000, FlatShippingRate: 999}

func TestComputePercentageDiscount(t *testing.T) {
	items := []Item{
		{Kind: KindGame, Qty: 1, UnitPrice: 3500},
		{Kind: KindMerch, Qty: 1, UnitPrice: 2500},
	}
	d := &Discount{Kind: KindPercentage, Value: 20, AppliesToGames: true, AppliesToMerch: true}
	got := Compute(items, d, storeParams)
	if got.Subtotal != 6000 {
		t.Fatalf("subtotal = %d, want 6000", got.Subtotal)
	}
	if got.Discount != 1200 {
		t.Fatalf("discount = %d, want 1200", got.Discount)
	}
	if got.Shipping != 0 {
		t.Fatalf("shipping = %d, want 0", got.Shipping)
	}
	if got.Tax != 384 {
		t.Fatalf("tax = %d, want 384", got.Tax)
	}
	if got.Total != 5184 {
		t.Fatalf("total = %d, want 5184", got.Total)
	}
}

func TestComputeFixedDiscountCapped(t *testing.T) {
	items := []Item{
		{Kind: KindGame, Qty: 2, UnitPrice: 3000},
	}
	cap := Money(3000)
	d := &Discount{Kind: KindFixed, Value: 5000, MaxDiscount: &cap, AppliesToGames: true, AppliesToMerch: true}
	got := Compute(items, d, storeParams)
	if got.Discount != 3000 {
		t.Fatalf("discount = %d, want cap 3000", got.Discount)
	}
	// taxable 3000, 8% tax = 240, free shipping on the 6000 subtotal
	if got.Total != 3240 {
		t.Fatalf("total = %d, want 3240", got.Total)
	}
}

func TestDiscountNeverExceedsEligible(t *testing.T) {
	d := Discount{Kind: KindFixed, Value: 10_000}
	if got := DiscountAmount(2500, d); got != 2500 {
		t.Fatalf("discount = %d, want clamp to eligible 2500", got)
	}
}

func TestEligibleSubtotalScoped(t *testing.T) {
	items := []Item{
		{Kind: KindGame, Qty: 1, UnitPrice: 4000},
		{Kind: KindMerch, Qty: 2, UnitPrice: 1500},
	}
	d := &Discount{Kind: KindPercentage, Value: 10, AppliesToMerch: true}
	if got := EligibleSubtotal(items, d); got != 3000 {
		t.Fatalf("eligible = %d, want 3000", got)
	}
	if got := EligibleSubtotal(items, nil); got != 7000 {
		t.Fatalf("eligible (no discount) = %d, want 7000", got)
	}
}

func TestComputeFlatShippingBelowThreshold(t *testing.T) {
	items := []Item{{Kind: KindMerch, Qty: 1, UnitPrice: 2000}}
	got := Compute(items, nil, storeParams)
	if got.Shipping != 999 {
		t.Fatalf("shipping = %d, want flat 999", got.Shipping)
	}
	if got.Tax != 160 {
		t.Fatalf("tax = %d, want 160", got.Tax)
	}
	if got.Total != 2000+999+160 {
		t.Fatalf("total = %d, want %d", got.Total, 2000+999+160)
	}
}

func TestComputeDeterministic(t *testing.T) {
	items := []Item{
		{Kind: KindGame, Qty: 3, UnitPrice: 1999},
		{Kind: KindMerch, Qty: 1, UnitPrice: 2350},
	}
	d := &Discount{Kind: KindPercentage, Value: 33, AppliesToGames: true}
	first := Compute(items, d, storeParams)
	for i := 0; i < 100; i++ {
		if got := Compute(items, d, storeParams); got != first {
			t.Fatalf("run %d diverged: %+v != %+v", i, got, first)
		}
	}
}

func TestComputeIgnoresNonPositiveQuantities(t *testing.T) {
	items := []Item{
		{Kind: KindGame, Qty: 0, UnitPrice: 5000},
		{Kind: KindGame, Qty: -2, UnitPrice: 5000},
		{Kind: KindMerch, Qty: 1, UnitPrice: 1200},
	}
	if got := Subtotal(items); got != 1200 {
		t.Fatalf("subtotal = %d, want 1200", got)
	}
}
