package cart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pressplay/checkout-engine/internal/pricing"
)

func TestValidateSnapshot(t *testing.T) {
	items := []LineItem{
		{ItemID: "game-1", Kind: pricing.KindGame, UnitPrice: 2000, Qty: 2},
		{ItemID: "tee-1", Kind: pricing.KindMerch, UnitPrice: 1500, Qty: 1, Variant: "L"},
	}
	require.NoError(t, ValidateSnapshot(items))
	require.EqualValues(t, 5500, Subtotal(items))
}

func TestValidateSnapshotRejections(t *testing.T) {
	require.ErrorIs(t, ValidateSnapshot(nil), ErrEmptySnapshot)

	cases := []LineItem{
		{ItemID: "", Kind: pricing.KindGame, UnitPrice: 100, Qty: 1},
		{ItemID: "x", Kind: "dlc", UnitPrice: 100, Qty: 1},
		{ItemID: "x", Kind: pricing.KindGame, UnitPrice: -1, Qty: 1},
		{ItemID: "x", Kind: pricing.KindGame, UnitPrice: 100, Qty: 0},
	}
	for _, item := range cases {
		require.Error(t, ValidateSnapshot([]LineItem{item}), "%+v", item)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	items := []LineItem{{ItemID: "game-1", Kind: pricing.KindGame, UnitPrice: 2000, Qty: 1}}
	cloned := Clone(items)
	cloned[0].Qty = 99
	require.Equal(t, 1, items[0].Qty)
	require.Nil(t, Clone(nil))
}
