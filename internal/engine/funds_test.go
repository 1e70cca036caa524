package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreasuryLedgerSettle(t *testing.T) {
	t.Run("applies every leg or none", func(t *testing.T) {
		tl := NewTreasuryLedger()
		require.NoError(t, tl.Deposit("a", 100))

		err := tl.Settle([]FundsTransfer{
			{From: "a", To: "b", Amount: 60},
			{From: "a", To: "c", Amount: 50}, // pushes a negative
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(100), tl.Balance("a"))
		assert.Zero(t, tl.Balance("b"))
		assert.Zero(t, tl.Balance("c"))

		require.NoError(t, tl.Settle([]FundsTransfer{
			{From: "a", To: "b", Amount: 60},
			{From: "a", To: "c", Amount: 40},
		}))
		assert.Zero(t, tl.Balance("a"))
		assert.Equal(t, int64(60), tl.Balance("b"))
		assert.Equal(t, int64(40), tl.Balance("c"))
	})

	t.Run("judges round trips on net effect", func(t *testing.T) {
		tl := NewTreasuryLedger()
		require.NoError(t, tl.Deposit("borrower", 20))

		// Payment through escrow and partial refund, like a session start.
		require.NoError(t, tl.Settle([]FundsTransfer{
			{From: "borrower", To: "escrow", Amount: 20},
			{From: "escrow", To: "lender", Amount: 11},
			{From: "escrow", To: "treasury", Amount: 3},
			{From: "escrow", To: "borrower", Amount: 6},
		}))
		assert.Equal(t, int64(6), tl.Balance("borrower"))
		assert.Equal(t, int64(11), tl.Balance("lender"))
		assert.Equal(t, int64(3), tl.Balance("treasury"))
		assert.Zero(t, tl.Balance("escrow"))
	})

	t.Run("rejects negative and anonymous legs", func(t *testing.T) {
		tl := NewTreasuryLedger()
		assert.ErrorIs(t, tl.Settle([]FundsTransfer{{From: "a", To: "b", Amount: -1}}), ErrInvalidPrice)
		assert.ErrorIs(t, tl.Settle([]FundsTransfer{{From: "", To: "b", Amount: 1}}), ErrZeroAccount)
	})

	t.Run("zero legs are dropped", func(t *testing.T) {
		tl := NewTreasuryLedger()
		assert.NoError(t, tl.Settle([]FundsTransfer{{From: "a", To: "b", Amount: 0}}))
	})
}

func TestTreasuryLedgerDeposit(t *testing.T) {
	tl := NewTreasuryLedger()
	assert.ErrorIs(t, tl.Deposit("", 10), ErrZeroAccount)
	assert.ErrorIs(t, tl.Deposit("a", 0), ErrInvalidPrice)
	require.NoError(t, tl.Deposit("a", 10))
	require.NoError(t, tl.Deposit("a", 5))
	assert.Equal(t, int64(15), tl.Balance("a"))
}

func TestSplitFee(t *testing.T) {
	cases := []struct {
		name     string
		total    int64
		bps      int64
		platform int64
	}{
		{"even split", 10000, 2500, 2500},
		{"truncates down", 14, 2500, 3},
		{"zero fee", 100, 0, 0},
		{"rounding remainder to counterparty", 99, 3333, 32},
		{"one unit", 1, 9999, 0},
		{"large amount stays exact", 4_000_000_000_000_000_000, 2500, 1_000_000_000_000_000_000},
		{"tiny fee on huge amount", 9_000_000_000_000_000_000, 1, 900_000_000_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			platform, remainder := splitFee(tc.total, tc.bps)
			assert.Equal(t, tc.platform, platform)
			assert.Equal(t, tc.total, platform+remainder, "no value lost to rounding")
		})
	}
}

func TestLargeSessionFeeSplit(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 4_000_000_000_000_000_000))

	// price 1e15 per unit per tick, 4 units, 1000 ticks: total 4e18, within
	// int64 but far past the point where total*bps would wrap.
	l, err := e.CreateListing("lender", "batch-1", 1_000_000_000_000_000, 10, 1, 1000)
	require.NoError(t, err)
	_, err = e.StartSession("borrower", l.ID, 4, 1000, 4_000_000_000_000_000_000)
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000_000_000_000_000), funds.Balance("treasury"))
	assert.Equal(t, int64(3_000_000_000_000_000_000), funds.Balance("lender"))
	assert.Equal(t, int64(0), funds.Balance("borrower"))
}

func TestMulCheck(t *testing.T) {
	v, ok := mulCheck(1<<31, 1<<31)
	assert.True(t, ok)
	assert.Equal(t, int64(1)<<62, v)

	_, ok = mulCheck(1<<32, 1<<32)
	assert.False(t, ok)

	v, ok = mulCheck(0, 1<<62)
	assert.True(t, ok)
	assert.Zero(t, v)
}
