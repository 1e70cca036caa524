package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *TreasuryLedger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	funds := NewTreasuryLedger()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, err := New(Config{
		Admin:             "admin",
		Treasury:          "treasury",
		FeeBasisPoints:    2500,
		MinRentalDuration: 1,
		MaxRentalDuration: 1000,
	}, funds, opts...)
	require.NoError(t, err)
	return e, funds, clock
}

// seedLender mints units to a lender, approves escrow, and funds the
// borrower so sessions can pay.
func seedLender(t *testing.T, e *Engine, lender, batch string, units int64) {
	t.Helper()
	require.NoError(t, e.MintUnits("admin", lender, batch, units))
	require.NoError(t, e.SetApproval(lender, e.EscrowAccount(), true))
}

func TestNew(t *testing.T) {
	t.Run("rejects fee at or above 100 percent", func(t *testing.T) {
		_, err := New(Config{Admin: "a", Treasury: "t", FeeBasisPoints: 10000,
			MinRentalDuration: 1, MaxRentalDuration: 10}, nil)
		assert.ErrorIs(t, err, ErrFeeTooHigh)
	})

	t.Run("rejects empty admin", func(t *testing.T) {
		_, err := New(Config{Treasury: "t", MinRentalDuration: 1, MaxRentalDuration: 10}, nil)
		assert.ErrorIs(t, err, ErrZeroAccount)
	})

	t.Run("rejects inverted duration bounds", func(t *testing.T) {
		_, err := New(Config{Admin: "a", Treasury: "t", MinRentalDuration: 10, MaxRentalDuration: 1}, nil)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})
}

func TestScenarioA_StartSession(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))

	l, err := e.CreateListing("lender", "batch-1", 1, 10, 1, 1000)
	require.NoError(t, err)

	s, err := e.StartSession("borrower", l.ID, 2, 7, 14)
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.UnitsBorrowed)
	assert.Equal(t, int64(14), s.AmountPaid)
	assert.True(t, s.Active)

	got, err := e.Listing(l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.AvailableUnits)

	// 25% fee: platform floor(14*2500/10000)=3, lender 11.
	assert.Equal(t, int64(11), funds.Balance("lender"))
	assert.Equal(t, int64(3), funds.Balance("treasury"))
	assert.Equal(t, int64(86), funds.Balance("borrower"))
	assert.Equal(t, int64(2), e.BalanceOf("borrower", "batch-1"))
	assert.Equal(t, int64(8), e.BalanceOf(e.EscrowAccount(), "batch-1"))
}

func TestScenarioB_OverAvailability(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))
	require.NoError(t, funds.Deposit("borrower2", 1000))

	l, err := e.CreateListing("lender", "batch-1", 1, 10, 1, 1000)
	require.NoError(t, err)
	_, err = e.StartSession("borrower", l.ID, 2, 7, 14)
	require.NoError(t, err)

	_, err = e.StartSession("borrower2", l.ID, 9, 7, 63)
	assert.ErrorIs(t, err, ErrInvalidUnitCount)

	// No state changed.
	got, _ := e.Listing(l.ID)
	assert.Equal(t, int64(8), got.AvailableUnits)
	assert.Equal(t, int64(1000), funds.Balance("borrower2"))
	assert.Zero(t, e.BalanceOf("borrower2", "batch-1"))
}

func TestScenarioC_EndSessionTiming(t *testing.T) {
	e, funds, clock := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))

	l, err := e.CreateListing("lender", "batch-1", 1, 10, 1, 1000)
	require.NoError(t, err)
	s, err := e.StartSession("borrower", l.ID, 2, 7, 14)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	_, err = e.EndSession("borrower", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotYetEnded)

	clock.Advance(4 * time.Second)
	closed, err := e.EndSession("borrower", s.ID)
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, int64(14), closed.AmountPaid)

	got, _ := e.Listing(l.ID)
	assert.Equal(t, int64(10), got.AvailableUnits)
	assert.Equal(t, int64(10), e.BalanceOf(e.EscrowAccount(), "batch-1"))
	assert.Zero(t, e.BalanceOf("borrower", "batch-1"))
}

func TestScenarioD_InsufficientLenderBalance(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.MintUnits("admin", "lender", "batch-1", 3))
	require.NoError(t, e.SetApproval("lender", e.EscrowAccount(), true))

	_, err := e.CreateListing("lender", "batch-1", 1, 5, 1, 1000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Empty(t, e.ListingsByLender("lender"))
	assert.Equal(t, int64(3), e.BalanceOf("lender", "batch-1"))
	assert.Zero(t, e.BalanceOf(e.EscrowAccount(), "batch-1"))
}

func TestScenarioE_FeeTooHigh(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.SetFeeBasisPoints("admin", 10000)
	assert.ErrorIs(t, err, ErrFeeTooHigh)
	assert.Equal(t, int64(2500), e.FeeBasisPoints())

	require.NoError(t, e.SetFeeBasisPoints("admin", 100))
	assert.Equal(t, int64(100), e.FeeBasisPoints())
}

func TestIdempotentClosure(t *testing.T) {
	e, funds, clock := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))

	l, _ := e.CreateListing("lender", "batch-1", 1, 10, 1, 1000)
	s, _ := e.StartSession("borrower", l.ID, 2, 7, 14)

	clock.Advance(8 * time.Second)
	_, err := e.EndSession("borrower", s.ID)
	require.NoError(t, err)

	lenderUnits := e.BalanceOf("lender", "batch-1")
	lenderFunds := funds.Balance("lender")
	avail, _ := e.Listing(l.ID)

	_, err = e.EndSession("borrower", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	// Ledger state identical after the failed retry.
	assert.Equal(t, lenderUnits, e.BalanceOf("lender", "batch-1"))
	assert.Equal(t, lenderFunds, funds.Balance("lender"))
	after, _ := e.Listing(l.ID)
	assert.Equal(t, avail.AvailableUnits, after.AvailableUnits)
}

func TestConservation(t *testing.T) {
	e, funds, clock := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	seedLender(t, e, "lender2", "batch-1", 5)
	require.NoError(t, funds.Deposit("borrower", 500))

	holders := []string{"lender", "lender2", "borrower", e.EscrowAccount()}
	sum := func() int64 {
		var total int64
		for _, h := range holders {
			total += e.BalanceOf(h, "batch-1")
		}
		return total
	}
	require.Equal(t, int64(15), sum())

	l, _ := e.CreateListing("lender", "batch-1", 2, 10, 1, 100)
	assert.Equal(t, int64(15), sum())

	s, _ := e.StartSession("borrower", l.ID, 4, 5, 40)
	assert.Equal(t, int64(15), sum())

	_, err := e.UpdateListing("lender", l.ID, 3, 7, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum())

	_, err = e.CancelListing("lender", l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum())

	clock.Advance(6 * time.Second)
	_, err = e.EndSession("borrower", s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum())
	assert.Equal(t, int64(15), e.BatchSupply("batch-1"))
}

func TestAvailabilityBound(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 20)
	require.NoError(t, funds.Deposit("b1", 1000))
	require.NoError(t, funds.Deposit("b2", 1000))

	l, _ := e.CreateListing("lender", "batch-1", 1, 20, 1, 100)

	check := func() {
		got, err := e.Listing(l.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.AvailableUnits, int64(0))
		assert.LessOrEqual(t, got.AvailableUnits, got.TotalUnits)
		var open int64
		for _, s := range e.OpenSessionsByListing(l.ID) {
			open += s.UnitsBorrowed
		}
		assert.Equal(t, got.TotalUnits-got.AvailableUnits, open)
	}

	check()
	_, err := e.StartSession("b1", l.ID, 5, 10, 50)
	require.NoError(t, err)
	check()
	_, err = e.StartSession("b2", l.ID, 15, 10, 150)
	require.NoError(t, err)
	check()
	_, err = e.StartSession("b1", l.ID, 1, 10, 10)
	assert.ErrorIs(t, err, ErrInvalidUnitCount)
	check()
}

func TestPaymentExactness(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 10000))

	// 7 units-currency per unit per tick, 3 units, 11 ticks: odd numbers so
	// the floor split actually truncates.
	l, _ := e.CreateListing("lender", "batch-1", 7, 10, 1, 100)
	_, err := e.StartSession("borrower", l.ID, 3, 11, 231)
	require.NoError(t, err)

	total := int64(7 * 3 * 11)
	platform := total * 2500 / 10000
	assert.Equal(t, platform, funds.Balance("treasury"))
	assert.Equal(t, total-platform, funds.Balance("lender"))
	assert.Equal(t, int64(10000)-total, funds.Balance("borrower"))
}

func TestStartSessionValidation(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))
	l, _ := e.CreateListing("lender", "batch-1", 1, 9, 2, 50)

	t.Run("duration below listing minimum", func(t *testing.T) {
		_, err := e.StartSession("borrower", l.ID, 1, 1, 100)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("duration above listing maximum", func(t *testing.T) {
		_, err := e.StartSession("borrower", l.ID, 1, 51, 100)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("insufficient payment", func(t *testing.T) {
		_, err := e.StartSession("borrower", l.ID, 2, 7, 13)
		assert.ErrorIs(t, err, ErrInsufficientPayment)
	})

	t.Run("insufficient funds balance", func(t *testing.T) {
		_, err := e.StartSession("pauper", l.ID, 2, 7, 14)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("overflow rejected", func(t *testing.T) {
		big, err := e.CreateListing("lender", "batch-1", 1<<62, 1, 2, 50)
		require.NoError(t, err)
		_, err = e.StartSession("borrower", big.ID, 1, 2, 1<<62)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("unknown listing", func(t *testing.T) {
		_, err := e.StartSession("borrower", 999, 1, 7, 10)
		assert.ErrorIs(t, err, ErrListingNotFound)
	})
}

func TestStartSessionRefundsOverpayment(t *testing.T) {
	e, funds, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))

	l, _ := e.CreateListing("lender", "batch-1", 1, 10, 1, 100)
	s, err := e.StartSession("borrower", l.ID, 2, 7, 20)
	require.NoError(t, err)

	assert.Equal(t, int64(14), s.AmountPaid)
	assert.Equal(t, int64(86), funds.Balance("borrower"))
}

func TestPauseSemantics(t *testing.T) {
	e, funds, clock := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	require.NoError(t, funds.Deposit("borrower", 100))
	l, _ := e.CreateListing("lender", "batch-1", 1, 10, 1, 100)
	s, _ := e.StartSession("borrower", l.ID, 2, 7, 14)

	require.NoError(t, e.SetPaused("admin", true))

	t.Run("creation blocked", func(t *testing.T) {
		_, err := e.CreateListing("lender", "batch-1", 1, 2, 1, 100)
		assert.ErrorIs(t, err, ErrSystemPaused)
	})

	t.Run("session start blocked", func(t *testing.T) {
		_, err := e.StartSession("borrower", l.ID, 1, 7, 7)
		assert.ErrorIs(t, err, ErrSystemPaused)
	})

	t.Run("session end still works", func(t *testing.T) {
		clock.Advance(8 * time.Second)
		_, err := e.EndSession("borrower", s.ID)
		assert.NoError(t, err)
	})

	t.Run("cancel still works", func(t *testing.T) {
		_, err := e.CancelListing("lender", l.ID)
		assert.NoError(t, err)
	})

	t.Run("non-admin cannot toggle", func(t *testing.T) {
		assert.ErrorIs(t, e.SetPaused("lender", false), ErrUnauthorized)
	})

	require.NoError(t, e.SetPaused("admin", false))
	_, err := e.CreateListing("lender", "batch-1", 1, 2, 1, 100)
	assert.NoError(t, err)
}

func TestAdminTransfer(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.ErrorIs(t, e.TransferAdmin("mallory", "mallory"), ErrUnauthorized)
	assert.ErrorIs(t, e.TransferAdmin("admin", ""), ErrZeroAccount)

	require.NoError(t, e.TransferAdmin("admin", "admin2"))
	assert.Equal(t, "admin2", e.Admin())
	assert.ErrorIs(t, e.SetPaused("admin", true), ErrUnauthorized)
	assert.NoError(t, e.SetPaused("admin2", true))
}

func TestRecoverAssets(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedLender(t, e, "lender", "batch-1", 10)
	_, err := e.CreateListing("lender", "batch-1", 1, 10, 1, 100)
	require.NoError(t, err)

	t.Run("managed batch is protected", func(t *testing.T) {
		err := e.RecoverAssets("admin", "batch-1", "admin", 10)
		assert.ErrorIs(t, err, ErrBatchProtected)
		assert.Equal(t, int64(10), e.BalanceOf(e.EscrowAccount(), "batch-1"))
	})

	t.Run("unlisted batch can be recovered once untrusted", func(t *testing.T) {
		// Simulate a stray batch landing in escrow.
		require.NoError(t, e.MintUnits("admin", e.EscrowAccount(), "stray", 4))
		require.NoError(t, e.SetBatchTrusted("admin", "stray", false))

		require.NoError(t, e.RecoverAssets("admin", "stray", "owner", 4))
		assert.Equal(t, int64(4), e.BalanceOf("owner", "stray"))
	})

	t.Run("non-admin rejected", func(t *testing.T) {
		err := e.RecoverAssets("lender", "stray", "lender", 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

// reentrantSink calls back into the engine from inside event delivery,
// standing in for a collaborator that regains control mid-transaction.
type reentrantSink struct {
	e   *Engine
	err error
}

func (r *reentrantSink) Append(ev Event) error {
	if ev.Type == EventListingCreated {
		_, r.err = r.e.CancelListing("lender", ev.ListingID)
	}
	return nil
}

func TestReentrancyBlocked(t *testing.T) {
	sink := &reentrantSink{}
	e, _, _ := newTestEngine(t, WithEventSink(sink))
	sink.e = e
	seedLender(t, e, "lender", "batch-1", 10)

	l, err := e.CreateListing("lender", "batch-1", 1, 10, 1, 100)
	require.NoError(t, err)
	assert.ErrorIs(t, sink.err, ErrReentrancyBlocked)

	// The re-entrant cancel must not have applied.
	got, _ := e.Listing(l.ID)
	assert.True(t, got.Active)
}
