package engine

import "fmt"

// FundsTransfer is one leg of a settlement. Amounts are in the smallest
// currency unit.
type FundsTransfer struct {
	From   string
	To     string
	Amount int64
}

// FundsGateway settles the payment legs of an engine operation. Settle must
// be atomic: either every transfer applies or none does. A Settle error
// aborts the whole engine operation, so implementations must never partially
// apply.
type FundsGateway interface {
	Settle(transfers []FundsTransfer) error
	Balance(account string) int64
	Deposit(account string, amount int64) error
}

// TreasuryLedger is the in-process FundsGateway: a plain currency ledger.
// Every debit is validated before any balance moves, which is what makes
// Settle all-or-nothing.
type TreasuryLedger struct {
	balances map[string]int64
}

func NewTreasuryLedger() *TreasuryLedger {
	return &TreasuryLedger{balances: make(map[string]int64)}
}

func (t *TreasuryLedger) Balance(account string) int64 {
	return t.balances[account]
}

func (t *TreasuryLedger) Deposit(account string, amount int64) error {
	if account == "" {
		return ErrZeroAccount
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount %d", ErrInvalidPrice, amount)
	}
	t.balances[account] += amount
	return nil
}

func (t *TreasuryLedger) Settle(transfers []FundsTransfer) error {
	// Net out debits per account first so a settlement that round-trips
	// funds through an account is judged on its net effect.
	net := make(map[string]int64, len(transfers)*2)
	for _, tr := range transfers {
		if tr.Amount < 0 {
			return fmt.Errorf("%w: negative settlement leg", ErrInvalidPrice)
		}
		if tr.Amount == 0 {
			continue
		}
		if tr.From == "" || tr.To == "" {
			return ErrZeroAccount
		}
		net[tr.From] -= tr.Amount
		net[tr.To] += tr.Amount
	}
	for account, delta := range net {
		if t.balances[account]+delta < 0 {
			return fmt.Errorf("%w: %s holds %d, settlement needs %d more",
				ErrInsufficientBalance, account, t.balances[account], -(t.balances[account] + delta))
		}
	}
	for account, delta := range net {
		t.balances[account] += delta
		if t.balances[account] == 0 {
			delete(t.balances, account)
		}
	}
	return nil
}
