package engine

import "fmt"

type holding struct {
	holder string
	batch  string
}

type approval struct {
	owner    string
	operator string
}

// unitLedger tracks ownership of fungible unit batches per holder. The engine
// itself appears as one holder (the escrow account) while units are in
// transit between lender and borrower. The sum of balances per batch is
// constant across every operation after the initial mint.
type unitLedger struct {
	balances  map[holding]int64
	approvals map[approval]bool
	minted    map[string]int64 // total supply per batch, fixed at deposit time
}

func newUnitLedger() *unitLedger {
	return &unitLedger{
		balances:  make(map[holding]int64),
		approvals: make(map[approval]bool),
		minted:    make(map[string]int64),
	}
}

func (l *unitLedger) balanceOf(holder, batch string) int64 {
	return l.balances[holding{holder, batch}]
}

func (l *unitLedger) setApproval(owner, operator string, approved bool) {
	if approved {
		l.approvals[approval{owner, operator}] = true
	} else {
		delete(l.approvals, approval{owner, operator})
	}
}

func (l *unitLedger) isApproved(owner, operator string) bool {
	return l.approvals[approval{owner, operator}]
}

// transfer moves qty units of batch from one holder to another. Either the
// full quantity moves or none does. caller must be the owner or an approved
// operator of the owner.
func (l *unitLedger) transfer(caller, from, to, batch string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: transfer quantity %d", ErrInvalidUnitCount, qty)
	}
	if to == "" {
		return ErrZeroAccount
	}
	if caller != from && !l.isApproved(from, caller) {
		return fmt.Errorf("%w: %s is not %s or an approved operator", ErrUnauthorized, caller, from)
	}
	src := holding{from, batch}
	if l.balances[src] < qty {
		return fmt.Errorf("%w: %s holds %d of %s, need %d", ErrInsufficientBalance, from, l.balances[src], batch, qty)
	}
	l.balances[src] -= qty
	l.balances[holding{to, batch}] += qty
	if l.balances[src] == 0 {
		delete(l.balances, src)
	}
	return nil
}

// mint is the only supply-creating path; everything after it conserves.
func (l *unitLedger) mint(to, batch string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: mint quantity %d", ErrInvalidUnitCount, qty)
	}
	if to == "" {
		return ErrZeroAccount
	}
	l.balances[holding{to, batch}] += qty
	l.minted[batch] += qty
	return nil
}

// supply returns the total ever deposited for a batch. Used by tests and the
// recovery guard.
func (l *unitLedger) supply(batch string) int64 {
	return l.minted[batch]
}
