package types

import "math/big"

// Account captures the ledger view of an agent identity: its spendable native
// balance and a nonce for replay protection on the operation surface. Token
// balances are tracked separately by the state manager, keyed by mint.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// NewAccount returns an account with a zeroed balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
