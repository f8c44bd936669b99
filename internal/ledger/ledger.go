package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Ledger is the payment asset boundary the marketplace settles against.
// The engine only ever calls TransferFrom to pull buyer funds and Transfer
// to pay out; it never grants or checks allowances for itself.
type Ledger interface {
	BalanceOf(account common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(owner, spender, to common.Address, amount *big.Int) error
	IncreaseAllowance(owner, spender common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int
}

// Token is an in-memory fungible-token ledger with transfer/allowance
// semantics. All balance mutations happen under one lock so the
// check-then-transfer of an allowance is a single atomic step.
type Token struct {
	mu         sync.Mutex
	asset      common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken(asset common.Address, owner common.Address, totalSupply *big.Int) *Token {
	return &Token{
		asset: asset,
		balances: map[common.Address]*big.Int{
			owner: new(big.Int).Set(totalSupply),
		},
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Asset() common.Address {
	return t.asset
}

func (t *Token) BalanceOf(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(account))
}

func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transfer(from, to, amount)
}

func (t *Token) TransferFrom(owner, spender, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: spender %s allowed %s, needs %s", ErrInsufficientAllowance, spender, allowance, amount)
	}

	err := t.transfer(owner, to, amount)
	if err != nil {
		return err
	}

	allowance.Sub(allowance, amount)
	return nil
}

func (t *Token) IncreaseAllowance(owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	spenders, ok := t.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		t.allowances[owner] = spenders
	}

	allowance, ok := spenders[spender]
	if !ok {
		allowance = new(big.Int)
		spenders[spender] = allowance
	}

	allowance.Add(allowance, amount)
	return nil
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowance(owner, spender))
}

func (t *Token) balance(account common.Address) *big.Int {
	balance, ok := t.balances[account]
	if !ok {
		balance = new(big.Int)
		t.balances[account] = balance
	}
	return balance
}

func (t *Token) allowance(owner, spender common.Address) *big.Int {
	spenders, ok := t.allowances[owner]
	if !ok {
		return new(big.Int)
	}
	allowance, ok := spenders[spender]
	if !ok {
		return new(big.Int)
	}
	return allowance
}

func (t *Token) transfer(from, to common.Address, amount *big.Int) error {
	fromBalance := t.balance(from)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s holds %s, needs %s", ErrInsufficientBalance, from, fromBalance, amount)
	}

	fromBalance.Sub(fromBalance, amount)
	t.balance(to).Add(t.balance(to), amount)
	return nil
}

var _ Ledger = (*Token)(nil)
