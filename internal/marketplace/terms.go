package marketplace

import (
	"fmt"
	"math/big"
	"time"

	"gitlab.com/TitanInd/marketplace/internal/lib"
)

// Terms holds the seller-supplied conditions of a single listing. Limit and
// speed are opaque to settlement logic, only price and length take part in
// the proration math.
type Terms struct {
	price      *big.Int
	limit      int64
	speed      int64
	length     time.Duration
	commitment string
}

func NewTerms(price *big.Int, limit, speed int64, length time.Duration, commitment string) *Terms {
	return &Terms{
		price:      new(big.Int).Set(price),
		limit:      limit,
		speed:      speed,
		length:     length,
		commitment: commitment,
	}
}

func (t *Terms) Validate() error {
	if t.price == nil || t.price.Sign() <= 0 {
		return lib.WrapError(ErrInvalidTerms, fmt.Errorf("price must be positive, got %s", t.price))
	}
	if t.limit <= 0 {
		return lib.WrapError(ErrInvalidTerms, fmt.Errorf("limit must be positive, got %d", t.limit))
	}
	if t.speed <= 0 {
		return lib.WrapError(ErrInvalidTerms, fmt.Errorf("speed must be positive, got %d", t.speed))
	}
	if t.length <= 0 {
		return lib.WrapError(ErrInvalidTerms, fmt.Errorf("length must be positive, got %s", t.length))
	}
	return nil
}

func (t *Terms) Price() *big.Int {
	return new(big.Int).Set(t.price) // copy
}

func (t *Terms) Limit() int64 {
	return t.limit
}

func (t *Terms) Speed() int64 {
	return t.speed
}

func (t *Terms) Length() time.Duration {
	return t.length
}

func (t *Terms) Commitment() string {
	return t.commitment
}

func (t *Terms) Copy() *Terms {
	return &Terms{
		price:      t.Price(),
		limit:      t.limit,
		speed:      t.speed,
		length:     t.length,
		commitment: t.commitment,
	}
}
