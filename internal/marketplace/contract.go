package marketplace

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/TitanInd/marketplace/internal/interfaces"
	"gitlab.com/TitanInd/marketplace/internal/ledger"
	"gitlab.com/TitanInd/marketplace/internal/lib"
)

type ContractState uint8

const (
	ContractStateAvailable ContractState = iota
	ContractStateRunning
)

func (s ContractState) String() string {
	switch s {
	case ContractStateAvailable:
		return "available"
	case ContractStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

type CloseoutType uint8

const (
	CloseoutCancel          CloseoutType = iota // buyer cancels early, unused time refunded
	CloseoutPartialWithdraw                     // seller withdraws earned-to-date, contract keeps running
	CloseoutRefresh                             // finalize occupancy without moving funds
	CloseoutFullSettlement                      // seller settles one completed period in full
)

func (t CloseoutType) String() string {
	switch t {
	case CloseoutCancel:
		return "cancel"
	case CloseoutPartialWithdraw:
		return "partialWithdraw"
	case CloseoutRefresh:
		return "refresh"
	case CloseoutFullSettlement:
		return "fullSettlement"
	default:
		return "unknown"
	}
}

// period is one entry of the settlement ledger: every purchase opens one.
// Open entries accrue seller earnings with elapsed time; closed entries hold
// the earned amount fixed at close time plus the buyer refund still owed.
type period struct {
	buyer     common.Address
	price     *big.Int
	startedAt time.Time
	length    time.Duration

	paidOut       *big.Int // seller-side amount already withdrawn, pre fee split
	closed        bool
	earnedAtClose *big.Int
	refundOwed    *big.Int
}

func (p *period) earned(now time.Time) *big.Int {
	if p.closed {
		return new(big.Int).Set(p.earnedAtClose)
	}
	return ProratedAmount(p.price, now.Sub(p.startedAt), p.length)
}

func (p *period) outstanding(now time.Time) *big.Int {
	return new(big.Int).Sub(p.earned(now), p.paidOut)
}

func (p *period) matured(now time.Time) bool {
	return !now.Before(p.startedAt.Add(p.length))
}

func (p *period) close(now time.Time) {
	earned := p.earned(now)
	p.closed = true
	p.earnedAtClose = earned
	p.refundOwed = new(big.Int).Sub(p.price, earned)
}

// settled reports whether nothing is claimable from this entry anymore
func (p *period) settled() bool {
	return p.closed && p.earnedAtClose.Cmp(p.paidOut) == 0 && p.refundOwed.Sign() == 0
}

// RentalContract is the per-listing state machine. Every mutating operation
// is serialized by the contract mutex and either commits fully or leaves the
// state untouched.
type RentalContract struct {
	mu sync.Mutex

	addr         common.Address
	seller       common.Address
	feeCollector common.Address // listing-level override, zero falls back to policy
	registry     common.Address // allowance spender for purchases

	terms             *Terms
	state             ContractState
	buyer             common.Address
	startedAt         time.Time
	encryptedPoolData string

	periods []*period
	escrow  *big.Int

	// dependencies
	policy  *Policy
	ledger  ledger.Ledger
	bus     *EventBus
	nowFunc func() time.Time
	log     interfaces.ILogger
}

func NewRentalContract(
	addr common.Address,
	seller common.Address,
	feeCollector common.Address,
	registry common.Address,
	terms *Terms,
	policy *Policy,
	ledg ledger.Ledger,
	bus *EventBus,
	nowFunc func() time.Time,
	log interfaces.ILogger,
) *RentalContract {
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &RentalContract{
		addr:         addr,
		seller:       seller,
		feeCollector: feeCollector,
		registry:     registry,
		terms:        terms.Copy(),
		state:        ContractStateAvailable,
		escrow:       new(big.Int),
		policy:       policy,
		ledger:       ledg,
		bus:          bus,
		nowFunc:      nowFunc,
		log:          log,
	}
}

// Purchase pulls one period's price from the buyer's allowance into escrow.
// The supplied commitment pre-image must match the listing's commitment so a
// buyer cannot commit to terms that changed between listing and purchase.
// Purchasing a running listing stacks a new period without disturbing the
// accrual of the current one; the new buyer becomes the buyer of record.
func (c *RentalContract) Purchase(buyer common.Address, commitment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if commitment != c.terms.Commitment() {
		return ErrCommitmentMismatch
	}

	price := c.terms.Price()
	err := c.ledger.TransferFrom(buyer, c.registry, c.addr, price)
	if err != nil {
		return lib.WrapError(ErrInsufficientAllowance, err)
	}

	now := c.nowFunc()
	if c.state == ContractStateAvailable {
		c.state = ContractStateRunning
		c.startedAt = now
	}
	c.buyer = buyer
	c.periods = append(c.periods, &period{
		buyer:     buyer,
		price:     price,
		startedAt: now,
		length:    c.terms.Length(),
		paidOut:   new(big.Int),
	})
	c.escrow.Add(c.escrow, price)

	c.log.Infof("purchased by %s for %s, escrow %s", lib.AddrShort(buyer.Hex()), price, c.escrow)
	c.publish(EventContractPurchased)
	return nil
}

// CloseOut runs one of the four settlement operations against the listing
func (c *RentalContract) CloseOut(caller common.Address, closeout CloseoutType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeOut(caller, closeout)
}

func (c *RentalContract) closeOut(caller common.Address, closeout CloseoutType) error {
	switch closeout {
	case CloseoutCancel:
		return c.cancel(caller)
	case CloseoutPartialWithdraw:
		return c.partialWithdraw(caller)
	case CloseoutRefresh:
		return c.refresh(caller)
	case CloseoutFullSettlement:
		return c.fullSettlement(caller)
	default:
		return lib.WrapError(ErrInvalidCloseout, fmt.Errorf("closeout type %d", closeout))
	}
}

// cancel settles the current period at its elapsed fraction: the seller is
// paid what the period earned so far, the unused remainder refunds to the
// buyer. Older stacked entries are left in escrow untouched.
func (c *RentalContract) cancel(caller common.Address) error {
	if c.state != ContractStateRunning {
		return lib.WrapError(ErrInvalidState, fmt.Errorf("cancel requires a running contract, state is %s", c.state))
	}
	if caller != c.buyer {
		return lib.WrapError(ErrNotAuthorized, errors.New("cancel is allowed to the current buyer only"))
	}

	now := c.nowFunc()
	current := c.currentPeriod()
	if current == nil {
		return lib.WrapError(ErrInvalidState, errors.New("no active rental period"))
	}

	earned := current.earned(now)
	sellerShare := new(big.Int).Sub(earned, current.paidOut)
	refund := new(big.Int).Sub(current.price, earned)

	err := c.paySeller(sellerShare)
	if err != nil {
		return err
	}
	err = c.payout(current.buyer, refund)
	if err != nil {
		return err
	}

	c.escrow.Sub(c.escrow, new(big.Int).Add(sellerShare, refund))
	c.removePeriod(current)

	// remaining stacked periods stop accruing once the listing frees up
	for _, p := range c.periods {
		if !p.closed {
			p.close(now)
		}
	}
	c.toAvailable()

	c.log.Infof("cancelled: seller share %s, buyer refund %s", sellerShare, refund)
	c.publish(EventContractClosed)
	return nil
}

// partialWithdraw pays the seller everything earned to date across all
// ledger entries without changing the contract state
func (c *RentalContract) partialWithdraw(caller common.Address) error {
	if caller != c.seller {
		return lib.WrapError(ErrNotAuthorized, errors.New("withdrawal is allowed to the seller only"))
	}

	now := c.nowFunc()
	total := new(big.Int)
	for _, p := range c.periods {
		total.Add(total, p.outstanding(now))
	}
	if total.Sign() == 0 {
		return ErrNothingToSettle
	}

	err := c.paySeller(total)
	if err != nil {
		return err
	}

	for _, p := range c.periods {
		p.paidOut = p.earned(now)
	}
	c.escrow.Sub(c.escrow, total)
	c.dropSettledPeriods()

	c.log.Infof("partial withdrawal of %s, escrow %s", total, c.escrow)
	return nil
}

// refresh finalizes the current occupancy without moving funds: open periods
// are closed at their earned-to-date amount and stay in escrow for a later
// withdrawal, and the listing frees up for re-purchase
func (c *RentalContract) refresh(caller common.Address) error {
	if c.state != ContractStateRunning {
		return lib.WrapError(ErrInvalidState, fmt.Errorf("refresh requires a running contract, state is %s", c.state))
	}
	if caller != c.seller && caller != c.buyer {
		return lib.WrapError(ErrNotAuthorized, errors.New("refresh is allowed to the seller or the current buyer"))
	}

	now := c.nowFunc()
	for _, p := range c.periods {
		if !p.closed {
			p.close(now)
		}
	}
	c.toAvailable()

	c.log.Infof("refreshed, carried escrow %s", c.escrow)
	c.publish(EventContractClosed)
	return nil
}

// fullSettlement settles exactly one period per call: the oldest closed
// entry still holding funds, or the current period once its length elapsed
func (c *RentalContract) fullSettlement(caller common.Address) error {
	if caller != c.seller {
		return lib.WrapError(ErrNotAuthorized, errors.New("settlement is allowed to the seller only"))
	}

	now := c.nowFunc()

	var target *period
	for _, p := range c.periods {
		if p.closed && !p.settled() {
			target = p
			break
		}
	}
	if target == nil {
		for _, p := range c.periods {
			if !p.closed && p.matured(now) {
				target = p
				break
			}
		}
		if target == nil {
			if c.hasOpenPeriods() {
				return lib.WrapError(ErrInvalidState, errors.New("rental period has not elapsed yet"))
			}
			return ErrNothingToSettle
		}
		target.close(now)
	}

	sellerShare := new(big.Int).Sub(target.earnedAtClose, target.paidOut)
	refund := new(big.Int).Set(target.refundOwed)
	if sellerShare.Sign() == 0 && refund.Sign() == 0 {
		return ErrNothingToSettle
	}

	err := c.paySeller(sellerShare)
	if err != nil {
		return err
	}
	err = c.payout(target.buyer, refund)
	if err != nil {
		return err
	}

	c.escrow.Sub(c.escrow, new(big.Int).Add(sellerShare, refund))
	c.removePeriod(target)

	if c.state == ContractStateRunning && !c.hasOpenPeriods() {
		c.toAvailable()
	}

	c.log.Infof("settled: seller share %s, buyer refund %s, escrow %s", sellerShare, refund, c.escrow)
	c.publish(EventContractClosed)
	return nil
}

// UpdateMiningInformation overwrites the opaque routing payload. The engine
// never interprets it.
func (c *RentalContract) UpdateMiningInformation(caller common.Address, encryptedPoolData string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ContractStateRunning {
		return lib.WrapError(ErrInvalidState, fmt.Errorf("routing data update requires a running contract, state is %s", c.state))
	}
	if caller != c.buyer {
		return lib.WrapError(ErrNotAuthorized, errors.New("routing data update is allowed to the current buyer only"))
	}

	c.encryptedPoolData = encryptedPoolData
	c.publish(EventCipherTextUpdated)
	return nil
}

// UpdatePurchaseInformation settles what is already earned under the old
// terms via the given closeout, then atomically replaces the terms. The
// commitment stays; cancel is a buyer-only closeout and is rejected here.
// With nothing earned yet the settlement step is a no-op, so an idle
// listing can be repriced freely.
func (c *RentalContract) UpdatePurchaseInformation(caller common.Address, price *big.Int, limit, speed int64, length time.Duration, closeout CloseoutType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.seller {
		return lib.WrapError(ErrNotAuthorized, errors.New("terms update is allowed to the seller only"))
	}
	if closeout == CloseoutCancel {
		return lib.WrapError(ErrNotAuthorized, errors.New("cancel closeout is allowed to the buyer only"))
	}

	updated := NewTerms(price, limit, speed, length, c.terms.Commitment())
	err := updated.Validate()
	if err != nil {
		return err
	}

	if len(c.periods) > 0 {
		err = c.closeOut(caller, closeout)
		if err != nil && !errors.Is(err, ErrNothingToSettle) {
			return err
		}
	}

	c.terms = updated
	c.log.Infof("terms updated: price %s, limit %d, speed %d, length %s", price, limit, speed, length)
	c.publish(EventPurchaseInfoUpdated)
	return nil
}

//
// Public getters
//

func (c *RentalContract) GetID() string {
	return c.addr.Hex()
}

func (c *RentalContract) Address() common.Address {
	return c.addr
}

func (c *RentalContract) Seller() common.Address {
	return c.seller
}

func (c *RentalContract) Buyer() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buyer
}

func (c *RentalContract) State() ContractState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *RentalContract) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

func (c *RentalContract) Terms() *Terms {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terms.Copy()
}

func (c *RentalContract) EncryptedPoolData() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encryptedPoolData
}

func (c *RentalContract) EscrowBalance() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.escrow)
}

type PublicVariables struct {
	State             ContractState
	Price             *big.Int
	Limit             int64
	Speed             int64
	Length            time.Duration
	Seller            common.Address
	Buyer             common.Address
	StartedAt         time.Time
	EncryptedPoolData string
	EscrowBalance     *big.Int
}

func (c *RentalContract) PublicVariables() PublicVariables {
	c.mu.Lock()
	defer c.mu.Unlock()

	return PublicVariables{
		State:             c.state,
		Price:             c.terms.Price(),
		Limit:             c.terms.Limit(),
		Speed:             c.terms.Speed(),
		Length:            c.terms.Length(),
		Seller:            c.seller,
		Buyer:             c.buyer,
		StartedAt:         c.startedAt,
		EncryptedPoolData: c.encryptedPoolData,
		EscrowBalance:     new(big.Int).Set(c.escrow),
	}
}

//
// internals, caller must hold the mutex
//

func (c *RentalContract) currentPeriod() *period {
	for i := len(c.periods) - 1; i >= 0; i-- {
		if !c.periods[i].closed {
			return c.periods[i]
		}
	}
	return nil
}

func (c *RentalContract) hasOpenPeriods() bool {
	return c.currentPeriod() != nil
}

func (c *RentalContract) removePeriod(target *period) {
	for i, p := range c.periods {
		if p == target {
			c.periods = append(c.periods[:i], c.periods[i+1:]...)
			return
		}
	}
}

func (c *RentalContract) dropSettledPeriods() {
	remaining := c.periods[:0]
	for _, p := range c.periods {
		if !p.settled() {
			remaining = append(remaining, p)
		}
	}
	c.periods = remaining
}

func (c *RentalContract) toAvailable() {
	c.state = ContractStateAvailable
	c.buyer = common.Address{}
	c.startedAt = time.Time{}
}

// paySeller transfers a seller payout out of escrow, routing the marketplace
// cut to the fee collector when the policy enables it. Refunds never pass
// through here.
func (c *RentalContract) paySeller(amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}

	if !c.policy.FeeCutEnabled() {
		return c.ledger.Transfer(c.addr, c.seller, amount)
	}

	sellerPart, feePart := SplitFee(amount)
	err := c.ledger.Transfer(c.addr, c.seller, sellerPart)
	if err != nil {
		return err
	}
	return c.payout(c.feeCollectorAddr(), feePart)
}

func (c *RentalContract) payout(to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return c.ledger.Transfer(c.addr, to, amount)
}

func (c *RentalContract) feeCollectorAddr() common.Address {
	if c.feeCollector != (common.Address{}) {
		return c.feeCollector
	}
	return c.policy.FeeCollector()
}

func (c *RentalContract) publish(kind EventKind) {
	if c.bus != nil {
		c.bus.Publish(kind, c.addr)
	}
}
