package marketplace

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gitlab.com/TitanInd/marketplace/internal/interfaces"
	"gitlab.com/TitanInd/marketplace/internal/ledger"
	"gitlab.com/TitanInd/marketplace/internal/lib"
	"go.uber.org/atomic"
	"golang.org/x/exp/slices"
)

// Policy is the marketplace-wide configuration shared by reference with
// every listing, so a change applies to all of them at the next settlement
type Policy struct {
	owner         common.Address
	feeCollector  common.Address
	paymentAsset  common.Address
	feeCutEnabled atomic.Bool
}

func NewPolicy(owner, feeCollector, paymentAsset common.Address, feeCutEnabled bool) *Policy {
	p := &Policy{
		owner:        owner,
		feeCollector: feeCollector,
		paymentAsset: paymentAsset,
	}
	p.feeCutEnabled.Store(feeCutEnabled)
	return p
}

func (p *Policy) Owner() common.Address {
	return p.owner
}

func (p *Policy) FeeCollector() common.Address {
	return p.feeCollector
}

func (p *Policy) PaymentAsset() common.Address {
	return p.paymentAsset
}

func (p *Policy) FeeCutEnabled() bool {
	return p.feeCutEnabled.Load()
}

// ContractRegistry creates listings from a template and keeps the
// authoritative, append-only sequence of everything ever listed. No funds
// move through the registry itself.
type ContractRegistry struct {
	mu       sync.Mutex
	addr     common.Address
	policy   *Policy
	listings []*RentalContract
	byAddr   *lib.Collection[*RentalContract]
	nonce    uint64

	// dependencies
	ledger  ledger.Ledger
	bus     *EventBus
	nowFunc func() time.Time
	log     interfaces.ILogger
}

func NewContractRegistry(addr common.Address, policy *Policy, ledg ledger.Ledger, bus *EventBus, log interfaces.ILogger) *ContractRegistry {
	return &ContractRegistry{
		addr:    addr,
		policy:  policy,
		byAddr:  lib.NewCollection[*RentalContract](),
		ledger:  ledg,
		bus:     bus,
		nowFunc: time.Now,
		log:     log,
	}
}

func (r *ContractRegistry) Address() common.Address {
	return r.addr
}

func (r *ContractRegistry) Policy() *Policy {
	return r.policy
}

// CreateListing instantiates a new available rental contract with the given
// seller terms and appends it to the listing sequence. A zero feeCollector
// falls back to the marketplace policy collector.
func (r *ContractRegistry) CreateListing(seller common.Address, price *big.Int, limit, speed int64, length time.Duration, feeCollector common.Address, commitment string) (*RentalContract, error) {
	terms := NewTerms(price, limit, speed, length, commitment)
	err := terms.Validate()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	addr := r.deriveListingAddr(seller)
	contract := NewRentalContract(
		addr,
		seller,
		feeCollector,
		r.addr,
		terms,
		r.policy,
		r.ledger,
		r.bus,
		r.nowFunc,
		r.log.Named(lib.AddrShort(addr.Hex())),
	)

	r.listings = append(r.listings, contract)
	r.byAddr.Store(contract)

	r.log.Infof("listing %s created by seller %s", lib.AddrShort(addr.Hex()), lib.AddrShort(seller.Hex()))
	if r.bus != nil {
		r.bus.Publish(EventContractCreated, addr)
	}
	return contract, nil
}

// GetListings returns a snapshot of every listing ever created, in creation
// order. Listings are never removed.
func (r *ContractRegistry) GetListings() []*RentalContract {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.listings)
}

func (r *ContractRegistry) GetListing(addr common.Address) (*RentalContract, bool) {
	return r.byAddr.Load(addr.Hex())
}

// PurchaseListing resolves a listing by address and forwards the purchase.
// The buyer's allowance must have been granted to the registry address.
func (r *ContractRegistry) PurchaseListing(buyer common.Address, addr common.Address, commitment string) error {
	contract, ok := r.GetListing(addr)
	if !ok {
		return ErrListingNotFound
	}
	return contract.Purchase(buyer, commitment)
}

// SetFeeCutEnabled toggles the marketplace cut for settlements on all
// listings, existing and future. Restricted to the policy owner.
func (r *ContractRegistry) SetFeeCutEnabled(caller common.Address, enabled bool) error {
	if caller != r.policy.Owner() {
		return lib.WrapError(ErrNotAuthorized, errors.New("policy changes are allowed to the owner only"))
	}
	r.policy.feeCutEnabled.Store(enabled)
	r.log.Infof("fee cut enabled: %t", enabled)
	return nil
}

// listing addresses are derived from the registry address, the seller and a
// creation counter, mirroring deterministic clone deployment
func (r *ContractRegistry) deriveListingAddr(seller common.Address) common.Address {
	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, r.nonce)
	r.nonce++

	hash := crypto.Keccak256(r.addr.Bytes(), seller.Bytes(), nonce)
	return common.BytesToAddress(hash[12:])
}
