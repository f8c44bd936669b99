package marketplace

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gitlab.com/TitanInd/marketplace/internal/ledger"
	"gitlab.com/TitanInd/marketplace/internal/lib"
)

var (
	assetAddr     = common.HexToAddress("0xa0")
	ownerAddr     = common.HexToAddress("0x01")
	sellerAddr    = common.HexToAddress("0x02")
	buyerAddr     = common.HexToAddress("0x03")
	secondBuyer   = common.HexToAddress("0x04")
	collectorAddr = common.HexToAddress("0x05")
	registryAddr  = common.HexToAddress("0xfa")
)

const (
	purchasePrice  = 1000
	contractLength = 10 * time.Second
	commitment     = "123"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func setupMarketplace(t *testing.T) (*ledger.Token, *ContractRegistry, *testClock) {
	t.Helper()

	token := ledger.NewToken(assetAddr, ownerAddr, big.NewInt(1_000_000))
	policy := NewPolicy(ownerAddr, collectorAddr, assetAddr, false)
	registry := NewContractRegistry(registryAddr, policy, token, nil, lib.NewTestLogger())

	clock := &testClock{now: time.Unix(1700000000, 0)}
	registry.nowFunc = clock.Now

	require.NoError(t, token.Transfer(ownerAddr, buyerAddr, big.NewInt(10000)))
	require.NoError(t, token.IncreaseAllowance(buyerAddr, registryAddr, big.NewInt(10000)))

	return token, registry, clock
}

func createListing(t *testing.T, registry *ContractRegistry) *RentalContract {
	t.Helper()

	contract, err := registry.CreateListing(sellerAddr, big.NewInt(purchasePrice), 10, 10, contractLength, common.Address{}, commitment)
	require.NoError(t, err)
	return contract
}

func TestPurchaseAndFullSettlement(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	err := registry.PurchaseListing(buyerAddr, contract.Address(), commitment)
	require.NoError(t, err)
	require.Equal(t, ContractStateRunning, contract.State())
	require.Equal(t, buyerAddr, contract.Buyer())
	require.Equal(t, int64(purchasePrice), token.BalanceOf(contract.Address()).Int64())

	clock.Advance(contractLength)

	err = contract.CloseOut(sellerAddr, CloseoutFullSettlement)
	require.NoError(t, err)
	require.Equal(t, int64(purchasePrice), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, int64(0), contract.EscrowBalance().Int64())
	require.Equal(t, ContractStateAvailable, contract.State())
}

func TestPurchaseTwiceSettleEachTime(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	for i := 0; i < 2; i++ {
		err := registry.PurchaseListing(buyerAddr, contract.Address(), commitment)
		require.NoError(t, err)
		require.Equal(t, int64(purchasePrice), token.BalanceOf(contract.Address()).Int64())

		clock.Advance(contractLength)

		err = contract.CloseOut(sellerAddr, CloseoutFullSettlement)
		require.NoError(t, err)
	}

	require.Equal(t, int64(2*purchasePrice), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(10000-2*purchasePrice), token.BalanceOf(buyerAddr).Int64())
}

func TestRefreshKeepsFundsInEscrow(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)

	err := contract.CloseOut(sellerAddr, CloseoutRefresh)
	require.NoError(t, err)
	require.Equal(t, int64(0), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(purchasePrice), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, ContractStateAvailable, contract.State())

	// freed for re-purchase, escrow stacks
	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	require.Equal(t, int64(2*purchasePrice), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, ContractStateRunning, contract.State())
}

func TestRefreshRepurchaseWithdrawMidway(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutRefresh))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 2)

	err := contract.CloseOut(sellerAddr, CloseoutPartialWithdraw)
	require.NoError(t, err)

	// one full carried period plus half of the running one
	require.Equal(t, int64(purchasePrice+purchasePrice/2), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, ContractStateRunning, contract.State())

	// the rest arrives once the period completes
	clock.Advance(contractLength / 2)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.Equal(t, int64(2*purchasePrice), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
}

func TestBuyerCancelPartWay(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 5) // f = 0.2

	err := contract.CloseOut(buyerAddr, CloseoutCancel)
	require.NoError(t, err)

	require.Equal(t, int64(200), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(10000-200), token.BalanceOf(buyerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, ContractStateAvailable, contract.State())
}

// seller and buyer shares always sum to the full price, for any elapsed
// fraction and also for lengths that do not divide the price evenly
func TestCancelConservation(t *testing.T) {
	for _, length := range []time.Duration{7 * time.Second, 10 * time.Second, 13 * time.Second} {
		for elapsed := time.Duration(0); elapsed <= length; elapsed += time.Second {
			token, registry, clock := setupMarketplace(t)
			contract, err := registry.CreateListing(sellerAddr, big.NewInt(purchasePrice), 10, 10, length, common.Address{}, commitment)
			require.NoError(t, err)

			require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
			clock.Advance(elapsed)
			require.NoError(t, contract.CloseOut(buyerAddr, CloseoutCancel))

			sellerGain := token.BalanceOf(sellerAddr).Int64()
			buyerLoss := int64(10000) - token.BalanceOf(buyerAddr).Int64()
			require.Equal(t, sellerGain, buyerLoss, "length %s elapsed %s", length, elapsed)
			require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
		}
	}
}

func TestPartialThenFinalSettlement(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 2)

	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutPartialWithdraw))
	require.Equal(t, int64(purchasePrice/2), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, ContractStateRunning, contract.State())

	clock.Advance(contractLength / 2)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.Equal(t, int64(purchasePrice), token.BalanceOf(sellerAddr).Int64())

	// settled in full already, a repeated settlement is a failure not a no-op
	err := contract.CloseOut(sellerAddr, CloseoutFullSettlement)
	require.ErrorIs(t, err, ErrNothingToSettle)
	require.Equal(t, int64(purchasePrice), token.BalanceOf(sellerAddr).Int64())
}

func TestDoubleSettlementAfterRefresh(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutRefresh))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)

	// one period per settlement call: carried first, then the completed one
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.Equal(t, int64(purchasePrice), token.BalanceOf(sellerAddr).Int64())

	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.Equal(t, int64(2*purchasePrice), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, ContractStateAvailable, contract.State())
}

func TestStackedPurchaseWhileRunning(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, token.Transfer(ownerAddr, secondBuyer, big.NewInt(10000)))
	require.NoError(t, token.IncreaseAllowance(secondBuyer, registryAddr, big.NewInt(10000)))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	startedAt := contract.StartedAt()
	clock.Advance(contractLength / 2)

	require.NoError(t, registry.PurchaseListing(secondBuyer, contract.Address(), commitment))
	require.Equal(t, int64(2*purchasePrice), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, secondBuyer, contract.Buyer())
	require.Equal(t, startedAt, contract.StartedAt())

	// prior occupant's accrual is untouched: half of the first period is
	// earned, the stacked period has earned nothing yet
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutPartialWithdraw))
	require.Equal(t, int64(purchasePrice/2), token.BalanceOf(sellerAddr).Int64())
}

func TestFeeCutFullSettlement(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.SetFeeCutEnabled(ownerAddr, true))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))

	require.Equal(t, int64(975), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(25), token.BalanceOf(collectorAddr).Int64())
}

func TestFeeCutAppliesToAllListings(t *testing.T) {
	token, registry, clock := setupMarketplace(t)

	// listing created before the policy change is affected too
	contract := createListing(t, registry)
	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	require.NoError(t, registry.SetFeeCutEnabled(ownerAddr, true))

	clock.Advance(contractLength)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))

	require.Equal(t, int64(975), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(25), token.BalanceOf(collectorAddr).Int64())
}

func TestFeeCutNeverAppliesToRefunds(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.SetFeeCutEnabled(ownerAddr, true))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 5) // earned 200, refund 800

	require.NoError(t, contract.CloseOut(buyerAddr, CloseoutCancel))

	require.Equal(t, int64(195), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(5), token.BalanceOf(collectorAddr).Int64())
	require.Equal(t, int64(10000-200), token.BalanceOf(buyerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
}

func TestCommitmentMismatch(t *testing.T) {
	token, registry, _ := setupMarketplace(t)
	contract := createListing(t, registry)

	err := registry.PurchaseListing(buyerAddr, contract.Address(), "456")
	require.ErrorIs(t, err, ErrCommitmentMismatch)
	require.Equal(t, int64(10000), token.BalanceOf(buyerAddr).Int64())
	require.Equal(t, ContractStateAvailable, contract.State())
}

func TestPurchaseInsufficientAllowance(t *testing.T) {
	token, registry, _ := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, token.Transfer(ownerAddr, secondBuyer, big.NewInt(10000)))

	// no allowance granted to the registry
	err := registry.PurchaseListing(secondBuyer, contract.Address(), commitment)
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	require.Equal(t, ContractStateAvailable, contract.State())
	require.Equal(t, int64(0), contract.EscrowBalance().Int64())
}

func TestCloseoutAuthorization(t *testing.T) {
	_, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)

	require.ErrorIs(t, contract.CloseOut(sellerAddr, CloseoutCancel), ErrNotAuthorized)
	require.ErrorIs(t, contract.CloseOut(buyerAddr, CloseoutPartialWithdraw), ErrNotAuthorized)
	require.ErrorIs(t, contract.CloseOut(buyerAddr, CloseoutFullSettlement), ErrNotAuthorized)
	require.ErrorIs(t, contract.CloseOut(collectorAddr, CloseoutRefresh), ErrNotAuthorized)
	require.ErrorIs(t, contract.CloseOut(sellerAddr, CloseoutType(9)), ErrInvalidCloseout)
}

func TestFullSettlementBeforeMaturity(t *testing.T) {
	_, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 2)

	err := contract.CloseOut(sellerAddr, CloseoutFullSettlement)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, ContractStateRunning, contract.State())
}

func TestUpdateMiningInformation(t *testing.T) {
	_, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))

	err := contract.UpdateMiningInformation(buyerAddr, "meow")
	require.NoError(t, err)
	require.Equal(t, "meow", contract.EncryptedPoolData())

	require.ErrorIs(t, contract.UpdateMiningInformation(sellerAddr, "nope"), ErrNotAuthorized)
	require.Equal(t, "meow", contract.EncryptedPoolData())

	clock.Advance(contractLength)
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.ErrorIs(t, contract.UpdateMiningInformation(buyerAddr, "late"), ErrInvalidState)
}

func TestUpdatePurchaseInformationSettlesFirst(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)

	err := contract.UpdatePurchaseInformation(sellerAddr, big.NewInt(11), 12, 13, 14*time.Second, CloseoutFullSettlement)
	require.NoError(t, err)

	// the old period settled under the old price in the same call
	require.Equal(t, int64(purchasePrice), token.BalanceOf(sellerAddr).Int64())

	terms := contract.Terms()
	require.Equal(t, int64(11), terms.Price().Int64())
	require.Equal(t, int64(12), terms.Limit())
	require.Equal(t, int64(13), terms.Speed())
	require.Equal(t, 14*time.Second, terms.Length())
	require.Equal(t, commitment, terms.Commitment())
}

func TestUpdatePurchaseInformationValidation(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength)

	// invalid terms reject before any settlement happens
	err := contract.UpdatePurchaseInformation(sellerAddr, big.NewInt(0), 12, 13, 14*time.Second, CloseoutFullSettlement)
	require.ErrorIs(t, err, ErrInvalidTerms)
	require.Equal(t, int64(0), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(purchasePrice), contract.Terms().Price().Int64())

	require.ErrorIs(t, contract.UpdatePurchaseInformation(buyerAddr, big.NewInt(11), 12, 13, 14*time.Second, CloseoutFullSettlement), ErrNotAuthorized)
	require.ErrorIs(t, contract.UpdatePurchaseInformation(sellerAddr, big.NewInt(11), 12, 13, 14*time.Second, CloseoutCancel), ErrNotAuthorized)
}

func TestUpdateTermsOnIdleListing(t *testing.T) {
	token, registry, _ := setupMarketplace(t)
	contract := createListing(t, registry)

	// never purchased, nothing earned: every seller closeout kind is a no-op
	for i, closeout := range []CloseoutType{CloseoutPartialWithdraw, CloseoutRefresh, CloseoutFullSettlement} {
		newPrice := int64(2000 + i)
		err := contract.UpdatePurchaseInformation(sellerAddr, big.NewInt(newPrice), 12, 13, 14*time.Second, closeout)
		require.NoError(t, err)
		require.Equal(t, newPrice, contract.Terms().Price().Int64())
	}

	require.Equal(t, ContractStateAvailable, contract.State())
	require.Equal(t, int64(0), token.BalanceOf(sellerAddr).Int64())

	// repriced listing still purchasable against the unchanged commitment
	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	require.Equal(t, int64(2002), contract.EscrowBalance().Int64())
}

func TestUpdateTermsNothingEarnedYet(t *testing.T) {
	token, registry, _ := setupMarketplace(t)
	contract := createListing(t, registry)

	// purchased but no time elapsed: zero earned settles as a no-op too
	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))

	err := contract.UpdatePurchaseInformation(sellerAddr, big.NewInt(2000), 12, 13, 14*time.Second, CloseoutPartialWithdraw)
	require.NoError(t, err)
	require.Equal(t, int64(2000), contract.Terms().Price().Int64())
	require.Equal(t, ContractStateRunning, contract.State())
	require.Equal(t, int64(0), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(purchasePrice), contract.EscrowBalance().Int64())
}

func TestBuyerCancelOnStackedContract(t *testing.T) {
	token, registry, clock := setupMarketplace(t)
	contract := createListing(t, registry)

	require.NoError(t, token.Transfer(ownerAddr, secondBuyer, big.NewInt(10000)))
	require.NoError(t, token.IncreaseAllowance(secondBuyer, registryAddr, big.NewInt(10000)))

	require.NoError(t, registry.PurchaseListing(buyerAddr, contract.Address(), commitment))
	clock.Advance(contractLength / 2) // first period earned 500
	require.NoError(t, registry.PurchaseListing(secondBuyer, contract.Address(), commitment))
	clock.Advance(contractLength / 5) // first 700, stacked 200

	// current buyer cancels: only the stacked period settles
	require.NoError(t, contract.CloseOut(secondBuyer, CloseoutCancel))
	require.Equal(t, int64(200), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(10000-200), token.BalanceOf(secondBuyer).Int64())
	require.Equal(t, ContractStateAvailable, contract.State())

	// the first occupant's split was frozen at cancel time and survives
	require.Equal(t, int64(purchasePrice), contract.EscrowBalance().Int64())
	require.NoError(t, contract.CloseOut(sellerAddr, CloseoutFullSettlement))
	require.Equal(t, int64(200+700), token.BalanceOf(sellerAddr).Int64())
	require.Equal(t, int64(10000-700), token.BalanceOf(buyerAddr).Int64())
	require.Equal(t, int64(0), token.BalanceOf(contract.Address()).Int64())
	require.Equal(t, int64(0), contract.EscrowBalance().Int64())
}

func TestPublicVariables(t *testing.T) {
	_, registry, _ := setupMarketplace(t)
	contract := createListing(t, registry)

	vars := contract.PublicVariables()
	require.Equal(t, ContractStateAvailable, vars.State)
	require.Equal(t, int64(purchasePrice), vars.Price.Int64())
	require.Equal(t, int64(10), vars.Limit)
	require.Equal(t, int64(10), vars.Speed)
	require.Equal(t, contractLength, vars.Length)
	require.Equal(t, sellerAddr, vars.Seller)
	require.Equal(t, int64(0), vars.EscrowBalance.Int64())
}
