package httphandlers

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"gitlab.com/TitanInd/marketplace/internal/marketplace"
	"golang.org/x/exp/slices"
)

func (h *HTTPHandler) CreateContract(ctx *gin.Context) {
	var req CreateContractRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		ctx.JSON(400, gin.H{"error": "invalid price"})
		return
	}
	length, err := time.ParseDuration(req.Length)
	if err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	contract, err := h.registry.CreateListing(req.Seller, price, req.Limit, req.Speed, length, req.FeeCollector, req.Commitment)
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapContract(contract))
}

func (h *HTTPHandler) GetContracts(ctx *gin.Context) {
	data := []Contract{}
	for _, contract := range h.registry.GetListings() {
		data = append(data, *h.mapContract(contract))
	}

	slices.SortStableFunc(data, func(a Contract, b Contract) bool {
		return a.ID < b.ID
	})

	ctx.JSON(200, data)
}

func (h *HTTPHandler) GetContract(ctx *gin.Context) {
	contract, ok := h.loadContract(ctx)
	if !ok {
		return
	}
	ctx.JSON(200, h.mapContract(contract))
}

func (h *HTTPHandler) PurchaseContract(ctx *gin.Context) {
	contract, ok := h.loadContract(ctx)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	err := contract.Purchase(req.Buyer, req.Commitment)
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapContract(contract))
}

func (h *HTTPHandler) CloseoutContract(ctx *gin.Context) {
	contract, ok := h.loadContract(ctx)
	if !ok {
		return
	}

	var req CloseoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	err := contract.CloseOut(req.Caller, marketplace.CloseoutType(req.CloseoutType))
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapContract(contract))
}

func (h *HTTPHandler) UpdateDest(ctx *gin.Context) {
	contract, ok := h.loadContract(ctx)
	if !ok {
		return
	}

	var req UpdateDestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if req.EncryptedDest == "" {
		ctx.JSON(400, gin.H{"error": "empty destination"})
		return
	}

	err := contract.UpdateMiningInformation(req.Caller, req.EncryptedDest)
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{"status": "ok"})
}

func (h *HTTPHandler) UpdateTerms(ctx *gin.Context) {
	contract, ok := h.loadContract(ctx)
	if !ok {
		return
	}

	var req UpdateTermsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	price, okPrice := new(big.Int).SetString(req.Price, 10)
	if !okPrice {
		ctx.JSON(400, gin.H{"error": "invalid price"})
		return
	}
	length, err := time.ParseDuration(req.Length)
	if err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	err = contract.UpdatePurchaseInformation(req.Caller, price, req.Limit, req.Speed, length, marketplace.CloseoutType(req.CloseoutType))
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, h.mapContract(contract))
}

func (h *HTTPHandler) GetBalance(ctx *gin.Context) {
	addr := common.HexToAddress(ctx.Param("address"))
	ctx.JSON(200, BalanceResponse{
		Address: addr.Hex(),
		Balance: h.ledger.BalanceOf(addr).String(),
	})
}

func (h *HTTPHandler) IncreaseAllowance(ctx *gin.Context) {
	var req IncreaseAllowanceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		ctx.JSON(400, gin.H{"error": "invalid amount"})
		return
	}

	err := h.ledger.IncreaseAllowance(req.Owner, h.registry.Address(), amount)
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{
		"status":    "ok",
		"allowance": h.ledger.Allowance(req.Owner, h.registry.Address()).String(),
	})
}

func (h *HTTPHandler) loadContract(ctx *gin.Context) (*marketplace.RentalContract, bool) {
	contractID := ctx.Param("ID")
	if contractID == "" {
		ctx.JSON(400, gin.H{"error": "contract id is required"})
		return nil, false
	}
	contract, ok := h.registry.GetListing(common.HexToAddress(contractID))
	if !ok {
		ctx.JSON(404, gin.H{"error": "contract not found"})
		return nil, false
	}
	return contract, true
}

func (h *HTTPHandler) mapContract(contract *marketplace.RentalContract) *Contract {
	vars := contract.PublicVariables()

	var startedAt *string
	if !vars.StartedAt.IsZero() {
		formatted := vars.StartedAt.Format(time.RFC3339)
		startedAt = &formatted
	}

	return &Contract{
		Resource: Resource{
			Self: h.publicUrl.JoinPath(fmt.Sprintf("/contracts/%s", contract.GetID())).String(),
		},
		ID:             contract.GetID(),
		State:          vars.State.String(),
		SellerAddr:     vars.Seller.Hex(),
		BuyerAddr:      vars.Buyer.Hex(),
		Price:          vars.Price.String(),
		Limit:          vars.Limit,
		Speed:          vars.Speed,
		Length:         vars.Length.String(),
		StartTimestamp: startedAt,
		EscrowBalance:  vars.EscrowBalance.String(),
		HasDest:        vars.EncryptedPoolData != "",
	}
}
