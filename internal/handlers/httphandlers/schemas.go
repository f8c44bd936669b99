package httphandlers

import (
	"github.com/ethereum/go-ethereum/common"
)

type Resource struct {
	Self string
}

type Contract struct {
	Resource

	ID             string
	State          string
	SellerAddr     string
	BuyerAddr      string
	Price          string
	Limit          int64
	Speed          int64
	Length         string
	StartTimestamp *string
	EscrowBalance  string
	HasDest        bool
}

type ConfigResponse struct {
	Version       string
	FeeCutEnabled bool
	Config        interface{}
}

type BalanceResponse struct {
	Address string
	Balance string
}

type CreateContractRequest struct {
	Seller       common.Address `json:"seller" binding:"required"`
	Price        string         `json:"price" binding:"required"`
	Limit        int64          `json:"limit"`
	Speed        int64          `json:"speed"`
	Length       string         `json:"length" binding:"required"`
	FeeCollector common.Address `json:"feeCollector"`
	Commitment   string         `json:"commitment" binding:"required"`
}

type PurchaseRequest struct {
	Buyer      common.Address `json:"buyer" binding:"required"`
	Commitment string         `json:"commitment" binding:"required"`
}

type CloseoutRequest struct {
	Caller       common.Address `json:"caller" binding:"required"`
	CloseoutType uint8          `json:"closeoutType"`
}

type UpdateDestRequest struct {
	Caller        common.Address `json:"caller" binding:"required"`
	EncryptedDest string         `json:"encryptedDest"`
}

type UpdateTermsRequest struct {
	Caller       common.Address `json:"caller" binding:"required"`
	Price        string         `json:"price" binding:"required"`
	Limit        int64          `json:"limit"`
	Speed        int64          `json:"speed"`
	Length       string         `json:"length" binding:"required"`
	CloseoutType uint8          `json:"closeoutType"`
}

type SetFeeCutRequest struct {
	Caller  common.Address `json:"caller" binding:"required"`
	Enabled bool           `json:"enabled"`
}

type IncreaseAllowanceRequest struct {
	Owner  common.Address `json:"owner" binding:"required"`
	Amount string         `json:"amount" binding:"required"`
}
