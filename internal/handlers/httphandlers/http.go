package httphandlers

import (
	"errors"
	"net/http/pprof"
	"net/url"

	"github.com/gin-gonic/gin"
	"gitlab.com/TitanInd/marketplace/internal/config"
	"gitlab.com/TitanInd/marketplace/internal/interfaces"
	"gitlab.com/TitanInd/marketplace/internal/ledger"
	"gitlab.com/TitanInd/marketplace/internal/marketplace"
)

type HTTPHandler struct {
	registry  *marketplace.ContractRegistry
	ledger    ledger.Ledger
	config    *config.Config
	publicUrl *url.URL
	log       interfaces.ILogger
}

func NewHTTPHandler(registry *marketplace.ContractRegistry, ledg ledger.Ledger, cfg *config.Config, publicUrl *url.URL, log interfaces.ILogger) *gin.Engine {
	handl := &HTTPHandler{
		registry:  registry,
		ledger:    ledg,
		config:    cfg,
		publicUrl: publicUrl,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.GET("/healthcheck", handl.HealthCheck)
	r.GET("/config", handl.GetConfig)
	r.GET("/contracts", handl.GetContracts)
	r.GET("/contracts/:ID", handl.GetContract)
	r.GET("/balances/:address", handl.GetBalance)

	r.POST("/contracts", handl.CreateContract)
	r.POST("/contracts/:ID/purchase", handl.PurchaseContract)
	r.POST("/contracts/:ID/closeout", handl.CloseoutContract)
	r.POST("/contracts/:ID/dest", handl.UpdateDest)
	r.POST("/contracts/:ID/terms", handl.UpdateTerms)
	r.POST("/allowances", handl.IncreaseAllowance)
	r.POST("/config/fee-cut", handl.SetFeeCut)

	r.Any("/debug/pprof/*action", gin.WrapF(pprof.Index))

	err := r.SetTrustedProxies(nil)
	if err != nil {
		panic(err)
	}

	return r
}

func (h *HTTPHandler) HealthCheck(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"status":  "healthy",
		"version": config.BuildVersion,
	})
}

func (h *HTTPHandler) GetConfig(ctx *gin.Context) {
	ctx.JSON(200, ConfigResponse{
		Version:       config.BuildVersion,
		FeeCutEnabled: h.registry.Policy().FeeCutEnabled(),
		Config:        h.config.GetSanitized(),
	})
}

func (h *HTTPHandler) SetFeeCut(ctx *gin.Context) {
	var req SetFeeCutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, gin.H{"error": err.Error()})
		return
	}

	err := h.registry.SetFeeCutEnabled(req.Caller, req.Enabled)
	if err != nil {
		h.abortMarketplaceError(ctx, err)
		return
	}

	ctx.JSON(200, gin.H{"status": "ok"})
}

// abortMarketplaceError maps engine errors onto HTTP statuses
func (h *HTTPHandler) abortMarketplaceError(ctx *gin.Context, err error) {
	status := 500
	switch {
	case errors.Is(err, marketplace.ErrListingNotFound):
		status = 404
	case errors.Is(err, marketplace.ErrNotAuthorized):
		status = 403
	case errors.Is(err, marketplace.ErrCommitmentMismatch),
		errors.Is(err, marketplace.ErrInsufficientAllowance),
		errors.Is(err, marketplace.ErrInvalidState),
		errors.Is(err, marketplace.ErrNothingToSettle),
		errors.Is(err, marketplace.ErrInvalidTerms),
		errors.Is(err, marketplace.ErrInvalidCloseout):
		status = 400
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrNegativeAmount):
		status = 400
	default:
		h.log.Errorf("unexpected marketplace error: %s", err)
	}

	ctx.JSON(status, gin.H{"error": err.Error()})
}
