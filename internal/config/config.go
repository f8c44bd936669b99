package config

import "math/big"

// BuildVersion is overridden at link time
var BuildVersion = "0.1.0-dev"

// Validation tags described here: https://pkg.go.dev/github.com/go-playground/validator/v10
type Config struct {
	Environment string `env:"ENVIRONMENT" flag:"environment"`
	Marketplace struct {
		OwnerAddress        string `env:"MARKETPLACE_OWNER_ADDRESS"         flag:"marketplace-owner-address"         validate:"required,eth_addr"  desc:"address allowed to change marketplace policy"`
		FeeCollectorAddress string `env:"MARKETPLACE_FEE_COLLECTOR_ADDRESS" flag:"marketplace-fee-collector-address" validate:"required,eth_addr"  desc:"address receiving the marketplace cut of seller payouts"`
		FeeCutEnabled       bool   `env:"MARKETPLACE_FEE_CUT_ENABLED"       flag:"marketplace-fee-cut-enabled"       desc:"route a cut of every seller payout to the fee collector"`
	}
	Token struct {
		AssetAddress string `env:"TOKEN_ASSET_ADDRESS" flag:"token-asset-address" validate:"omitempty,eth_addr" desc:"address of the payment asset ledger"`
		OwnerAddress string `env:"TOKEN_OWNER_ADDRESS" flag:"token-owner-address" validate:"required,eth_addr"  desc:"account credited with the initial supply"`
		TotalSupply  int64  `env:"TOKEN_TOTAL_SUPPLY"  flag:"token-total-supply"  validate:"omitempty,number"   desc:"initial supply of the payment asset"`
	}
	Log struct {
		Color         bool   `env:"LOG_COLOR"          flag:"log-color"`
		FilePath      string `env:"LOG_FILE_PATH"      flag:"log-file-path"      validate:"omitempty"  desc:"enables file logging and sets the file path"`
		IsProd        bool   `env:"LOG_IS_PROD"        flag:"log-is-prod"        validate:""           desc:"affects the format of the log output"`
		JSON          bool   `env:"LOG_JSON"           flag:"log-json"`
		LevelApp      string `env:"LOG_LEVEL_APP"      flag:"log-level-app"      validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelContract string `env:"LOG_LEVEL_CONTRACT" flag:"log-level-contract" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	}
	Web struct {
		Address   string `env:"WEB_ADDRESS"    flag:"web-address"    validate:"required,hostname_port" desc:"http server address host:port"`
		PublicUrl string `env:"WEB_PUBLIC_URL" flag:"web-public-url" validate:"omitempty,url"          desc:"public url of the marketplace api, falls back to web-address if empty"`
	}
}

func (cfg *Config) SetDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Token
	if cfg.Token.TotalSupply == 0 {
		cfg.Token.TotalSupply = 1_000_000_000
	}

	// Log
	if cfg.Log.LevelApp == "" {
		cfg.Log.LevelApp = "debug"
	}
	if cfg.Log.LevelContract == "" {
		cfg.Log.LevelContract = "debug"
	}

	// Web
	if cfg.Web.Address == "" {
		cfg.Web.Address = "0.0.0.0:8080"
	}
	if cfg.Web.PublicUrl == "" {
		cfg.Web.PublicUrl = "http://localhost:8080"
	}
}

func (cfg *Config) TotalSupply() *big.Int {
	return big.NewInt(cfg.Token.TotalSupply)
}

// GetSanitized returns a copy of the config with sensitive data removed
// explicitly adding each field here to avoid accidentally leaking sensitive data
func (cfg *Config) GetSanitized() interface{} {
	publicCfg := Config{}

	publicCfg.Environment = cfg.Environment

	publicCfg.Marketplace.OwnerAddress = cfg.Marketplace.OwnerAddress
	publicCfg.Marketplace.FeeCollectorAddress = cfg.Marketplace.FeeCollectorAddress
	publicCfg.Marketplace.FeeCutEnabled = cfg.Marketplace.FeeCutEnabled

	publicCfg.Token.AssetAddress = cfg.Token.AssetAddress
	publicCfg.Token.TotalSupply = cfg.Token.TotalSupply

	publicCfg.Log.Color = cfg.Log.Color
	publicCfg.Log.FilePath = cfg.Log.FilePath
	publicCfg.Log.IsProd = cfg.Log.IsProd
	publicCfg.Log.JSON = cfg.Log.JSON
	publicCfg.Log.LevelApp = cfg.Log.LevelApp
	publicCfg.Log.LevelContract = cfg.Log.LevelContract

	publicCfg.Web.Address = cfg.Web.Address
	publicCfg.Web.PublicUrl = cfg.Web.PublicUrl

	return publicCfg
}
