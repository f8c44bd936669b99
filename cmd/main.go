package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gitlab.com/TitanInd/marketplace/internal/config"
	"gitlab.com/TitanInd/marketplace/internal/handlers/httphandlers"
	"gitlab.com/TitanInd/marketplace/internal/ledger"
	"gitlab.com/TitanInd/marketplace/internal/lib"
	"gitlab.com/TitanInd/marketplace/internal/marketplace"
	"golang.org/x/sync/errgroup"
)

// registryAddr is a fixed identity for the single in-process registry. It only
// serves as the allowance spender and the listing address derivation seed.
var registryAddr = common.HexToAddress("0x0000000000000000000000000000000000000f0e")

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	err := config.LoadConfig(&cfg, &os.Args)
	if err != nil {
		panic(err)
	}

	log, err := lib.NewLogger(cfg.Log.LevelApp, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FilePath)
	if err != nil {
		panic(err)
	}

	contractLog, err := lib.NewLogger(cfg.Log.LevelContract, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FilePath)
	if err != nil {
		panic(err)
	}

	defer func() {
		_ = log.Sync()
		_ = contractLog.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-shutdownChan
		log.Warnf("Received signal: %s", s)
		cancel()

		s = <-shutdownChan
		log.Warnf("Received signal: %s. Forcing exit...", s)
		os.Exit(1)
	}()

	token := ledger.NewToken(
		common.HexToAddress(cfg.Token.AssetAddress),
		common.HexToAddress(cfg.Token.OwnerAddress),
		cfg.TotalSupply(),
	)

	policy := marketplace.NewPolicy(
		common.HexToAddress(cfg.Marketplace.OwnerAddress),
		common.HexToAddress(cfg.Marketplace.FeeCollectorAddress),
		common.HexToAddress(cfg.Token.AssetAddress),
		cfg.Marketplace.FeeCutEnabled,
	)

	bus := marketplace.NewEventBus(log.Named("BUS"))
	registry := marketplace.NewContractRegistry(registryAddr, policy, token, bus, contractLog.Named("REGISTRY"))

	publicUrl, err := url.Parse(cfg.Web.PublicUrl)
	if err != nil {
		panic(err)
	}

	handl := httphandlers.NewHTTPHandler(registry, token, &cfg, publicUrl, log.Named("HTTP"))
	server := &http.Server{
		Addr:    cfg.Web.Address,
		Handler: handl,
	}

	// log every marketplace event
	events := bus.Subscribe()
	go func() {
		for event := range events {
			log.Infof("event %s contract %s", event.Kind, lib.AddrShort(event.Contract.Hex()))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bus.Run(ctx)
	})

	g.Go(func() error {
		log.Infof("http server is listening: %s", cfg.Web.Address)
		return server.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Infof("App exited due to %s", err)
}
