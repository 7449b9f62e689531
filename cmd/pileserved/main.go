// Command pileserved serves the item-pile pricing and settlement engine.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/api"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/persistence"
	"github.com/arkenvault/pileworks/internal/trade"
)

type config struct {
	Port        int           `env:"PORT" envDefault:"8080"`
	DBPath      string        `env:"DB_PATH" envDefault:"data/pileworks.db"`
	AdminKey    string        `env:"ADMIN_KEY"`
	CORSOrigins []string      `env:"CORS_ORIGINS" envSeparator:","`
	SeedDemo    bool          `env:"SEED_DEMO" envDefault:"false"`
	TradeRate   int           `env:"TRADE_RATE" envDefault:"60"`
	TradeWindow time.Duration `env:"TRADE_WINDOW" envDefault:"1m"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Currency catalog ──────────────────────────────────────────────
	// A stored "currencies" setting overrides the stock catalog.
	defaults := currency.DefaultCurrencies()
	if raw, err := db.Setting(ctx, "currencies"); err == nil {
		var stored []currency.Currency
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			slog.Error("stored currency catalog is invalid", "error", err)
			os.Exit(1)
		}
		defaults = stored
	}
	cat, err := currency.NewCatalog(defaults)
	if err != nil {
		slog.Error("invalid currency catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("currency catalog ready",
		"currencies", cat.Len(),
		"primary", cat.Primary().ID,
		"precision", cat.DecimalPrecision(),
	)

	if cfg.SeedDemo {
		if err := seedDemo(ctx, db); err != nil {
			slog.Error("demo seed failed", "error", err)
			os.Exit(1)
		}
	}

	// ── Trade hooks ───────────────────────────────────────────────────
	hooks := trade.NewBus()
	hooks.OnPost(trade.EventTrade, func(_ context.Context, e trade.Event) {
		slog.Info("trade recorded",
			"seller", e.SellerID,
			"buyer", e.BuyerID,
			"total", e.Result.TotalCurrencyCost,
		)
	})

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ADMIN_KEY not set — the trade endpoint will be disabled")
	}

	server := &api.Server{
		Store:       db,
		Hooks:       hooks,
		Defaults:    defaults,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		CORSOrigins: cfg.CORSOrigins,
		TradeRate:   cfg.TradeRate,
		TradeWindow: cfg.TradeWindow,
	}
	server.Start()

	fmt.Printf("pileworks ready: http://localhost:%d/api/v1/status\n", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
}

// seedDemo writes a sample merchant and adventurer if the database is empty,
// which makes the API explorable without a host integration.
func seedDemo(ctx context.Context, db *persistence.DB) error {
	ids, err := db.ActorIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return nil
	}

	merchant := &actor.Actor{
		ID:   "merchant-barnaby",
		Name: "Barnaby's Provisions",
		Flags: actor.PileFlags{
			Enabled:            true,
			IsMerchant:         true,
			BuyPriceModifier:   1.2,
			SellPriceModifier:  0.5,
			InfiniteCurrencies: true,
		},
		Items: []actor.Item{
			{Name: "Longsword", Type: "weapon", Quantity: 4, Cost: "15"},
			{Name: "Healing Draught", Type: "consumable", Quantity: 10, Cost: "12.34"},
			{Name: "Traveler's Rations", Type: "consumable", Quantity: 30, Cost: "0.5"},
		},
	}

	adventurer := &actor.Actor{
		ID:   "pc-wren",
		Name: "Wren",
		Attributes: map[string]float64{
			"system.currency.gp": 20,
			"system.currency.sp": 7,
			"system.currency.cp": 42,
		},
		Items: []actor.Item{
			{Name: "Worn Dagger", Type: "weapon", Quantity: 1, Cost: "2"},
		},
	}

	for _, a := range []*actor.Actor{merchant, adventurer} {
		if err := db.SaveActor(ctx, a); err != nil {
			return fmt.Errorf("seeding %s: %w", a.ID, err)
		}
	}
	slog.Info("seeded demo actors", "actors", strings.Join([]string{merchant.ID, adventurer.ID}, ", "))
	return nil
}
