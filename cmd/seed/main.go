// Command seed bootstraps the system wallet (and any wallets named on
// the command line) before the service accepts traffic. It is ordinary
// invocation of the engine's public CreateWallet operation — wallets
// are always created out-of-band, never implicitly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"wallet-ledger/internal/config"
	"wallet-ledger/internal/domain"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/logging"
	"wallet-ledger/internal/store"
)

func main() {
	extra := flag.String("wallets", "", "comma-separated wallet_id:asset pairs to seed alongside the system wallet")
	flag.Parse()

	if err := run(*extra); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(extraWallets string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DBConnectTimeoutSeconds)*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	systemWalletID, err := uuid.Parse(cfg.SystemWalletID)
	if err != nil {
		return fmt.Errorf("parse system_wallet_id: %w", err)
	}

	engine := ledger.NewEngine(pool, systemWalletID, cfg.DefaultAsset)

	if err := seedWallet(ctx, engine, systemWalletID, cfg.DefaultAsset); err != nil {
		return err
	}

	for _, spec := range parseWalletList(extraWallets, cfg.DefaultAsset) {
		if err := seedWallet(ctx, engine, spec.id, spec.asset); err != nil {
			return err
		}
	}

	logging.Info("seed complete")
	return nil
}

func seedWallet(ctx context.Context, engine *ledger.Engine, id uuid.UUID, asset string) error {
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: id, Asset: asset})
	if err != nil {
		if domain.Is(err, domain.KindConflict) {
			logging.Info("wallet already seeded", "wallet_id", id.String())
			return nil
		}
		return fmt.Errorf("seed wallet %s: %w", id, err)
	}
	logging.Info("wallet seeded", "wallet_id", id.String(), "asset", asset)
	return nil
}

type walletSpec struct {
	id    uuid.UUID
	asset string
}

func parseWalletList(raw, defaultAsset string) []walletSpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var specs []walletSpec
	for _, part := range strings.Split(raw, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 2)
		id, err := uuid.Parse(fields[0])
		if err != nil {
			continue
		}
		asset := defaultAsset
		if len(fields) == 2 && fields[1] != "" {
			asset = fields[1]
		}
		specs = append(specs, walletSpec{id: id, asset: asset})
	}
	return specs
}
