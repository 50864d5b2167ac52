// Package roster manages the wallets file: an ordered JSON list of
// mnemonic wallets the pool scheduler mines with. The file is immutable
// input during a mining run; generation appends, never rewrites.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// MaxBatch caps one generation run. Larger rosters are built up over
// several invocations.
const MaxBatch = 1000

// Load reads the wallets file. Mining requires at least one entry, and
// a corrupt file is an error here; only Generate recovers from one.
func Load(path string) ([]types.WalletConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}
	var wallets []types.WalletConfig
	if err := json.Unmarshal(data, &wallets); err != nil {
		return nil, fmt.Errorf("parse wallets file %s: %w", path, err)
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("wallets file %s holds no wallets", path)
	}
	return wallets, nil
}

// Generate mints n new mnemonic wallets and appends them to the file,
// continuing the id sequence from the highest existing id. A missing
// file starts an empty roster; an unparseable one is moved aside with a
// timestamp suffix so no wallet data is silently destroyed.
func Generate(path string, n int, logger *zap.Logger) ([]types.WalletConfig, error) {
	if n <= 0 {
		return nil, fmt.Errorf("wallet count must be positive, got %d", n)
	}
	if n > MaxBatch {
		return nil, fmt.Errorf("wallet count %d exceeds the per-batch cap of %d", n, MaxBatch)
	}

	existing, err := loadForAppend(path, logger)
	if err != nil {
		return nil, err
	}

	var maxID uint32
	for _, w := range existing {
		if w.ID > maxID {
			maxID = w.ID
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	status := "active"
	created := make([]types.WalletConfig, 0, n)
	for i := 0; i < n; i++ {
		phrase, err := identity.GenerateMnemonic()
		if err != nil {
			return nil, fmt.Errorf("generate wallet %d: %w", i, err)
		}
		id := maxID + 1 + uint32(i)
		created = append(created, types.WalletConfig{
			ID:        id,
			Name:      fmt.Sprintf("wallet-%d", id),
			Mnemonic:  phrase,
			CreatedAt: &now,
			Status:    &status,
		})
	}

	all := append(existing, created...)
	if err := writeFile(path, all); err != nil {
		return nil, err
	}
	logger.Info("generated wallets",
		zap.Int("new", n),
		zap.Int("total", len(all)),
		zap.String("path", path),
	)
	return created, nil
}

func loadForAppend(path string, logger *zap.Logger) ([]types.WalletConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}

	var wallets []types.WalletConfig
	if err := json.Unmarshal(data, &wallets); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405Z"))
		if renameErr := os.Rename(path, backup); renameErr != nil {
			return nil, fmt.Errorf("wallets file is corrupt and could not be moved aside: %w", renameErr)
		}
		logger.Warn("wallets file is corrupt, moved aside and starting fresh",
			zap.String("backup", backup), zap.Error(err))
		return nil, nil
	}
	return wallets, nil
}

// writeFile writes the roster through a temp file and rename so a crash
// mid-write never truncates the live file.
func writeFile(path string, wallets []types.WalletConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create wallets dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(wallets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallets: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace wallets file: %w", err)
	}
	return nil
}

// DonationSummary counts the outcomes of one donate-all sweep.
type DonationSummary struct {
	Assigned          int
	AlreadyConfigured int
	Failed            int
}

// DonateAll assigns every roster wallet's accumulated rewards to one
// target address. Wallets whose target is already configured count as
// success; individual failures are logged and do not stop the sweep.
func DonateAll(ctx context.Context, wallets []types.WalletConfig, client coordinator.Client, to string, logger *zap.Logger) (DonationSummary, error) {
	if to == "" {
		return DonationSummary{}, fmt.Errorf("no donation target address")
	}

	var sum DonationSummary
	msg := coordinator.DonationMessage(to)
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		id, err := identity.FromMnemonic(w.Mnemonic, 0, 0)
		if err != nil {
			logger.Warn("skipping wallet with bad mnemonic",
				zap.String("wallet", w.Name), zap.Error(err))
			sum.Failed++
			continue
		}

		_, err = client.Donate(ctx, id.Address, to, id.Sign(msg))
		switch {
		case errors.Is(err, coordinator.ErrAlreadyDonated):
			sum.AlreadyConfigured++
		case err != nil:
			logger.Warn("donation assignment failed",
				zap.String("wallet", w.Name), zap.Error(err))
			sum.Failed++
		default:
			sum.Assigned++
		}
	}

	logger.Info("donation sweep finished",
		zap.Int("assigned", sum.Assigned),
		zap.Int("already_configured", sum.AlreadyConfigured),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}
