package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/agent"
	"github.com/Its-Zeus/shadowharvester/internal/challenge"
	"github.com/Its-Zeus/shadowharvester/internal/config"
	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/miner"
	"github.com/Its-Zeus/shadowharvester/internal/pool"
	"github.com/Its-Zeus/shadowharvester/internal/roster"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/web"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// mineFlags are the identity-mode selectors of the mine command.
type mineFlags struct {
	paymentKey   string
	mnemonic     string
	mnemonicFile string
	account      uint32
	startIndex   uint32
	ephemeral    bool
	poolMode     bool
	maxHashes    uint64
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Autonomous proof-of-work scavenger miner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "coordinator base URL")
	pf.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for persistent state")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&cfg.WalletsFile, "wallets-file", cfg.WalletsFile, "path to the wallets roster file")

	root.AddCommand(newMineCmd(cfg))
	root.AddCommand(newGenerateCmd(cfg))
	root.AddCommand(newDonateAllCmd(cfg))
	return root
}

func newMineCmd(cfg *config.Config) *cobra.Command {
	var mf mineFlags

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine the active challenge",
		Long: `Mine with one of four identity modes:
  --payment-key  one persistent signing key
  --mnemonic     sequentially derived wallets from one phrase
  --ephemeral    a fresh throwaway key per cycle
  --pool         every wallet in the roster file, concurrently`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMine(cfg, mf)
		},
	}

	f := cmd.Flags()
	f.StringVar(&mf.paymentKey, "payment-key", "", "hex-encoded persistent signing key")
	f.StringVar(&mf.mnemonic, "mnemonic", "", "BIP-39 phrase for sequential derivation")
	f.StringVar(&mf.mnemonicFile, "mnemonic-file", "", "file holding the BIP-39 phrase")
	f.Uint32Var(&mf.account, "account", 0, "derivation account for --mnemonic")
	f.Uint32Var(&mf.startIndex, "start-index", 0, "first derivation index for --mnemonic")
	f.BoolVar(&mf.ephemeral, "ephemeral", false, "mine with a fresh identity per cycle")
	f.BoolVar(&mf.poolMode, "pool", false, "mine with the whole wallet roster")
	f.Uint64Var(&mf.maxHashes, "max-hashes", 0, "bound each search cycle (0 = unbounded)")
	f.IntVar(&cfg.Threads, "threads", cfg.Threads, "nonce-search threads per identity")
	f.IntVar(&cfg.Concurrent, "concurrent", cfg.Concurrent, "concurrent identities in pool mode")
	f.StringVar(&cfg.Challenge, "challenge", cfg.Challenge, "pin a specific challenge id")
	f.StringVar(&cfg.DonateTo, "donate-to", cfg.DonateTo, "assign rewards to this address after each solve")
	f.IntVar(&cfg.StatusPort, "status-port", cfg.StatusPort, "HTTP status/metrics port (0 = off)")

	return cmd
}

func runMine(cfg *config.Config, mf mineFlags) error {
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logger.Sync()

	modes := 0
	for _, on := range []bool{mf.paymentKey != "", mf.mnemonic != "" || mf.mnemonicFile != "", mf.ephemeral, mf.poolMode} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("pick exactly one of --payment-key, --mnemonic/--mnemonic-file, --ephemeral, --pool")
	}

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := coordinator.NewHTTPClient(cfg.APIURL, logger)
	source := challenge.NewSource(client, cfg.Challenge, logger)
	engine := miner.NewEngine(st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting harvester",
		zap.String("api_url", cfg.APIURL),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("threads", cfg.Threads),
	)

	// The drainer runs for the whole process lifetime, independent of
	// which mode is mining.
	drainer := store.NewDrainer(st, client, cfg.DrainInterval, logger)
	go drainer.Run(ctx)

	if mf.poolMode {
		return runPool(ctx, cfg, source, engine, st, client, logger)
	}

	ids, err := buildSource(mf, st, logger)
	if err != nil {
		return err
	}
	a := agent.New(source, ids, engine, st, client, agent.Options{
		Threads:      cfg.Threads,
		MaxHashes:    mf.maxHashes,
		DonateTo:     cfg.DonateTo,
		PollInterval: cfg.MonitorInterval,
	}, logger)
	return a.Run(ctx)
}

func buildSource(mf mineFlags, st *store.Store, logger *zap.Logger) (agent.IdentitySource, error) {
	switch {
	case mf.paymentKey != "":
		id, err := identity.FromSigningKey(mf.paymentKey)
		if err != nil {
			return nil, err
		}
		logger.Info("mining with payment key", zap.String("address", id.Address))
		return agent.NewFixedSource(id), nil

	case mf.mnemonic != "" || mf.mnemonicFile != "":
		phrase := mf.mnemonic
		if phrase == "" {
			data, err := os.ReadFile(mf.mnemonicFile)
			if err != nil {
				return nil, fmt.Errorf("read mnemonic file: %w", err)
			}
			phrase = strings.TrimSpace(string(data))
		}
		return agent.NewSequentialSource(phrase, mf.account, mf.startIndex, st, logger)

	default:
		logger.Info("mining with ephemeral identities")
		return agent.NewEphemeralSource(), nil
	}
}

func runPool(ctx context.Context, cfg *config.Config, source *challenge.Source,
	engine *miner.Engine, st *store.Store, client coordinator.Client, logger *zap.Logger) error {
	wallets, err := roster.Load(cfg.WalletsFile)
	if err != nil {
		return err
	}

	members := make([]pool.Member, 0, len(wallets))
	for _, w := range wallets {
		id, err := identity.FromMnemonic(w.Mnemonic, 0, 0)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", w.Name, err)
		}
		members = append(members, pool.Member{
			Name:     w.Name,
			Identity: id,
			Locator: identity.MnemonicLocator{
				Fingerprint: identity.MnemonicFingerprint(w.Mnemonic),
			},
		})
	}

	opts := pool.DefaultOptions()
	opts.Concurrency = cfg.Concurrent
	opts.WorkerThreads = cfg.Threads
	opts.DonateTo = cfg.DonateTo
	opts.MonitorInterval = cfg.MonitorInterval

	p, err := pool.New(members, source, engine, st, client, opts, pool.NewTerminalRenderer(os.Stdout), logger)
	if err != nil {
		return err
	}

	if cfg.StatusPort > 0 {
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.StatusPort),
			Handler:      web.NewHandler(p.Stats().Snapshot),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status server listening", zap.Int("port", cfg.StatusPort))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("status server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	return p.Run(ctx)
}

func newGenerateCmd(cfg *config.Config) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "generate-wallets",
		Short: "Mint new mnemonic wallets into the roster file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv()
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			created, err := roster.Generate(cfg.WalletsFile, count, logger)
			if err != nil {
				return err
			}
			for _, w := range created {
				id, err := identity.FromMnemonic(w.Mnemonic, 0, 0)
				if err != nil {
					return err
				}
				fmt.Printf("%s  %s\n", w.Name, id.Address)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of wallets to generate")
	return cmd
}

func newDonateAllCmd(cfg *config.Config) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "donate-all",
		Short: "Assign every roster wallet's rewards to one address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv()
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			wallets, err := roster.Load(cfg.WalletsFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := coordinator.NewHTTPClient(cfg.APIURL, logger)
			sum, err := roster.DonateAll(ctx, wallets, client, to, logger)
			if err != nil {
				return err
			}
			fmt.Printf("assigned %d, already configured %d, failed %d\n",
				sum.Assigned, sum.AlreadyConfigured, sum.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "donation target address (required)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
