// Command hyperchaind runs a hyperchain shard participant: it drives
// the overlay loop and optionally produces blocks and serves RPC.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hyperchain-net/hyperchain/chain"
	"github.com/hyperchain-net/hyperchain/config"
	"github.com/hyperchain-net/hyperchain/consensus"
	"github.com/hyperchain-net/hyperchain/core"
	"github.com/hyperchain-net/hyperchain/crypto"
	"github.com/hyperchain-net/hyperchain/events"
	"github.com/hyperchain-net/hyperchain/rpc"
	"github.com/hyperchain-net/hyperchain/shard"
	"github.com/hyperchain-net/hyperchain/storage"
	"github.com/hyperchain-net/hyperchain/transport"
	"github.com/hyperchain-net/hyperchain/wallet"
)

var (
	configPath string
	keyPath    string
)

func main() {
	root := &cobra.Command{
		Use:   "hyperchaind",
		Short: "Hyperchain shard daemon",
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env overrides are optional; ignore a missing file.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "hyperchain.yaml", "path to the config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to the keystore file")

	root.AddCommand(runCmd(), keygenCmd(), rootBlockCmd(), authorityCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.WithField("path", configPath).Warn("config file not found, using defaults")
			return config.Default()
		}
		logrus.WithError(err).Fatal("failed to load config")
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// keystorePassword comes from the environment, not flags (flags leak
// through ps).
func keystorePassword() string {
	password := os.Getenv("HYPERCHAIN_PASSWORD")
	if password == "" {
		logrus.Warn("HYPERCHAIN_PASSWORD not set, keystore uses an empty password")
	}
	return password
}

// openChain builds the blockchain view per the configured storage
// backend. The returned closer is non-nil for LevelDB.
func openChain(cfg *config.Config) (*chain.Blockchain, func(), error) {
	authorities, err := storage.OpenAuthoritiesFile(filepath.Join(cfg.DataDir, "authorities"))
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Storage.Backend {
	case "leveldb":
		db, err := storage.OpenLevelDB(filepath.Join(cfg.DataDir, "chain"))
		if err != nil {
			return nil, nil, err
		}
		blocks := storage.NewLevelBlocks(db)
		transactions := storage.NewLevelTransactions(db, blocks)
		return chain.New(authorities, blocks, transactions), func() { db.Close() }, nil

	case "", "files":
		blocks, err := storage.OpenChunkedBlocks(filepath.Join(cfg.DataDir, "blocks"), cfg.Storage.ChunkSize)
		if err != nil {
			return nil, nil, err
		}
		transactions, err := storage.OpenTransactionsLog(filepath.Join(cfg.DataDir, "transactions"), blocks)
		if err != nil {
			return nil, nil, err
		}
		return chain.New(authorities, blocks, transactions), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new key pair and write the keystore",
		RunE: func(*cobra.Command, []string) error {
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(keyPath, keystorePassword(), w.Secret()); err != nil {
				return err
			}
			fmt.Printf("Public key: %s\n", w.PublicKey().Base64())
			fmt.Printf("Keystore:   %s\n", keyPath)
			return nil
		},
	}
}

func rootBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Mint the root block of a fresh chain",
		RunE: func(*cobra.Command, []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			secret, err := wallet.LoadKey(keyPath, keystorePassword())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}

			blockchain, closer, err := openChain(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}

			empty, err := blockchain.Blocks().IsEmpty()
			if err != nil {
				return err
			}
			if !empty {
				return fmt.Errorf("chain in %s is not empty", cfg.DataDir)
			}

			block := core.BuildRoot(secret)
			if _, err := blockchain.Blocks().Insert(block); err != nil {
				return err
			}
			fmt.Printf("Root block: %s\n", block.Hash().Base64())
			return nil
		},
	}
}

func authorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Manage the authorities set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <public-key>",
		Short: "Add an authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := loadConfig()
			pub, err := crypto.PublicKeyFromBase64(args[0])
			if err != nil {
				return err
			}
			blockchain, closer, err := openChain(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			added, err := blockchain.Authorities().Insert(pub)
			if err != nil {
				return err
			}
			if !added {
				fmt.Println("already an authority")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <public-key>",
		Short: "Remove an authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := loadConfig()
			pub, err := crypto.PublicKeyFromBase64(args[0])
			if err != nil {
				return err
			}
			blockchain, closer, err := openChain(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			removed, err := blockchain.Authorities().Delete(pub)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Println("not an authority")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List authorities",
		RunE: func(*cobra.Command, []string) error {
			cfg := loadConfig()
			blockchain, closer, err := openChain(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}
			authorities, err := blockchain.Authorities().GetAll()
			if err != nil {
				return err
			}
			for _, pub := range authorities {
				fmt.Println(pub.Base64())
			}
			return nil
		},
	})

	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the shard participant",
		RunE: func(*cobra.Command, []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			secret, err := wallet.LoadKey(keyPath, keystorePassword())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}

			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}

			blockchain, closer, err := openChain(cfg)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}

			emitter := events.NewEmitter()
			emitter.Subscribe(events.EventBlockAccepted, func(ev events.Event) {
				logrus.WithField("number", ev.Data["number"]).Info("block accepted")
			})
			emitter.Subscribe(events.EventTransactionStaged, func(ev events.Event) {
				logrus.WithField("hash", ev.Data["hash"]).Debug("transaction staged")
			})
			emitter.Subscribe(events.EventPeerDropped, func(ev events.Event) {
				logrus.WithField("member", ev.Data["member"]).Info("peer dropped")
			})

			backend := shard.NewBasicBackend(blockchain).WithEmitter(emitter)

			tcp := transport.NewTCPTransport(cfg.Shard.ListenAddr)
			if err := tcp.Start(); err != nil {
				return err
			}
			defer tcp.Stop()
			logrus.WithField("addr", cfg.Shard.ListenAddr).Info("transport listening")

			participant := shard.New(tcp, secret, cfg.Shard.Name, backend).
				WithOptions(cfg.ShardOptions()).
				WithEmitter(emitter)

			for _, seed := range cfg.Shard.Seeds {
				pub, err := crypto.PublicKeyFromBase64(seed.PublicKey)
				if err != nil {
					logrus.WithField("seed", seed.Address).Warn("invalid seed public key")
					continue
				}
				member := shard.Member{ClientPublic: pub, ServerAddress: seed.Address}
				if err := participant.Subscribe(member); err != nil {
					logrus.WithError(err).WithField("seed", seed.Address).Warn("seed subscription failed")
					continue
				}
				logrus.WithField("seed", seed.Address).Info("subscribed to seed")
			}

			done := make(chan struct{})

			if cfg.Producer.Enabled {
				producer := consensus.NewProducer(participant, blockchain.Authorities(), secret).
					WithMaxBlockTransactions(cfg.Producer.MaxBlockTransactions)
				go producer.Run(cfg.Producer.Interval, done)
				logrus.Info("block producer running")
			}

			if cfg.RPC.ListenAddr != "" {
				server := rpc.NewServer(cfg.RPC.ListenAddr, rpc.NewHandler(participant, blockchain), cfg.RPC.AuthToken)
				if err := server.Start(); err != nil {
					return err
				}
				defer server.Stop()
				logrus.WithField("addr", cfg.RPC.ListenAddr).Info("rpc listening")
			}

			// Overlay tick loop.
			go func() {
				ticker := time.NewTicker(cfg.Shard.TickInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := participant.Update(); err != nil {
							logrus.WithError(err).Error("shard update failed")
						}
					}
				}
			}()
			logrus.WithField("shard", cfg.Shard.Name).Info("participant running")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logrus.Info("shutting down")
			close(done)
			return nil
		},
	}
}
