package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"agentescrow/config"
	"agentescrow/core"
	"agentescrow/crypto"
	"agentescrow/observability/logging"
	"agentescrow/rpc"
	"agentescrow/storage"
)

const (
	envEnvironment = "ESCROWD_ENV"
	envRPCToken    = "ESCROWD_RPC_TOKEN"
	envJWTSecret   = "ESCROWD_JWT_SECRET"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	keygen := flag.Bool("keygen", false, "Generate a new agent identity and exit")
	flag.Parse()

	if *keygen {
		if err := generateIdentity(os.Stdout); err != nil {
			slog.Error("failed to generate identity", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv(envEnvironment))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("escrowd", env, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db)
	if err != nil {
		logger.Error("failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}
	node.SetMinReputationVolume(cfg.MinReputationVolume)

	serverCfg := rpc.ServerConfig{
		AuthToken:     cfg.RPCAuthToken,
		JWTSecret:     cfg.RPCJWTSecret,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	}
	if token := strings.TrimSpace(os.Getenv(envRPCToken)); token != "" {
		serverCfg.AuthToken = token
	}
	if secret := strings.TrimSpace(os.Getenv(envJWTSecret)); secret != "" {
		serverCfg.JWTSecret = secret
	}

	server := rpc.NewServer(node, serverCfg, logger)
	logger.Info("escrowd starting",
		slog.String("network", cfg.NetworkName),
		slog.String("backend", cfg.Backend),
		slog.String("rpc", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// generateIdentity prints a fresh agent keypair: the bech32 address callers
// pass to RPC methods and the hex private key that signs for it.
func generateIdentity(w io.Writer) error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "address: %s\n", key.PubKey().Address().String()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "private: %s\n", hex.EncodeToString(key.Bytes()))
	return err
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.db"))
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	default:
		return storage.NewLevelDB(cfg.DataDir)
	}
}
