// Command facilitator runs the x402 payment facilitator: an HTTP service
// that verifies and settles exact-scheme payments on SVM networks.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	x402 "github.com/amiko-network/x402-facilitator"
	"github.com/amiko-network/x402-facilitator/config"
	"github.com/amiko-network/x402-facilitator/crossmint"
	"github.com/amiko-network/x402-facilitator/server"
	"github.com/amiko-network/x402-facilitator/svm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "facilitator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	network, err := svm.GetNetworkConfig(cfg.Network)
	if err != nil {
		return err
	}
	rpcURL := cfg.SolanaRPCURL
	if rpcURL == "" {
		rpcURL = network.RPCURL
	}
	wsURL := cfg.SolanaWSURL
	if wsURL == "" {
		wsURL = network.WSURL
	}

	signer, err := svm.NewLocalSigner(cfg.SvmPrivateKey)
	if err != nil {
		return err
	}

	svmCfg, err := buildSvmConfig(cfg, rpcURL, wsURL)
	if err != nil {
		return err
	}

	var custody svm.CustodyChecker
	if cfg.CrossmintEnabled() {
		custody = crossmint.New(cfg.CrossmintBaseURL, cfg.CrossmintAPIKey, log)
	}

	client := rpc.New(rpcURL)
	wsClient, err := ws.Connect(context.Background(), wsURL)
	if err != nil {
		return fmt.Errorf("connect websocket %s: %w", wsURL, err)
	}
	defer wsClient.Close()

	mechanism := svm.NewExactSvmFacilitator(
		client,
		svm.WSStream{Client: wsClient},
		signer,
		custody,
		svmCfg,
		log,
	)

	facilitator := x402.NewFacilitator(x402.WithSettlementCache(x402.DefaultSettlementTTL))
	facilitator.Register(x402.Network(cfg.Network), mechanism, map[string]interface{}{
		"feePayer": mechanism.FeePayer(),
	})

	srv := server.New(facilitator, cfg.AmikoAuthSecret, log)
	srv.RegisterPreparer(x402.Network(cfg.Network), mechanism)

	log.Info("facilitator listening",
		zap.String("port", cfg.Port),
		zap.String("network", cfg.Network),
		zap.String("feePayer", mechanism.FeePayer()),
		zap.Bool("trustless", !svmCfg.TrustlessProgramID.IsZero()),
		zap.Bool("crossmint", custody != nil),
	)
	return srv.Run(":" + cfg.Port)
}

func buildSvmConfig(cfg *config.Config, rpcURL, wsURL string) (svm.Config, error) {
	out := svm.Config{
		RPCURL:                rpcURL,
		WSURL:                 wsURL,
		AllowCrossmintWallets: cfg.CrossmintEnabled(),
	}

	if cfg.TrustlessProgramID != "" {
		program, err := solana.PublicKeyFromBase58(cfg.TrustlessProgramID)
		if err != nil {
			return out, fmt.Errorf("invalid TRUSTLESS_PROGRAM_ID: %w", err)
		}
		out.TrustlessProgramID = program
	}

	if cfg.RegisterJobDiscriminator != "" {
		raw, err := hex.DecodeString(cfg.RegisterJobDiscriminator)
		if err != nil || len(raw) != 8 {
			return out, fmt.Errorf("invalid REGISTER_JOB_DISCRIMINATOR: want 8 hex bytes")
		}
		copy(out.RegisterJobDiscriminator[:], raw)
	}
	return out, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
