package svm

import (
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
)

// Network identifiers accepted on the wire.
const (
	NetworkMainnet = "solana"
	NetworkDevnet  = "solana-devnet"
	NetworkTestnet = "solana-testnet"
)

// AssetInfo describes a token mint the facilitator knows about.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// NetworkConfig holds per-network defaults. A request-level Config may
// override the endpoints.
type NetworkConfig struct {
	Name         string
	RPCURL       string
	WSURL        string
	DefaultAsset AssetInfo
}

var networkConfigs = map[string]NetworkConfig{
	NetworkMainnet: {
		Name:   NetworkMainnet,
		RPCURL: rpc.MainNetBeta_RPC,
		WSURL:  rpc.MainNetBeta_WS,
		DefaultAsset: AssetInfo{
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
	NetworkDevnet: {
		Name:   NetworkDevnet,
		RPCURL: rpc.DevNet_RPC,
		WSURL:  rpc.DevNet_WS,
		DefaultAsset: AssetInfo{
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
	NetworkTestnet: {
		Name:   NetworkTestnet,
		RPCURL: rpc.TestNet_RPC,
		WSURL:  rpc.TestNet_WS,
		DefaultAsset: AssetInfo{
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Symbol:   "USDC",
			Decimals: 6,
		},
	},
}

// IsValidNetwork reports whether the identifier names a supported SVM network.
func IsValidNetwork(network string) bool {
	_, ok := networkConfigs[network]
	return ok
}

// GetNetworkConfig returns the defaults for a supported network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	cfg, ok := networkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported SVM network: %s", network)
	}
	return &cfg, nil
}

// SupportedNetworks lists every network the mechanism can be registered for.
func SupportedNetworks() []string {
	return []string{NetworkMainnet, NetworkDevnet, NetworkTestnet}
}
