// Package chains holds per-chain lookup tables: block explorers, token icon
// locations and price-service chain prefixes.
package chains

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	Mainnet   uint64 = 1
	Optimism  uint64 = 10
	BSC       uint64 = 56
	Gnosis    uint64 = 100
	Polygon   uint64 = 137
	Sonic     uint64 = 146
	XLayer    uint64 = 196
	Fantom    uint64 = 250
	Fraxtal   uint64 = 252
	Moonbeam  uint64 = 1284
	Kava      uint64 = 2222
	Base      uint64 = 8453
	Arbitrum  uint64 = 42161
	Nova      uint64 = 42170
	Celo      uint64 = 42220
	Avalanche uint64 = 43114
	Linea     uint64 = 59144
	Blast     uint64 = 81457
	Scroll    uint64 = 534352
	Sepolia   uint64 = 11155111
	Aurora    uint64 = 1313161554
	ZkSync    uint64 = 324
)

var explorers = map[uint64]string{
	Mainnet:   "https://etherscan.io",
	Sepolia:   "https://sepolia.etherscan.io",
	Polygon:   "https://polygonscan.com",
	Arbitrum:  "https://arbiscan.io",
	Nova:      "https://nova.arbiscan.io",
	Optimism:  "https://optimistic.etherscan.io",
	Base:      "https://basescan.org",
	BSC:       "https://bscscan.com",
	Avalanche: "https://snowtrace.io",
	Fantom:    "https://ftmscan.com",
	Gnosis:    "https://gnosisscan.io",
	ZkSync:    "https://explorer.zksync.io",
	Linea:     "https://lineascan.build",
	Scroll:    "https://scrollscan.com",
	Blast:     "https://blastscan.io",
}

// ExplorerAddressLink returns the explorer page of an address, or "" for
// unknown chains.
func ExplorerAddressLink(chainID uint64, address common.Address) string {
	return explorerLink(chainID, "address", address.Hex())
}

// ExplorerTxLink returns the explorer page of a transaction hash.
func ExplorerTxLink(chainID uint64, hash common.Hash) string {
	return explorerLink(chainID, "tx", hash.Hex())
}

// ExplorerBlockLink returns the explorer page of a block.
func ExplorerBlockLink(chainID uint64, block uint64) string {
	return explorerLink(chainID, "block", strconv.FormatUint(block, 10))
}

func explorerLink(chainID uint64, kind, id string) string {
	base, ok := explorers[chainID]
	if !ok {
		return ""
	}
	return base + "/" + kind + "/" + id
}

const iconBase = "https://cdn.jsdelivr.net/gh/curvefi/curve-assets/images/assets"

var iconOffsets = map[uint64]string{
	Arbitrum:  "arbitrum",
	Polygon:   "polygon",
	Fantom:    "fantom",
	Avalanche: "avalanche",
	Optimism:  "optimism",
	Gnosis:    "xdai",
	Aurora:    "aurora",
	Moonbeam:  "moonbeam",
	Kava:      "kava",
	Celo:      "celo",
	Base:      "base",
	Fraxtal:   "fraxtal",
	BSC:       "bsc",
	XLayer:    "x-layer",
	Sonic:     "sonic",
}

// IconURL returns the curve-assets icon of a token. Mainnet and unknown
// chains use the unsuffixed asset directory.
func IconURL(chainID uint64, token common.Address) string {
	dir := iconBase
	if offset := iconOffsets[chainID]; offset != "" {
		dir += "-" + offset
	}
	return dir + "/" + strings.ToLower(token.Hex()) + ".png"
}

var pricePrefixes = map[uint64]string{
	Mainnet:  "ethereum",
	Arbitrum: "arbitrum",
	Polygon:  "polygon",
	Base:     "base",
	BSC:      "bsc",
	Linea:    "linea",
	Fraxtal:  "fraxtal",
	Sonic:    "sonic",
	Optimism: "optimism",
}

// PricePrefix returns the price-service chain prefix, defaulting to
// ethereum.
func PricePrefix(chainID uint64) string {
	if prefix, ok := pricePrefixes[chainID]; ok {
		return prefix
	}
	return "ethereum"
}
