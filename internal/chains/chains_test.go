package chains

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIconURL(t *testing.T) {
	token := common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
	if got, want := IconURL(Mainnet, token), "https://cdn.jsdelivr.net/gh/curvefi/curve-assets/images/assets/0xd533a949740bb3306d119cc777fa900ba034cd52.png"; got != want {
		t.Fatalf("mainnet icon: %s != %s", got, want)
	}
	if got, want := IconURL(Gnosis, token), "https://cdn.jsdelivr.net/gh/curvefi/curve-assets/images/assets-xdai/0xd533a949740bb3306d119cc777fa900ba034cd52.png"; got != want {
		t.Fatalf("gnosis icon: %s != %s", got, want)
	}
	if got := IconURL(999999, token); got != IconURL(Mainnet, token) {
		t.Fatalf("unknown chain should fall back to the mainnet directory, got %s", got)
	}
}

func TestExplorerLinks(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	if got := ExplorerAddressLink(Arbitrum, addr); got != "https://arbiscan.io/address/"+addr.Hex() {
		t.Fatalf("unexpected address link %s", got)
	}
	if got := ExplorerBlockLink(Mainnet, 42); got != "https://etherscan.io/block/42" {
		t.Fatalf("unexpected block link %s", got)
	}
	if got := ExplorerTxLink(999999, common.Hash{}); got != "" {
		t.Fatalf("expected empty link for unknown chain, got %s", got)
	}
}

func TestPricePrefix(t *testing.T) {
	if PricePrefix(Arbitrum) != "arbitrum" || PricePrefix(999999) != "ethereum" {
		t.Fatalf("unexpected price prefixes")
	}
}
