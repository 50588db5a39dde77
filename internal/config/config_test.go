package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := Load("", "", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 1 || cfg.FeeBps != DefaultFeeBps || cfg.ChunkSize != 200 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Factory != common.HexToAddress(DefaultFactory) {
		t.Fatalf("unexpected factory %s", cfg.Factory.Hex())
	}
	if cfg.OrdersTTL != 30*time.Second || cfg.MarketsTTL != 5*time.Minute {
		t.Fatalf("unexpected ttls %s %s", cfg.OrdersTTL, cfg.MarketsTTL)
	}
	if cfg.MarketsBytecode != "" || cfg.OrdersBytecode != "" {
		t.Fatalf("expected unconfigured templates")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing rpc to fail validation")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	template := writeFile(t, dir, "orders.json", `{"bytecode":"0x6001"}`)
	cfgFile := writeFile(t, dir, "marketctl.yaml", "rpc: http://file\nchunk-size: 50\nfee-bps: 100\norders-template: "+template+"\n")
	envFile := writeFile(t, dir, "test.env", "MARKET_PRIVATE_KEY=0xabc\n")
	t.Cleanup(func() { _ = os.Unsetenv("MARKET_PRIVATE_KEY") })
	t.Setenv("MARKET_CHUNK_SIZE", "75")
	t.Setenv("MARKET_STABLE_TOKEN", "0x00000000000000000000000000000000000000c1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("fee-bps", 0, "")
	flags.String("rpc", "", "")
	if err := flags.Parse([]string{"--fee-bps=250"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(cfgFile, envFile, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file" {
		t.Fatalf("expected rpc from file, got %q", cfg.RPCURL)
	}
	if cfg.ChunkSize != 75 {
		t.Fatalf("expected env to beat file, got %d", cfg.ChunkSize)
	}
	if cfg.FeeBps != 250 {
		t.Fatalf("expected flag to beat file, got %d", cfg.FeeBps)
	}
	if cfg.StableToken != common.HexToAddress("0xc1") {
		t.Fatalf("unexpected stable token %s", cfg.StableToken.Hex())
	}
	if cfg.PrivateKey != "0xabc" {
		t.Fatalf("expected private key from env file, got %q", cfg.PrivateKey)
	}
	if cfg.OrdersBytecode != "0x6001" {
		t.Fatalf("expected orders bytecode, got %q", cfg.OrdersBytecode)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("MARKET_FACTORY", "not-an-address")
	if _, err := Load("", "", nil); err == nil {
		t.Fatalf("expected invalid factory to fail")
	}

	t.Setenv("MARKET_FACTORY", "")
	t.Setenv("MARKET_FEE_BPS", "10001")
	if _, err := Load("", "", nil); err == nil {
		t.Fatalf("expected fee above 100%% to fail")
	}

	t.Setenv("MARKET_FEE_BPS", "")
	if _, err := Load("", filepath.Join(dir, "missing.env"), nil); err == nil {
		t.Fatalf("expected missing explicit env file to fail")
	}
}

func TestParseHelpers(t *testing.T) {
	addrs, err := ParseAddresses([]string{" 0x00000000000000000000000000000000000000AA ", "", "0x00000000000000000000000000000000000000bb"})
	if err != nil || len(addrs) != 2 {
		t.Fatalf("parse addresses: %v %v", addrs, err)
	}
	if _, err := ParseAddresses([]string{"0x123"}); err == nil {
		t.Fatalf("expected short address to fail")
	}
	if id, err := ParseOrderID("42"); err != nil || id.Int64() != 42 {
		t.Fatalf("parse order id: %v %v", id, err)
	}
	if _, err := ParseOrderID("-1"); err == nil {
		t.Fatalf("expected negative order id to fail")
	}
}
