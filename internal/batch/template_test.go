package batch

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTemplateValidate(t *testing.T) {
	cases := map[string]error{
		"":       ErrTemplateUnconfigured,
		"0x":     ErrTemplateUnconfigured,
		"0x...":  ErrTemplateUnconfigured,
		"0X...":  ErrTemplateUnconfigured,
		"0x6001": nil,
		" 0x60 ": nil,
	}
	for code, want := range cases {
		if err := OrdersTemplate(code).Validate(); !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", code, want, err)
		}
	}

	err := OrdersTemplate("0xzz").Validate()
	if err == nil || errors.Is(err, ErrTemplateUnconfigured) {
		t.Fatalf("expected malformed-hex error, got %v", err)
	}
}

func TestTemplateCalldata(t *testing.T) {
	tmpl := OrdersTemplate("0x6001")
	target := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := tmpl.Calldata(target, big.NewInt(449), big.NewInt(250))
	if err != nil {
		t.Fatalf("calldata: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0x60, 0x01}) {
		t.Fatalf("calldata does not start with bytecode: %x", data[:4])
	}
	args, err := OrdersInput.Unpack(data[2:])
	if err != nil {
		t.Fatalf("unpack input: %v", err)
	}
	if args[0].(common.Address) != target || args[1].(*big.Int).Int64() != 449 || args[2].(*big.Int).Int64() != 250 {
		t.Fatalf("unexpected input args %v", args)
	}
}

func TestLoadBytecode(t *testing.T) {
	dir := t.TempDir()

	wrapped := filepath.Join(dir, "orders.json")
	if err := os.WriteFile(wrapped, []byte(`{"bytecode": "0x6001"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := LoadBytecode(wrapped); err != nil || got != "0x6001" {
		t.Fatalf("wrapped: got %q, %v", got, err)
	}

	bare := filepath.Join(dir, "markets.json")
	if err := os.WriteFile(bare, []byte(`"0x6002"`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := LoadBytecode(bare); err != nil || got != "0x6002" {
		t.Fatalf("bare: got %q, %v", got, err)
	}

	if got, err := LoadBytecode(""); err != nil || got != "" {
		t.Fatalf("empty path: got %q, %v", got, err)
	}
	if _, err := LoadBytecode(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSchemaDecode(t *testing.T) {
	encoded := Schema{Fields: []Field{{Name: "orderId", Type: "uint256"}}}
	args, err := encoded.Arguments()
	if err != nil {
		t.Fatalf("arguments: %v", err)
	}
	type row struct{ OrderId *big.Int }
	data, err := args.Pack([]row{{OrderId: big.NewInt(1)}, {OrderId: big.NewInt(2)}})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	records, dropped, err := encoded.Decode(data)
	if err != nil || len(records) != 2 || dropped != 0 {
		t.Fatalf("decode: records=%d dropped=%d err=%v", len(records), dropped, err)
	}

	if _, _, err := encoded.Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected decode error for short data")
	}
	if _, _, err := encoded.Decode(nil); err == nil {
		t.Fatalf("expected decode error for empty data")
	}
}

func TestSchemaRecordRejectsNonConforming(t *testing.T) {
	type partial struct{ OrderId *big.Int }
	if _, err := OrdersSchema.record(reflect.ValueOf(partial{OrderId: big.NewInt(1)})); err == nil {
		t.Fatalf("expected missing-field error")
	}

	schema := Schema{Fields: []Field{{Name: "orderId", Type: "uint256"}}}
	if _, err := schema.record(reflect.ValueOf(partial{OrderId: big.NewInt(-1)})); err == nil {
		t.Fatalf("expected negative unsigned value to be rejected")
	}
	if _, err := schema.record(reflect.ValueOf(partial{})); err == nil {
		t.Fatalf("expected nil integer to be rejected")
	}
	rec, err := schema.record(reflect.ValueOf(partial{OrderId: big.NewInt(9)}))
	if err != nil || rec.Uint("orderId").Int64() != 9 {
		t.Fatalf("unexpected record %v, %v", rec, err)
	}
}
