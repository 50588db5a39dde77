package batch

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Field is one named member of a record tuple.
type Field struct {
	Name string
	Type string // solidity type: uintN, address, bool or string
}

// Schema is the ordered record layout a query template returns as tuple[].
type Schema struct {
	Fields []Field
}

// OrdersSchema is the record layout of the paginated order query.
var OrdersSchema = Schema{Fields: []Field{
	{Name: "orderId", Type: "uint256"},
	{Name: "seller", Type: "address"},
	{Name: "yTokenAmountRemaining", Type: "uint256"},
	{Name: "underlyingAmountRemaining", Type: "uint256"},
	{Name: "underlyingDecimals", Type: "uint8"},
	{Name: "underlyingPrice", Type: "uint256"},
	{Name: "premiumPerSmallestAssetUnit", Type: "uint256"},
	{Name: "isActive", Type: "bool"},
}}

// MarketsSchema is the record layout of the market catalog query.
var MarketsSchema = Schema{Fields: []Field{
	{Name: "marketplace", Type: "address"},
	{Name: "yToken", Type: "address"},
	{Name: "symbol", Type: "string"},
	{Name: "assetToken", Type: "address"},
	{Name: "pricePerShare", Type: "uint256"},
	{Name: "oraclePrice", Type: "uint256"},
	{Name: "factoryBalance", Type: "uint256"},
}}

// Arguments returns the single tuple[] argument used to decode the schema.
func (s Schema) Arguments() (abi.Arguments, error) {
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	components := make([]abi.ArgumentMarshaling, 0, len(s.Fields))
	for _, f := range s.Fields {
		components = append(components, abi.ArgumentMarshaling{Name: f.Name, Type: f.Type})
	}
	typ, err := abi.NewType("tuple[]", "", components)
	if err != nil {
		return nil, fmt.Errorf("build tuple type: %w", err)
	}
	return abi.Arguments{{Type: typ}}, nil
}

// Record is one decoded tuple. Unsigned integers are held as *big.Int.
type Record map[string]interface{}

// Uint returns an unsigned field, or nil when absent.
func (r Record) Uint(name string) *big.Int {
	v, _ := r[name].(*big.Int)
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Uint8 returns a small unsigned field such as token decimals.
func (r Record) Uint8(name string) uint8 {
	v, _ := r[name].(*big.Int)
	if v == nil || !v.IsUint64() || v.Uint64() > 255 {
		return 0
	}
	return uint8(v.Uint64())
}

// Address returns an address field.
func (r Record) Address(name string) common.Address {
	v, _ := r[name].(common.Address)
	return v
}

// Bool returns a boolean field.
func (r Record) Bool(name string) bool {
	v, _ := r[name].(bool)
	return v
}

// String returns a string field.
func (r Record) String(name string) string {
	v, _ := r[name].(string)
	return v
}

// Decode unpacks raw return data as tuple[] and converts each element to a
// Record. Elements that do not match the schema are dropped and counted.
func (s Schema) Decode(data []byte) ([]Record, int, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, 0, err
	}
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty return data")
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack tuple[]: %w", err)
	}
	if len(values) != 1 {
		return nil, 0, fmt.Errorf("expected 1 output, got %d", len(values))
	}

	list := reflect.ValueOf(values[0])
	if list.Kind() != reflect.Slice {
		return nil, 0, fmt.Errorf("expected slice output, got %T", values[0])
	}

	records := make([]Record, 0, list.Len())
	dropped := 0
	for i := 0; i < list.Len(); i++ {
		record, err := s.record(list.Index(i))
		if err != nil {
			dropped++
			continue
		}
		records = append(records, record)
	}
	return records, dropped, nil
}

func (s Schema) record(elem reflect.Value) (Record, error) {
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, fmt.Errorf("element is %s, not struct", elem.Kind())
	}

	record := make(Record, len(s.Fields))
	for _, f := range s.Fields {
		fv := elem.FieldByName(abi.ToCamelCase(f.Name))
		if !fv.IsValid() {
			return nil, fmt.Errorf("missing field %s", f.Name)
		}
		value, err := normalize(f, fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		record[f.Name] = value
	}
	return record, nil
}

func normalize(f Field, value interface{}) (interface{}, error) {
	switch {
	case f.Type == "address":
		v, ok := value.(common.Address)
		if !ok {
			return nil, fmt.Errorf("expected address, got %T", value)
		}
		return v, nil
	case f.Type == "bool":
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return v, nil
	case f.Type == "string":
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return v, nil
	case len(f.Type) > 4 && f.Type[:4] == "uint":
		switch v := value.(type) {
		case *big.Int:
			if v == nil || v.Sign() < 0 {
				return nil, fmt.Errorf("invalid unsigned value")
			}
			return new(big.Int).Set(v), nil
		case uint8:
			return new(big.Int).SetUint64(uint64(v)), nil
		case uint16:
			return new(big.Int).SetUint64(uint64(v)), nil
		case uint32:
			return new(big.Int).SetUint64(uint64(v)), nil
		case uint64:
			return new(big.Int).SetUint64(v), nil
		default:
			return nil, fmt.Errorf("expected unsigned integer, got %T", value)
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %s", f.Type)
	}
}
