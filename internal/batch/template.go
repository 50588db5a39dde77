package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrTemplateUnconfigured marks a query template whose bytecode is a
// placeholder. Reads against it return empty results without a call.
var ErrTemplateUnconfigured = errors.New("query template is not configured")

// Template is a throwaway creation-code program that performs many reads in
// its constructor and returns them ABI encoded. Calldata is the bytecode
// followed by the encoded Input arguments.
type Template struct {
	Name     string
	Bytecode string
	Input    abi.Arguments
	Output   Schema
}

// OrdersInput is (marketplace, startIndex, endIndex).
var OrdersInput = mustArguments("address", "uint256", "uint256")

// MarketsInput is (factory).
var MarketsInput = mustArguments("address")

// OrdersTemplate returns the paginated order query with the given bytecode.
func OrdersTemplate(bytecode string) Template {
	return Template{Name: "orders", Bytecode: bytecode, Input: OrdersInput, Output: OrdersSchema}
}

// MarketsTemplate returns the market catalog query with the given bytecode.
func MarketsTemplate(bytecode string) Template {
	return Template{Name: "markets", Bytecode: bytecode, Input: MarketsInput, Output: MarketsSchema}
}

// Validate returns ErrTemplateUnconfigured for placeholder bytecode and a
// descriptive error for bytecode that is not valid hex.
func (t Template) Validate() error {
	code := strings.TrimSpace(t.Bytecode)
	lower := strings.ToLower(code)
	if lower == "" || lower == "0x" || strings.Contains(lower, "...") {
		return ErrTemplateUnconfigured
	}
	if _, err := hexutil.Decode(code); err != nil {
		return fmt.Errorf("%s template bytecode: %w", t.Name, err)
	}
	return nil
}

// Configured reports whether the template can be executed.
func (t Template) Configured() bool {
	return t.Validate() == nil
}

// Calldata returns bytecode ++ abi.encode(args).
func (t Template) Calldata(args ...interface{}) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	code, _ := hexutil.Decode(strings.TrimSpace(t.Bytecode))
	input, err := t.Input.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s input: %w", t.Name, err)
	}
	data := make([]byte, 0, len(code)+len(input))
	data = append(data, code...)
	data = append(data, input...)
	return data, nil
}

type templateFile struct {
	Bytecode string `json:"bytecode"`
}

// LoadBytecode reads template bytecode from a JSON file of the form
// {"bytecode": "0x..."} or a bare JSON string. An empty path yields the
// placeholder.
func LoadBytecode(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}

	var file templateFile
	if err := json.Unmarshal(raw, &file); err == nil && file.Bytecode != "" {
		return file.Bytecode, nil
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	return "", fmt.Errorf("parse template %s: expected {\"bytecode\": \"0x...\"}", path)
}

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}
