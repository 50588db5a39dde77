package workflow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"orderScope/internal/contracts"
	"orderScope/internal/trade"
)

// Kind is the marketplace operation a workflow drives.
type Kind int

const (
	KindBuy Kind = iota
	KindCreate
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindBuy:
		return "buy"
	case KindCreate:
		return "create"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Approval is one allowance the owner must have granted before submission.
// Required is what the operation consumes; Request is what approve asks for.
type Approval struct {
	Token    common.Address `json:"token"`
	Spender  common.Address `json:"spender"`
	Required *big.Int       `json:"required"`
	Request  *big.Int       `json:"request"`
}

// Call is a contract write.
type Call struct {
	Contract common.Address `json:"contract"`
	ABI      abi.ABI        `json:"-"`
	Method   string         `json:"method"`
	Args     []interface{}  `json:"args"`
}

// Plan is everything a Controller needs to drive one operation. At most two
// approvals are supported; they are granted in order.
type Plan struct {
	Kind      Kind           `json:"-"`
	Owner     common.Address `json:"owner"`
	Market    common.Address `json:"market"`
	Approvals []Approval     `json:"approvals"`
	Submit    Call           `json:"submit"`
}

// Validate checks the plan shape.
func (p Plan) Validate() error {
	if len(p.Approvals) > 2 {
		return fmt.Errorf("plan has %d approvals, at most 2 are supported", len(p.Approvals))
	}
	for i, a := range p.Approvals {
		if a.Required == nil || a.Required.Sign() < 0 {
			return fmt.Errorf("approval %d: invalid required amount", i)
		}
		if a.Request == nil || a.Request.Cmp(a.Required) < 0 {
			return fmt.Errorf("approval %d: request does not cover required amount", i)
		}
	}
	if p.Submit.Method == "" {
		return fmt.Errorf("plan has no submission")
	}
	if _, ok := p.Submit.ABI.Methods[p.Submit.Method]; !ok {
		return fmt.Errorf("method %s not in submission ABI", p.Submit.Method)
	}
	return nil
}

// BuyCall selects the marketplace entry point for a purchase: buyFullOrder
// when amount is exactly the order's remaining amount, buyOrder otherwise.
func BuyCall(marketplace common.Address, orderID, amount, remaining *big.Int) (Call, error) {
	kind, err := trade.ClassifyPurchase(amount, remaining)
	if err != nil {
		return Call{}, err
	}
	parsed, err := contracts.MarketplaceABI()
	if err != nil {
		return Call{}, err
	}
	if kind == trade.PurchaseFull {
		return Call{Contract: marketplace, ABI: parsed, Method: "buyFullOrder", Args: []interface{}{orderID}}, nil
	}
	return Call{Contract: marketplace, ABI: parsed, Method: "buyOrder", Args: []interface{}{orderID, amount}}, nil
}

// CreateCall lists amount of the market token at premiumPerUnit.
func CreateCall(marketplace common.Address, amount, premiumPerUnit *big.Int) (Call, error) {
	parsed, err := contracts.MarketplaceABI()
	if err != nil {
		return Call{}, err
	}
	return Call{Contract: marketplace, ABI: parsed, Method: "createOrder", Args: []interface{}{amount, premiumPerUnit}}, nil
}

// CancelCall withdraws an order.
func CancelCall(marketplace common.Address, orderID *big.Int) (Call, error) {
	parsed, err := contracts.MarketplaceABI()
	if err != nil {
		return Call{}, err
	}
	return Call{Contract: marketplace, ABI: parsed, Method: "cancelOrder", Args: []interface{}{orderID}}, nil
}
