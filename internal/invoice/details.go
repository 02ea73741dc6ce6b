package invoice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Method enumerates payment methods.
type Method string

const (
	MethodCash            Method = "CASH"
	MethodCardGateway     Method = "CARD_GATEWAY"
	MethodBankTransfer    Method = "BANK_TRANSFER"
	MethodCheck           Method = "CHECK"
	MethodCustomerBalance Method = "CUSTOMER_BALANCE"
)

// PaymentDetails is the method-specific payment metadata. Each method has its
// own variant carrying exactly the fields that method requires, so a payment
// can never mix fields belonging to different methods.
type PaymentDetails interface {
	Method() Method
	Validate() error
}

// CashDetails carries no metadata.
type CashDetails struct{}

func (CashDetails) Method() Method  { return MethodCash }
func (CashDetails) Validate() error { return nil }

// CardGatewayDetails identifies the gateway transaction backing the payment.
type CardGatewayDetails struct {
	GatewayReference string `json:"gatewayReference"`
}

func (CardGatewayDetails) Method() Method { return MethodCardGateway }

func (d CardGatewayDetails) Validate() error {
	if d.GatewayReference == "" {
		return shared.Validationf("card gateway payment requires a gateway reference")
	}
	return nil
}

// BankTransferDetails identifies the bank operation and destination account.
type BankTransferDetails struct {
	OperationNumber string `json:"operationNumber"`
	AccountNumber   string `json:"accountNumber"`
}

func (BankTransferDetails) Method() Method { return MethodBankTransfer }

func (d BankTransferDetails) Validate() error {
	if d.OperationNumber == "" {
		return shared.Validationf("bank transfer payment requires an operation number")
	}
	if d.AccountNumber == "" {
		return shared.Validationf("bank transfer payment requires an account number")
	}
	return nil
}

// CheckDetails describes the check backing the payment.
type CheckDetails struct {
	CheckNumber string    `json:"checkNumber"`
	PaymentDate time.Time `json:"paymentDate"`
	ThirdParty  bool      `json:"thirdParty"`
}

func (CheckDetails) Method() Method { return MethodCheck }

func (d CheckDetails) Validate() error {
	if d.CheckNumber == "" {
		return shared.Validationf("check payment requires a check number")
	}
	if d.PaymentDate.IsZero() {
		return shared.Validationf("check payment requires a payment date")
	}
	return nil
}

// CustomerBalanceDetails marks credit spent from the customer's balance. It
// carries no metadata; the balance ledger is the audit trail.
type CustomerBalanceDetails struct{}

func (CustomerBalanceDetails) Method() Method  { return MethodCustomerBalance }
func (CustomerBalanceDetails) Validate() error { return nil }

// EncodeDetails serializes details for storage.
func EncodeDetails(d PaymentDetails) ([]byte, error) {
	if d == nil {
		return nil, shared.Validationf("payment details required")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("invoice: encode %s details: %w", d.Method(), err)
	}
	return raw, nil
}

// DecodeDetails rebuilds the concrete variant for a stored payment.
func DecodeDetails(method Method, raw []byte) (PaymentDetails, error) {
	decode := func(target PaymentDetails) (PaymentDetails, error) {
		if len(raw) == 0 {
			return target, nil
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("invoice: decode %s details: %w", method, err)
		}
		return target, nil
	}
	switch method {
	case MethodCash:
		return CashDetails{}, nil
	case MethodCustomerBalance:
		return CustomerBalanceDetails{}, nil
	case MethodCardGateway:
		d, err := decode(&CardGatewayDetails{})
		if err != nil {
			return nil, err
		}
		return *d.(*CardGatewayDetails), nil
	case MethodBankTransfer:
		d, err := decode(&BankTransferDetails{})
		if err != nil {
			return nil, err
		}
		return *d.(*BankTransferDetails), nil
	case MethodCheck:
		d, err := decode(&CheckDetails{})
		if err != nil {
			return nil, err
		}
		return *d.(*CheckDetails), nil
	default:
		return nil, shared.Validationf("unknown payment method %q", method)
	}
}
