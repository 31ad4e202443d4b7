package fees

import (
	"encoding/json"
	"strings"
	"time"
)

// Method enumerates the accepted payment channels. The set is closed: every
// recorded payment carries exactly one of these, with matching details.
type Method string

const (
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
	MethodCheque       Method = "cheque"
	MethodPOS          Method = "pos"
	MethodOnline       Method = "online"
)

// MethodDetails carries the channel-specific fields of a payment. Each
// method has exactly one details type, validated at construction.
type MethodDetails interface {
	Method() Method
	Validate() error
}

// CashDetails describes an over-the-counter cash payment.
type CashDetails struct {
	TellerName string `json:"teller_name,omitempty"`
}

func (CashDetails) Method() Method  { return MethodCash }
func (CashDetails) Validate() error { return nil }

// BankTransferDetails describes a bank deposit or transfer.
type BankTransferDetails struct {
	BankName    string `json:"bank_name,omitempty"`
	TransferRef string `json:"transfer_ref"`
}

func (BankTransferDetails) Method() Method { return MethodBankTransfer }

func (d BankTransferDetails) Validate() error {
	if strings.TrimSpace(d.TransferRef) == "" {
		return ErrInvalidDetails
	}
	return nil
}

// ChequeDetails describes a cheque payment.
type ChequeDetails struct {
	BankName     string `json:"bank_name,omitempty"`
	ChequeNumber string `json:"cheque_number"`
}

func (ChequeDetails) Method() Method { return MethodCheque }

func (d ChequeDetails) Validate() error {
	if strings.TrimSpace(d.ChequeNumber) == "" {
		return ErrInvalidDetails
	}
	return nil
}

// POSDetails describes a card payment on a school POS terminal.
type POSDetails struct {
	TerminalID string `json:"terminal_id"`
	AuthCode   string `json:"auth_code,omitempty"`
}

func (POSDetails) Method() Method { return MethodPOS }

func (d POSDetails) Validate() error {
	if strings.TrimSpace(d.TerminalID) == "" {
		return ErrInvalidDetails
	}
	return nil
}

// OnlineDetails describes a payment collected by an online gateway.
type OnlineDetails struct {
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}

func (OnlineDetails) Method() Method { return MethodOnline }

func (d OnlineDetails) Validate() error {
	if strings.TrimSpace(d.Provider) == "" || strings.TrimSpace(d.ProviderRef) == "" {
		return ErrInvalidDetails
	}
	return nil
}

// DecodeDetails unmarshals stored or submitted details for a method. Empty
// data yields the zero details value for the method.
func DecodeDetails(method Method, data []byte) (MethodDetails, error) {
	unmarshal := func(v MethodDetails) (MethodDetails, error) {
		if len(data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, ErrInvalidDetails
		}
		return v, nil
	}
	switch method {
	case MethodCash:
		return unmarshal(&CashDetails{})
	case MethodBankTransfer:
		return unmarshal(&BankTransferDetails{})
	case MethodCheque:
		return unmarshal(&ChequeDetails{})
	case MethodPOS:
		return unmarshal(&POSDetails{})
	case MethodOnline:
		return unmarshal(&OnlineDetails{})
	default:
		return nil, ErrUnknownMethod
	}
}

// PaymentEvent is one immutable collection record in the ledger. Events are
// append-only: nothing in the codebase updates or deletes one, and
// corrections are recorded as further events.
type PaymentEvent struct {
	ID            string
	TenantID      string
	AccountID     string
	Term          string
	Session       string
	Amount        float64
	Method        Method
	Details       MethodDetails
	PaidAt        time.Time
	ReceiptNumber string
	RecordedBy    string
	CreatedAt     time.Time
}

// NewPaymentEvent validates and builds a ledger event. Term and session are
// stored in canonical form so the stored row re-derives the same key.
func NewPaymentEvent(id, tenantID, accountID string, period Period, amount float64, details MethodDetails, paidAt time.Time, receiptNumber, recordedBy string) (PaymentEvent, error) {
	if id == "" {
		return PaymentEvent{}, ErrEmptyEventID
	}
	if accountID == "" {
		return PaymentEvent{}, ErrEmptyAccountID
	}
	if amount <= 0 {
		return PaymentEvent{}, ErrInvalidAmount
	}
	if details == nil {
		return PaymentEvent{}, ErrUnknownMethod
	}
	switch details.Method() {
	case MethodCash, MethodBankTransfer, MethodCheque, MethodPOS, MethodOnline:
	default:
		return PaymentEvent{}, ErrUnknownMethod
	}
	if err := details.Validate(); err != nil {
		return PaymentEvent{}, err
	}
	if paidAt.IsZero() {
		return PaymentEvent{}, ErrInvalidTimestamp
	}
	if receiptNumber == "" {
		return PaymentEvent{}, ErrEmptyReceiptNumber
	}
	if recordedBy == "" {
		return PaymentEvent{}, ErrEmptyRecordedBy
	}
	return PaymentEvent{
		ID:            id,
		TenantID:      tenantID,
		AccountID:     accountID,
		Term:          period.Term,
		Session:       period.Session,
		Amount:        amount,
		Method:        details.Method(),
		Details:       details,
		PaidAt:        paidAt.UTC(),
		ReceiptNumber: receiptNumber,
		RecordedBy:    recordedBy,
	}, nil
}

// Key re-derives the obligation identity from the stored fields. Readers of
// raw ledger rows group by this, never by any stored key.
func (e PaymentEvent) Key() (AccountPeriodKey, error) {
	return BuildAccountPeriodKey(e.AccountID, NormalizePeriod(e.Term, e.Session))
}
