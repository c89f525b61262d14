package credit

import (
	"github.com/automna/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// TransactionType classifies a credit ledger line
type TransactionType string

const (
	// TransactionTypeUsage is a debit caused by settled usage
	TransactionTypeUsage TransactionType = "usage"

	// TransactionTypeRefill is an automatic top-up charged to the stored
	// payment method
	TransactionTypeRefill TransactionType = "refill"

	// TransactionTypePurchase is a manually purchased credit pack
	TransactionTypePurchase TransactionType = "purchase"

	// TransactionTypeBonus is the one-time signup grant, issued at most
	// once per tenant
	TransactionTypeBonus TransactionType = "bonus"
)

// IsValid returns true if the transaction type is known
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeUsage, TransactionTypeRefill, TransactionTypePurchase, TransactionTypeBonus:
		return true
	}
	return false
}

// CreditTransaction is an immutable ledger line recording one balance
// change. Amount is signed: debits are negative, credits positive.
type CreditTransaction struct {
	shared.BaseEntity
	TenantID     uuid.UUID
	Type         TransactionType
	Amount       int64  // Signed credit delta
	BalanceAfter int64  // Balance resulting from this change
	PaymentRef   string // External payment identifier, set for refill/purchase
	Description  string
}

// NewCreditTransaction creates a ledger line with validation
func NewCreditTransaction(tenantID uuid.UUID, txType TransactionType, amount, balanceAfter int64, description string) (*CreditTransaction, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !txType.IsValid() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_TYPE", "Invalid credit transaction type")
	}
	if balanceAfter < 0 {
		return nil, shared.NewDomainError("INVALID_BALANCE", "Resulting balance cannot be negative")
	}

	return &CreditTransaction{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     tenantID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
	}, nil
}

// WithPaymentRef attaches the external payment identifier
func (t *CreditTransaction) WithPaymentRef(ref string) *CreditTransaction {
	t.PaymentRef = ref
	return t
}

// SignupBonusCredits is the one-time grant issued on first prepaid use
const SignupBonusCredits int64 = 2_500
