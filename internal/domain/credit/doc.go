// Package credit provides domain models for the prepaid credit ledger.
//
// Tenants on the prepaid model hold a CreditBalance that is debited as
// usage is settled and topped up either manually (pack purchase) or
// automatically when the balance drops below a configured threshold.
// Every balance change appends an immutable CreditTransaction, which
// doubles as the audit trail and as the idempotency guard for the
// one-time signup bonus.
package credit
