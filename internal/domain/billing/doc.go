// Package billing provides domain models for usage metering in the
// multi-tenant proxy.
//
// This package implements the metering bounded context, which is
// responsible for:
//   - Pricing proxied calls (per-model token rates plus fixed service rates)
//   - Converting microdollar costs into credits, the normalized billing unit
//   - Recording immutable usage events and aggregating them per month
//   - Tracking the per-tenant per-minute request window
//
// Key Aggregates:
//   - UsageEvent: Immutable record of a single billable event
//   - RateWindow: The single live per-minute counter row for a tenant
//
// The billing domain integrates with:
//   - Identity domain: for tenant identity and plan limits
//   - Credit domain: usage events drive prepaid balance debits
package billing
