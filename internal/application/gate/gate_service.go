package gate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	creditapp "github.com/automna/backend/internal/application/credit"
	"github.com/automna/backend/internal/domain/billing"
	"github.com/automna/backend/internal/domain/identity"
	"github.com/automna/backend/internal/domain/shared"
	"github.com/automna/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// lastActiveDebounce bounds how often a credential's last-active mark is
// written per tenant.
const lastActiveDebounce = 60 * time.Second

// CredentialResolver resolves raw tokens to tenant contexts
type CredentialResolver interface {
	Resolve(ctx context.Context, token string) (*identity.TenantContext, error)
}

// QuotaChecker evaluates the quota gates for one request
type QuotaChecker interface {
	Check(ctx context.Context, tc *identity.TenantContext) (*billing.RateLimitResult, error)
}

// UsageRecorder appends settled usage off the request path
type UsageRecorder interface {
	RecordAsync(event *billing.UsageEvent)
}

// CreditDebiter reduces a tenant's prepaid balance
type CreditDebiter interface {
	Debit(ctx context.Context, tenantID uuid.UUID, amount int64) (*creditapp.DebitResult, error)
}

// LastActiveToucher records advisory credential activity
type LastActiveToucher interface {
	TouchLastActive(ctx context.Context, tenantID uuid.UUID, at time.Time) error
}

// GateService is the single entry point the proxy layer calls around an
// upstream request: Authorize before, CheckQuota before, Settle after.
type GateService struct {
	resolver    CredentialResolver
	quota       QuotaChecker
	ledger      UsageRecorder
	credits     CreditDebiter
	credentials LastActiveToucher
	logger      *zap.Logger

	// extraTokenHeaders are additional header names accepted as token
	// carriers, checked after Authorization and x-api-key.
	extraTokenHeaders []string

	lastTouch sync.Map // uuid.UUID -> time.Time
}

// GateServiceConfig contains configuration for GateService
type GateServiceConfig struct {
	Resolver          CredentialResolver
	Quota             QuotaChecker
	Ledger            UsageRecorder
	Credits           CreditDebiter
	Credentials       LastActiveToucher
	Logger            *zap.Logger
	ExtraTokenHeaders []string
}

// NewGateService creates a new GateService
func NewGateService(cfg GateServiceConfig) *GateService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateService{
		resolver:          cfg.Resolver,
		quota:             cfg.Quota,
		ledger:            cfg.Ledger,
		credits:           cfg.Credits,
		credentials:       cfg.Credentials,
		logger:            logger,
		extraTokenHeaders: cfg.ExtraTokenHeaders,
	}
}

// ExtractToken returns the canonical bearer token from the request
// headers. Precedence: Authorization Bearer, then x-api-key, then the
// configured extra headers. Empty string when no token is present.
func (s *GateService) ExtractToken(header http.Header) string {
	if auth := header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
			return token
		}
	}
	if token := header.Get("x-api-key"); token != "" {
		return token
	}
	for _, name := range s.extraTokenHeaders {
		if token := header.Get(name); token != "" {
			return token
		}
	}
	return ""
}

// Authorize resolves the request's token to a tenant context. Returns an
// AuthError for missing, unknown or unresolvable tokens; the upstream is
// never contacted for an unattributed request.
func (s *GateService) Authorize(ctx context.Context, header http.Header) (*identity.TenantContext, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gate", "authorize")
	defer span.End()

	token := s.ExtractToken(header)
	if token == "" {
		return nil, NewAuthError("Missing API key")
	}

	tc, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, NewAuthError("Invalid API key")
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, tc.TenantID.String(),
		telemetry.SpanAttrPlan, string(tc.Plan),
		telemetry.SpanAttrBYOK, tc.BYOK,
	)

	s.touchLastActive(tc.TenantID)
	return tc, nil
}

// CheckQuota enforces both quota gates for an authorized request. A
// rejection is returned as a RateLimitedError carrying the full snapshot;
// any infrastructure failure is an opaque error and the request must not
// proceed.
func (s *GateService) CheckQuota(ctx context.Context, tc *identity.TenantContext) (*billing.RateLimitResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gate", "check_quota",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tc.TenantID.String()))
	defer span.End()

	result, err := s.quota.Check(ctx, tc)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrAllowed, result.Allowed)
	if !result.Allowed {
		return nil, &RateLimitedError{Result: result}
	}
	return result, nil
}

// SettleInput describes one finished upstream call to be billed
type SettleInput struct {
	Kind      billing.EventKind
	CostMicro int64
	ErrorTag  string // Set when the upstream call failed
	Metadata  billing.Metadata
}

// Settle records the usage event and debits the prepaid balance. Always
// fire-and-forget: the upstream work already happened, so settlement
// failures are absorbed, never surfaced to the caller.
func (s *GateService) Settle(ctx context.Context, tc *identity.TenantContext, input SettleInput) {
	_, span := telemetry.StartServiceSpan(ctx, "gate", "settle",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tc.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEventKind, string(input.Kind)),
		telemetry.WithAttribute(telemetry.SpanAttrCostMicro, input.CostMicro))
	defer span.End()

	cost := input.CostMicro

	// Tenants on their own inference keys pay the upstream directly; the
	// event is still recorded at zero cost for the activity trail.
	byokBypass := tc.BYOK && input.Kind == billing.EventKindInference
	if byokBypass {
		cost = 0
	}

	event, err := billing.NewUsageEvent(tc.TenantID, input.Kind, cost)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("invalid usage event at settlement",
			zap.String("tenant_id", tc.TenantID.String()),
			zap.String("kind", string(input.Kind)),
			zap.Error(err))
		return
	}
	if input.ErrorTag != "" {
		event.WithError(input.ErrorTag)
	}
	for k, v := range input.Metadata {
		event.WithMetadata(k, v)
	}
	if byokBypass {
		event.WithMetadata("byok", true)
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrCredits, event.Credits)
	s.ledger.RecordAsync(event)

	// Failed upstream work is recorded for the activity trail but never
	// billed; only clean events reach the balance.
	if event.Credits > 0 && input.ErrorTag == "" {
		s.debitAsync(tc.TenantID, event.Credits)
	}
}

// debitAsync applies the settlement debit off the request path. A tenant
// without a balance row runs on plan allowance alone; that is not an
// error.
func (s *GateService) debitAsync(tenantID uuid.UUID, credits int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if _, err := s.credits.Debit(ctx, tenantID, credits); err != nil && !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("settlement debit failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Int64("credits", credits),
				zap.Error(err))
		}
	}()
}

// touchLastActive writes the advisory activity mark at most once per
// debounce interval per tenant.
func (s *GateService) touchLastActive(tenantID uuid.UUID) {
	now := time.Now()
	if last, ok := s.lastTouch.Load(tenantID); ok && now.Sub(last.(time.Time)) < lastActiveDebounce {
		return
	}
	s.lastTouch.Store(tenantID, now)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.credentials.TouchLastActive(ctx, tenantID, now.UTC()); err != nil {
			s.logger.Debug("last-active touch failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}()
}
