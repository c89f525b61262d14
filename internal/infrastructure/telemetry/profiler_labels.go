// Package telemetry provides Pyroscope continuous profiling integration.
package telemetry

import (
	"context"
	"maps"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys. Values must stay low-cardinality so the profile
// store does not fragment.
const (
	// ProfilingLabelSurface distinguishes the gateway, dashboard and
	// internal route groups.
	ProfilingLabelSurface = "surface"
	// ProfilingLabelRoute is the matched route pattern, not the raw path.
	ProfilingLabelRoute = "route"
	// ProfilingLabelMethod is the HTTP method.
	ProfilingLabelMethod = "method"
	// ProfilingLabelTenantID is the tenant the request was attributed to.
	ProfilingLabelTenantID = "tenant_id"
	// ProfilingLabelOperation names a code region inside a request.
	ProfilingLabelOperation = "operation"
)

// MaxLabelValueLength caps label values to bound profiler memory.
const MaxLabelValueLength = 128

// HighCardinalityLabels are label keys sanitizeLabels silently drops.
// Per-request identifiers fragment profiles into useless one-sample series.
var HighCardinalityLabels = map[string]bool{
	"request_id":      true,
	"trace_id":        true,
	"span_id":         true,
	"idempotency_key": true,
	"api_key":         true,
}

// WithProfilingLabels runs fn with the given labels attached to the
// profiling context, so samples collected during fn can be sliced by
// surface, route or tenant in the Pyroscope UI.
//
// The labels map is copied before use; callers may reuse it afterwards.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	if len(labels) == 0 {
		fn(ctx)
		return
	}

	labelsCopy := make(map[string]string, len(labels))
	maps.Copy(labelsCopy, labels)

	pairs := sanitizeLabels(labelsCopy)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}

	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// RequestLabels builds the standard label set for one HTTP request.
func RequestLabels(surface, route, method, tenantID string) map[string]string {
	labels := map[string]string{
		ProfilingLabelSurface: surface,
		ProfilingLabelRoute:   route,
		ProfilingLabelMethod:  method,
	}
	if tenantID != "" {
		labels[ProfilingLabelTenantID] = tenantID
	}
	return labels
}

// sanitizeLabels converts a label map into the flat key-value slice the
// profiler expects. It drops empty and high-cardinality entries, truncates
// oversized values and normalizes keys, returning pairs in key order.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if key == "" || value == "" {
			continue
		}
		if HighCardinalityLabels[key] {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		sanitized := sanitizeLabelKey(key)
		if sanitized == "" {
			continue
		}
		pairs = append(pairs, sanitized, value)
	}

	return pairs
}

// sanitizeLabelKey lowercases the key and strips everything outside
// [a-z0-9_].
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	result := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
		}
	}
	return string(result)
}
