package main

import (
	"context"
	"net/http"

	"pulsecore/internal/enhancer/premium"
)

// disabledClient is the premium.Client used when no model endpoint is
// configured. It always fails with the same 404-shaped APIError a real
// backend would return for an unprovisioned model, so premium.Enhancer's
// existing entitlement-vs-transient classification degrades every
// candidate straight to errkind.KindPremiumUnavailable and the
// orchestrator's already-tested fallback to the rule enhancer takes over,
// rather than this binary needing a second "AI is off" code path.
type disabledClient struct{}

func (disabledClient) Complete(ctx context.Context, req premium.ModelRequest) (premium.ModelResponse, error) {
	return premium.ModelResponse{}, &premium.APIError{StatusCode: http.StatusNotFound, Message: "no premium model endpoint configured"}
}

var _ premium.Client = disabledClient{}
