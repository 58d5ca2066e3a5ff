package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hostbooth/gatescan/internal/config"
)

// RedeemResult is a successful redemption: the code is now marked used
// server-side and the attendee's display name comes back for the operator.
type RedeemResult struct {
	AttendeeName string `json:"attendee_name"`
}

// RedemptionError is a structured rejection from the redemption endpoint
// (invalid code, already redeemed, event mismatch, expired). Reason is
// human-readable and suitable for direct display.
type RedemptionError struct {
	Reason string
}

func (e *RedemptionError) Error() string { return e.Reason }

// Redeemer is the external redemption collaborator. Implementations must
// honor ctx cancellation; idempotency for repeat submissions is handled
// server-side.
type Redeemer interface {
	Redeem(ctx context.Context, code Code) (*RedeemResult, error)
}

// APIRedeemer redeems codes against the platform API.
type APIRedeemer struct {
	baseURL string
	token   string
	eventID string
	client  *http.Client
}

// NewAPIRedeemer creates a redemption client scoped to one event.
// The client timeout bounds the whole round-trip so a hung request resolves
// to the error state instead of pinning the UI in processing.
func NewAPIRedeemer(api config.APIConfig, eventID string) *APIRedeemer {
	return &APIRedeemer{
		baseURL: api.BaseURL,
		token:   api.Token,
		eventID: eventID,
		client:  &http.Client{Timeout: api.Timeout()},
	}
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	OK           bool   `json:"ok"`
	AttendeeName string `json:"attendee_name"`
	Error        string `json:"error"`
}

// Redeem sends the canonicalized code to the redemption endpoint and awaits
// a single response.
func (r *APIRedeemer) Redeem(ctx context.Context, code Code) (*RedeemResult, error) {
	body, err := json.Marshal(redeemRequest{Code: string(code)})
	if err != nil {
		return nil, fmt.Errorf("marshal redeem request: %w", err)
	}

	url := fmt.Sprintf("%s/api/events/%s/checkin", r.baseURL, r.eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redeem request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redeem request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed redeemResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("redeem endpoint returned %s", resp.Status)
		}
		return nil, fmt.Errorf("decode redeem response: %w", err)
	}

	if !parsed.OK {
		reason := parsed.Error
		if reason == "" {
			reason = fmt.Sprintf("redeem endpoint returned %s", resp.Status)
		}
		slog.Debug("redemption rejected", "code", code, "reason", reason)
		return nil, &RedemptionError{Reason: reason}
	}

	return &RedeemResult{AttendeeName: parsed.AttendeeName}, nil
}
