package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
)

const tracerName = "payment-event-dispatcher"

const defaultTimeout = 10 * time.Second

// HTTPClient implements Client against the gateway's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a gateway client from configuration.
func NewHTTPClient(settings config.GatewaySettings) *HTTPClient {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL:    settings.BaseURL,
		apiKey:     settings.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type refundRequest struct {
	AuthorizationRequestID string `json:"authorizationRequestId"`
}

type refundResponse struct {
	Outcome string `json:"outcome"`
}

// RequestRefund asks the gateway to void or reverse the authorization. A KO
// outcome is not an error: the caller decides whether to retry.
func (c *HTTPClient) RequestRefund(ctx context.Context, authorizationRequestID string) (RefundOutcome, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Gateway.RequestRefund",
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(http.MethodPost),
			attribute.String("gateway.authorization_request_id", authorizationRequestID),
		),
	)
	defer span.End()

	body, err := json.Marshal(refundRequest{AuthorizationRequestID: authorizationRequestID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("refund request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("refund request returned status %d", resp.StatusCode)
		span.RecordError(err)
		return "", err
	}

	var decoded refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to decode refund response: %w", err)
	}

	switch decoded.Outcome {
	case string(RefundOutcomeOK):
		return RefundOutcomeOK, nil
	case string(RefundOutcomeKO):
		return RefundOutcomeKO, nil
	default:
		return "", fmt.Errorf("unexpected refund outcome %q", decoded.Outcome)
	}
}

type authorizationStateResponse struct {
	State             string `json:"state"`
	Outcome           string `json:"outcome"`
	AuthorizationCode string `json:"authorizationCode"`
}

// QueryAuthorizationState fetches the current state of an authorization. A
// state other than DECIDED means the gateway has not settled the outcome.
func (c *HTTPClient) QueryAuthorizationState(ctx context.Context, authorizationRequestID string) (AuthorizationState, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Gateway.QueryAuthorizationState",
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(http.MethodGet),
			attribute.String("gateway.authorization_request_id", authorizationRequestID),
		),
	)
	defer span.End()

	endpoint := c.baseURL + "/authorizations/" + url.PathEscape(authorizationRequestID) + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return AuthorizationState{}, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return AuthorizationState{}, fmt.Errorf("authorization state query failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("authorization state query returned status %d", resp.StatusCode)
		span.RecordError(err)
		return AuthorizationState{}, err
	}

	var decoded authorizationStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		span.RecordError(err)
		return AuthorizationState{}, fmt.Errorf("failed to decode authorization state response: %w", err)
	}

	return AuthorizationState{
		Decided:           decoded.State == "DECIDED",
		Outcome:           decoded.Outcome,
		AuthorizationCode: decoded.AuthorizationCode,
	}, nil
}
