package nphies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
)

// Sender is the transport contract the domain services depend on. Client is
// the production implementation; tests substitute fakes.
type Sender interface {
	Send(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error)
}

// Client exchanges message bundles with the clearinghouse message endpoint.
// Connections are pooled and reused across workers; the TLS context comes
// from the CertificateStore and is never reloaded per request.
type Client struct {
	httpClient *http.Client
	endpoint   string
	auth       *AuthContext
	policy     RetryPolicy
	timeout    time.Duration
	log        zerolog.Logger
}

const maxResponseBytes = 8 << 20

// NewClient wires the transport. auth and store are injected, never looked
// up ambiently, so tests can substitute fakes.
func NewClient(baseURL string, auth *AuthContext, store *CertificateStore, policy RetryPolicy, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig:     store.TLSConfig(),
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		endpoint:   strings.TrimRight(baseURL, "/") + "/$process-message",
		auth:       auth,
		policy:     policy,
		timeout:    timeout,
		log:        log,
	}
}

// Send serializes the bundle, attaches identification headers, and POSTs it.
// Transient failures (network errors, timeouts, 5xx) are retried with
// backoff up to the policy limit; 4xx responses are deterministic rejections
// and are returned after a single attempt. The response bundle's reference
// integrity is verified before it is handed to the parser.
func (c *Client) Send(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	if err := fhir.CheckReferenceIntegrity(bundle); err != nil {
		return nil, &ValidationError{Field: "bundle", Reason: err.Error()}
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, &ValidationError{Field: "bundle", Reason: fmt.Sprintf("serialize: %v", err)}
	}

	event := ""
	if hdr, herr := bundle.Header(); herr == nil && hdr.EventCoding != nil {
		event = hdr.EventCoding.Code
	}

	var lastErr error
	attempts := 0
	for {
		attempts++
		resp, retryable, err := c.attempt(ctx, bundle.ID, event, attempts, body)
		if err == nil {
			return resp, nil
		}
		if _, ok := err.(*ProtocolError); ok {
			return nil, err
		}
		lastErr = err
		if !retryable || attempts > c.policy.MaxRetries {
			return nil, &TransportError{Attempts: attempts, Err: lastErr}
		}
		select {
		case <-time.After(c.policy.Backoff(attempts)):
		case <-ctx.Done():
			return nil, &TransportError{Attempts: attempts, Err: ctx.Err()}
		}
	}
}

// attempt performs one POST. The bool result reports whether the failure is
// transient. Attempt logging carries only bundle id, event code, and status:
// never request content, which holds PHI.
func (c *Client) attempt(ctx context.Context, bundleID, event string, attempt int, body []byte) (*fhir.Bundle, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	c.auth.Apply(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().
			Str("bundle_id", bundleID).
			Str("event", event).
			Int("attempt", attempt).
			Dur("latency", time.Since(start)).
			Err(err).
			Msg("nphies exchange failed")
		return nil, RetryableError(err), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	c.log.Info().
		Str("bundle_id", bundleID).
		Str("event", event).
		Int("attempt", attempt).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("nphies exchange")

	if RetryableStatus(resp.StatusCode) {
		return nil, true, fmt.Errorf("clearinghouse returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Deterministic rejection. The body is still a message bundle whose
		// OperationOutcome the parser turns into a BusinessRejection.
		rb, derr := decodeBundle(raw)
		if derr != nil {
			return nil, false, &ProtocolError{
				Reason: fmt.Sprintf("status %d with non-bundle body", resp.StatusCode),
				Err:    derr,
			}
		}
		return rb, false, nil
	}

	rb, derr := decodeBundle(raw)
	if derr != nil {
		return nil, false, &ProtocolError{Reason: "undecodable response bundle", Err: derr}
	}
	if err := fhir.CheckReferenceIntegrity(rb); err != nil {
		return nil, false, &ProtocolError{Reason: "response reference integrity", Err: err}
	}
	return rb, false, nil
}

func decodeBundle(raw []byte) (*fhir.Bundle, error) {
	var b fhir.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("resourceType %q, want Bundle", b.ResourceType)
	}
	return &b, nil
}

// MaskID masks an identifier for audit logs, keeping the last four
// characters. Member and document ids are PHI and must not appear in full.
func MaskID(id string) string {
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}
