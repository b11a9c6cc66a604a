package priorauth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

func testInput() *RequestInput {
	return &RequestInput{
		RequestID:   "AUTH-2025-0001",
		MemberID:    "1234567890",
		PayerID:     "7000911508",
		ServiceDate: "2025-11-03",
		Diagnoses:   []string{"M54.5"},
		Items: []ServiceItem{{
			Code:      "72148",
			Quantity:  1,
			UnitPrice: decimal.NewFromFloat(1200.00),
		}},
	}
}

func testAuth(t *testing.T) *nphies.AuthContext {
	t.Helper()
	auth, err := nphies.NewAuthContext("10000500", "org-sahl", "prov-001")
	if err != nil {
		t.Fatalf("NewAuthContext: %v", err)
	}
	return auth
}

func TestBuildBundle(t *testing.T) {
	now := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	b, err := BuildBundle(testInput(), testAuth(t), now)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if err := fhir.CheckReferenceIntegrity(b); err != nil {
		t.Fatalf("reference integrity: %v", err)
	}

	hdr, err := b.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if hdr.EventCoding.Code != fhir.EventPriorAuthRequest {
		t.Fatalf("event = %q, want %s", hdr.EventCoding.Code, fhir.EventPriorAuthRequest)
	}

	raw := b.FindResource("Claim")
	if raw == nil {
		t.Fatal("bundle missing Claim entry")
	}
	var claim struct {
		Use string `json:"use"`
	}
	if err := json.Unmarshal(raw, &claim); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claim.Use != "preauthorization" {
		t.Fatalf("use = %q, want preauthorization", claim.Use)
	}

	second, err := BuildBundle(testInput(), testAuth(t), now)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	x, _ := json.Marshal(b)
	y, _ := json.Marshal(second)
	if string(x) != string(y) {
		t.Fatal("identical input produced different bundles")
	}
}

type fakeSender struct {
	resp *fhir.Bundle
	err  error
}

func (f *fakeSender) Send(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	return f.resp, f.err
}

func authorizedResponse(t *testing.T, preAuthRef string) *fhir.Bundle {
	t.Helper()
	b := fhir.NewMessageBundle("bundle-resp-1", time.Date(2025, 11, 3, 9, 0, 1, 0, time.UTC))
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-resp-1",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventPriorAuthResponse},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}
	resp := map[string]interface{}{
		"resourceType": "ClaimResponse",
		"id":           "resp-1",
		"status":       "active",
		"outcome":      "complete",
		"disposition":  "Approved",
		"preAuthRef":   preAuthRef,
		"preAuthPeriod": map[string]string{
			"start": "2025-11-03",
			"end":   "2026-01-03",
		},
	}
	if err := b.AddEntry("ClaimResponse", "resp-1", resp); err != nil {
		t.Fatalf("add response: %v", err)
	}
	return b
}

func newTestService(sender nphies.Sender, t *testing.T) *Service {
	svc := NewService(sender, testAuth(t), nphies.NewRejectionClassifier(), zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestRequestAuthorized(t *testing.T) {
	svc := newTestService(&fakeSender{resp: authorizedResponse(t, "PA-556677")}, t)

	result, rejection, err := svc.Request(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if rejection != nil {
		t.Fatalf("unexpected rejection: %+v", rejection)
	}
	if !result.Authorized {
		t.Fatal("result not authorized")
	}
	if result.PreAuthRef != "PA-556677" {
		t.Fatalf("pre auth ref = %q", result.PreAuthRef)
	}
	if result.ValidUntil != "2026-01-03" {
		t.Fatalf("valid until = %q", result.ValidUntil)
	}
}

func TestRequestWithoutRefNotAuthorized(t *testing.T) {
	svc := newTestService(&fakeSender{resp: authorizedResponse(t, "")}, t)

	result, _, err := svc.Request(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Authorized {
		t.Fatal("result authorized without preAuthRef")
	}
}

func TestRequestValidation(t *testing.T) {
	svc := newTestService(&fakeSender{}, t)

	in := testInput()
	in.Diagnoses = []string{"zzz"}
	_, _, err := svc.Request(context.Background(), in)
	if _, ok := err.(*nphies.ValidationError); !ok {
		t.Fatalf("error = %v, want *nphies.ValidationError", err)
	}
}
