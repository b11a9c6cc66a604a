package eligibility

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sahlhealth/nphies-bridge/internal/platform/cache"
	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

func testInput() *CheckInput {
	return &CheckInput{
		MemberID:    "1234567890",
		PayerID:     "7000911508",
		ServiceDate: "2025-10-22",
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

func TestBuildBundleShape(t *testing.T) {
	now := time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)
	b, err := BuildBundle(testInput(), testAuth(t), now)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if b.Type != "message" {
		t.Fatalf("bundle type = %q, want message", b.Type)
	}
	if len(b.Entry) < 2 {
		t.Fatalf("bundle has %d entries, want at least MessageHeader and request", len(b.Entry))
	}

	hdr, err := b.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if hdr.EventCoding == nil || hdr.EventCoding.Code != fhir.EventEligibilityRequest {
		t.Fatalf("header event = %+v, want %s", hdr.EventCoding, fhir.EventEligibilityRequest)
	}
	if rt, _ := entryIdentityForTest(b.Entry[0]); rt != "MessageHeader" {
		t.Fatalf("first entry is %s, want MessageHeader", rt)
	}

	for _, want := range []string{"CoverageEligibilityRequest", "Patient", "Coverage", "Organization"} {
		if b.FindResource(want) == nil {
			t.Errorf("bundle missing %s entry", want)
		}
	}
	if err := fhir.CheckReferenceIntegrity(b); err != nil {
		t.Fatalf("reference integrity: %v", err)
	}
}

func entryIdentityForTest(e fhir.BundleEntry) (string, string) {
	var res struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(e.Resource, &res); err != nil {
		return "", ""
	}
	return res.ResourceType, res.ID
}

func TestBuildBundleDeterministic(t *testing.T) {
	now := time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)
	first, err := BuildBundle(testInput(), testAuth(t), now)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	second, err := BuildBundle(testInput(), testAuth(t), now)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatal("identical input produced different bundles")
	}
}

func TestCheckInputValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CheckInput)
		wantErr bool
	}{
		{"valid", func(in *CheckInput) {}, false},
		{"member id short", func(in *CheckInput) { in.MemberID = "12345" }, true},
		{"member id non numeric", func(in *CheckInput) { in.MemberID = "12345678ab" }, true},
		{"missing payer", func(in *CheckInput) { in.PayerID = "" }, true},
		{"bad date layout", func(in *CheckInput) { in.ServiceDate = "22/10/2025" }, true},
		{"date far future", func(in *CheckInput) { in.ServiceDate = "2099-01-01" }, true},
		{"date far past", func(in *CheckInput) { in.ServiceDate = "2019-01-01" }, true},
		{"unknown purpose", func(in *CheckInput) { in.Purpose = []string{"audit"} }, true},
		{"known purposes", func(in *CheckInput) { in.Purpose = []string{"benefits", "discovery"} }, false},
		{"bad gender", func(in *CheckInput) { in.Gender = "other" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := testInput()
			tc.mutate(in)
			err := in.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				if _, ok := err.(*nphies.ValidationError); !ok {
					t.Fatalf("error type %T, want *nphies.ValidationError", err)
				}
			}
		})
	}
}

type fakeSender struct {
	calls int
	resp  *fhir.Bundle
	err   error
}

func (f *fakeSender) Send(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	f.calls++
	return f.resp, f.err
}

func eligibleResponse(t *testing.T, copay float64) *fhir.Bundle {
	t.Helper()
	b := fhir.NewMessageBundle("bundle-resp-1", time.Date(2025, 10, 22, 9, 0, 1, 0, time.UTC))
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-resp-1",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventEligibilityResponse},
		Response:     &fhir.MessageHdrResponse{Identifier: "hdr-1", Code: "ok"},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}
	resp := map[string]interface{}{
		"resourceType": "CoverageEligibilityResponse",
		"id":           "resp-1",
		"status":       "active",
		"outcome":      "complete",
		"disposition":  "Coverage is in force",
		"insurance": []map[string]interface{}{{
			"inforce": true,
			"benefitPeriod": map[string]string{
				"start": "2025-01-01",
				"end":   "2025-12-31",
			},
			"item": []map[string]interface{}{{
				"category": map[string]interface{}{
					"coding": []map[string]string{{"code": "medical-care"}},
				},
				"benefit": []map[string]interface{}{
					{
						"type":         map[string]interface{}{"coding": []map[string]string{{"code": "copay"}}},
						"allowedMoney": map[string]interface{}{"value": copay, "currency": "SAR"},
					},
					{
						"type":         map[string]interface{}{"coding": []map[string]string{{"code": "deductible"}}},
						"allowedMoney": map[string]interface{}{"value": 500.0, "currency": "SAR"},
					},
				},
			}},
		}},
	}
	if err := b.AddEntry("CoverageEligibilityResponse", "resp-1", resp); err != nil {
		t.Fatalf("add response: %v", err)
	}
	return b
}

func rejectionResponse(t *testing.T, code string) *fhir.Bundle {
	t.Helper()
	b := fhir.NewMessageBundle("bundle-resp-2", time.Date(2025, 10, 22, 9, 0, 1, 0, time.UTC))
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-resp-2",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventEligibilityResponse},
		Response:     &fhir.MessageHdrResponse{Identifier: "hdr-1", Code: "fatal-error"},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}
	oo := fhir.NewOperationOutcome("error", "business-rule", "member not active")
	oo.Issue[0].Details = &fhir.CodeableConcept{
		Coding: []fhir.Coding{{Code: code, Display: "member not active on service date"}},
	}
	if err := b.AddEntry("OperationOutcome", "oo-1", oo); err != nil {
		t.Fatalf("add outcome: %v", err)
	}
	return b
}

func newTestService(sender nphies.Sender, store cache.Store, t *testing.T) *Service {
	svc := NewService(sender, testAuth(t), nphies.NewRejectionClassifier(), store, 15*time.Minute, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestCheckEligible(t *testing.T) {
	sender := &fakeSender{resp: eligibleResponse(t, 50)}
	svc := newTestService(sender, cache.NewMemory(), t)

	result, rejection, err := svc.Check(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rejection != nil {
		t.Fatalf("unexpected rejection: %+v", rejection)
	}
	if !result.Eligible {
		t.Fatal("result not eligible")
	}
	if result.CoverageStatus != "in-force" {
		t.Fatalf("coverage status = %q, want in-force", result.CoverageStatus)
	}
	if got := result.Benefits.Copay.InexactFloat64(); got != 50 {
		t.Fatalf("copay = %v, want 50", got)
	}
	if got := result.Benefits.Deductible.InexactFloat64(); got != 500 {
		t.Fatalf("deductible = %v, want 500", got)
	}
	if result.CoveragePeriod == nil || result.CoveragePeriod.Start != "2025-01-01" {
		t.Fatalf("coverage period = %+v", result.CoveragePeriod)
	}
}

func TestCheckCacheShortCircuit(t *testing.T) {
	sender := &fakeSender{resp: eligibleResponse(t, 50)}
	svc := newTestService(sender, cache.NewMemory(), t)

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Check(context.Background(), testInput()); err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
	}
	if sender.calls != 1 {
		t.Fatalf("sender called %d times, want 1", sender.calls)
	}
}

func TestCheckRejectionNotCached(t *testing.T) {
	sender := &fakeSender{resp: rejectionResponse(t, "EL-01001")}
	svc := newTestService(sender, cache.NewMemory(), t)

	_, rejection, err := svc.Check(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rejection == nil {
		t.Fatal("expected rejection")
	}
	if rejection.Code != "EL-01001" {
		t.Fatalf("rejection code = %q", rejection.Code)
	}
	if rejection.Category != nphies.CategoryDenied {
		t.Fatalf("rejection category = %q, want denied", rejection.Category)
	}

	// Rejections never populate the cache; the next check goes out again.
	if _, _, err := svc.Check(context.Background(), testInput()); err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if sender.calls != 2 {
		t.Fatalf("sender called %d times, want 2", sender.calls)
	}
}

func TestCheckInvalidInputSkipsSender(t *testing.T) {
	sender := &fakeSender{resp: eligibleResponse(t, 50)}
	svc := newTestService(sender, cache.NewMemory(), t)

	in := testInput()
	in.MemberID = "x"
	_, _, err := svc.Check(context.Background(), in)
	if _, ok := err.(*nphies.ValidationError); !ok {
		t.Fatalf("error = %v, want *nphies.ValidationError", err)
	}
	if sender.calls != 0 {
		t.Fatalf("sender called %d times, want 0", sender.calls)
	}
}

func TestParseResponseProtocolError(t *testing.T) {
	b := fhir.NewMessageBundle("bundle-bad", time.Now())
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-bad",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventEligibilityResponse},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}

	_, _, err := ParseResponse(b, nphies.NewRejectionClassifier(), time.Now())
	if _, ok := err.(*nphies.ProtocolError); !ok {
		t.Fatalf("error = %v, want *nphies.ProtocolError", err)
	}
}

func TestParseResponseWrongEvent(t *testing.T) {
	b := fhir.NewMessageBundle("bundle-wrong", time.Now())
	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           "hdr-wrong",
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventClaimResponse},
	}
	if err := b.AddEntry("MessageHeader", hdr.ID, hdr); err != nil {
		t.Fatalf("add header: %v", err)
	}

	_, _, err := ParseResponse(b, nphies.NewRejectionClassifier(), time.Now())
	if _, ok := err.(*nphies.ProtocolError); !ok {
		t.Fatalf("error = %v, want *nphies.ProtocolError", err)
	}
}

func TestBatchOpDispatch(t *testing.T) {
	sender := &fakeSender{resp: eligibleResponse(t, 50)}
	op := NewBatchOp(newTestService(sender, cache.NewMemory(), t))

	if op.Name() != "eligibility" {
		t.Fatalf("Name = %q", op.Name())
	}

	raw, _ := json.Marshal(testInput())
	if err := op.Validate(raw); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	key, err := op.NaturalKey(raw)
	if err != nil {
		t.Fatalf("NaturalKey: %v", err)
	}
	if key != "1234567890|7000911508|2025-10-22" {
		t.Fatalf("key = %q", key)
	}

	out, rejection, err := op.Dispatch(context.Background(), raw)
	if err != nil || rejection != nil {
		t.Fatalf("Dispatch: result=%v rejection=%v err=%v", string(out), rejection, err)
	}
	var result Result
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Eligible {
		t.Fatal("dispatched result not eligible")
	}
}
