package nphies

import (
	"encoding/json"
	"fmt"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
)

// VerifyResponseHeader checks that the response bundle is the expected
// counterpart of the request event and returns its header. A missing or
// mismatched header is a ProtocolError: the exchange cannot be trusted.
func VerifyResponseHeader(b *fhir.Bundle, wantEvent string) (*fhir.MessageHeader, error) {
	if b.Type != "message" {
		return nil, &ProtocolError{Reason: fmt.Sprintf("response bundle type %q, want message", b.Type)}
	}
	hdr, err := b.Header()
	if err != nil {
		return nil, &ProtocolError{Reason: "response has no MessageHeader", Err: err}
	}
	if hdr.EventCoding == nil || hdr.EventCoding.Code != wantEvent {
		got := ""
		if hdr.EventCoding != nil {
			got = hdr.EventCoding.Code
		}
		return nil, &ProtocolError{Reason: fmt.Sprintf("response event %q, want %q", got, wantEvent)}
	}
	return hdr, nil
}

// ExtractRejection scans the response bundle for an error-severity
// OperationOutcome and classifies it. A nil return means the response
// carries a domain result, not a rejection.
func ExtractRejection(b *fhir.Bundle, classifier *RejectionClassifier) *BusinessRejection {
	for _, raw := range b.Resources("OperationOutcome") {
		var oo fhir.OperationOutcome
		if err := json.Unmarshal(raw, &oo); err != nil {
			continue
		}
		for _, issue := range oo.Issue {
			if issue.Severity != "error" && issue.Severity != "fatal" {
				continue
			}
			code, display := issue.Code, issue.Diagnostics
			if issue.Details != nil && len(issue.Details.Coding) > 0 {
				code = issue.Details.Coding[0].Code
				if issue.Details.Coding[0].Display != "" {
					display = issue.Details.Coding[0].Display
				}
			}
			return classifier.Classify(code, display)
		}
	}
	return nil
}
