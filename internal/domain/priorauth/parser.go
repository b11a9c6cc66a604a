package priorauth

import (
	"encoding/json"
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

type authResponse struct {
	Status        string       `json:"status"`
	Outcome       string       `json:"outcome"`
	Disposition   string       `json:"disposition"`
	PreAuthRef    string       `json:"preAuthRef"`
	PreAuthPeriod *fhir.Period `json:"preAuthPeriod"`
}

// ParseResponse decodes a priorauth-response bundle. A response without a
// preAuthRef is treated as not authorized even when no OperationOutcome
// accompanies it.
func ParseResponse(b *fhir.Bundle, classifier *nphies.RejectionClassifier, now time.Time) (*Result, *nphies.BusinessRejection, error) {
	if _, err := nphies.VerifyResponseHeader(b, fhir.EventPriorAuthResponse); err != nil {
		return nil, nil, err
	}

	if rej := nphies.ExtractRejection(b, classifier); rej != nil {
		return nil, rej, nil
	}

	raw := b.FindResource("ClaimResponse")
	if raw == nil {
		return nil, nil, &nphies.ProtocolError{Reason: "response carries neither ClaimResponse nor OperationOutcome"}
	}
	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, &nphies.ProtocolError{Reason: "decode ClaimResponse", Err: err}
	}
	if resp.Outcome == "error" {
		return nil, nil, &nphies.ProtocolError{Reason: "outcome=error without OperationOutcome detail"}
	}

	result := &Result{
		Authorized:  resp.PreAuthRef != "",
		PreAuthRef:  resp.PreAuthRef,
		Disposition: resp.Disposition,
		DecidedAt:   now,
	}
	if resp.PreAuthPeriod != nil {
		result.ValidUntil = resp.PreAuthPeriod.End
	}
	return result, nil, nil
}
