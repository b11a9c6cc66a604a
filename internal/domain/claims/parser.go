package claims

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

type crAdjudication struct {
	Category *fhir.CodeableConcept `json:"category"`
	Amount   *fhir.Money           `json:"amount"`
}

type crItem struct {
	ItemSequence int              `json:"itemSequence"`
	Adjudication []crAdjudication `json:"adjudication"`
}

type crTotal struct {
	Category *fhir.CodeableConcept `json:"category"`
	Amount   *fhir.Money           `json:"amount"`
}

type claimResponse struct {
	Status      string    `json:"status"`
	Outcome     string    `json:"outcome"`
	Disposition string    `json:"disposition"`
	Item        []crItem  `json:"item"`
	Total       []crTotal `json:"total"`
}

// ParseResponse decodes a claim-response bundle into an adjudication
// Result, a classified BusinessRejection, or a ProtocolError. The
// adjudicated status splits on the approved amount against the claimed
// total: full, zero, or partial.
func ParseResponse(b *fhir.Bundle, classifier *nphies.RejectionClassifier, claimed decimal.Decimal, now time.Time) (*Result, *nphies.BusinessRejection, error) {
	if _, err := nphies.VerifyResponseHeader(b, fhir.EventClaimResponse); err != nil {
		return nil, nil, err
	}

	if rej := nphies.ExtractRejection(b, classifier); rej != nil {
		return nil, rej, nil
	}

	raw := b.FindResource("ClaimResponse")
	if raw == nil {
		return nil, nil, &nphies.ProtocolError{Reason: "response carries neither ClaimResponse nor OperationOutcome"}
	}
	var resp claimResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, &nphies.ProtocolError{Reason: "decode ClaimResponse", Err: err}
	}
	if resp.Outcome == "error" {
		return nil, nil, &nphies.ProtocolError{Reason: "outcome=error without OperationOutcome detail"}
	}

	approved := approvedTotal(&resp)
	status := StatusDenied
	switch {
	case approved.Equal(claimed) && approved.IsPositive():
		status = StatusApproved
	case approved.IsPositive():
		status = StatusPartiallyApproved
	}

	return &Result{
		Status:        status,
		ApprovedTotal: approved,
		Disposition:   resp.Disposition,
		AdjudicatedAt: now,
	}, nil, nil
}

// approvedTotal prefers the response-level benefit total; item-level
// adjudications are summed when the payer omits it.
func approvedTotal(resp *claimResponse) decimal.Decimal {
	for _, t := range resp.Total {
		if t.Category == nil || t.Amount == nil || len(t.Category.Coding) == 0 {
			continue
		}
		if t.Category.Coding[0].Code == "benefit" {
			return decimal.NewFromFloat(t.Amount.Value)
		}
	}

	sum := decimal.Zero
	for _, item := range resp.Item {
		for _, adj := range item.Adjudication {
			if adj.Category == nil || adj.Amount == nil || len(adj.Category.Coding) == 0 {
				continue
			}
			if adj.Category.Coding[0].Code == "benefit" {
				sum = sum.Add(decimal.NewFromFloat(adj.Amount.Value))
			}
		}
	}
	return sum
}
