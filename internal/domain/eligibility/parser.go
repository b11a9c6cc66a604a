package eligibility

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

type ceBenefit struct {
	Type         *fhir.CodeableConcept `json:"type"`
	AllowedMoney *fhir.Money           `json:"allowedMoney"`
}

type ceItem struct {
	Category *fhir.CodeableConcept `json:"category"`
	Excluded bool                  `json:"excluded"`
	Benefit  []ceBenefit           `json:"benefit"`
}

type ceInsurance struct {
	Inforce       *bool        `json:"inforce"`
	BenefitPeriod *fhir.Period `json:"benefitPeriod"`
	Item          []ceItem     `json:"item"`
}

type ceResponse struct {
	Status      string        `json:"status"`
	Outcome     string        `json:"outcome"`
	Disposition string        `json:"disposition"`
	Insurance   []ceInsurance `json:"insurance"`
}

// ParseResponse decodes an eligibility-response bundle into the three
// outcome classes: a domain Result, a classified BusinessRejection, or a
// ProtocolError when the bundle does not carry either.
func ParseResponse(b *fhir.Bundle, classifier *nphies.RejectionClassifier, now time.Time) (*Result, *nphies.BusinessRejection, error) {
	if _, err := nphies.VerifyResponseHeader(b, fhir.EventEligibilityResponse); err != nil {
		return nil, nil, err
	}

	if rej := nphies.ExtractRejection(b, classifier); rej != nil {
		return nil, rej, nil
	}

	raw := b.FindResource("CoverageEligibilityResponse")
	if raw == nil {
		return nil, nil, &nphies.ProtocolError{Reason: "response carries neither CoverageEligibilityResponse nor OperationOutcome"}
	}
	var resp ceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, &nphies.ProtocolError{Reason: "decode CoverageEligibilityResponse", Err: err}
	}
	if resp.Outcome == "error" {
		// Payer reported an error outcome without an OperationOutcome entry.
		return nil, nil, &nphies.ProtocolError{Reason: "outcome=error without OperationOutcome detail"}
	}

	result := &Result{
		CoverageStatus: "not-in-force",
		Disposition:    resp.Disposition,
		CheckedAt:      now,
	}
	for _, ins := range resp.Insurance {
		if ins.Inforce != nil && *ins.Inforce {
			result.Eligible = true
			result.CoverageStatus = "in-force"
		}
		if ins.BenefitPeriod != nil && result.CoveragePeriod == nil {
			result.CoveragePeriod = ins.BenefitPeriod
		}
		for _, item := range ins.Item {
			if item.Excluded {
				continue
			}
			for _, ben := range item.Benefit {
				if ben.Type == nil || ben.AllowedMoney == nil || len(ben.Type.Coding) == 0 {
					continue
				}
				amount := decimal.NewFromFloat(ben.AllowedMoney.Value)
				switch ben.Type.Coding[0].Code {
				case "copay", "copay-maximum":
					result.Benefits.Copay = amount
				case "deductible":
					result.Benefits.Deductible = amount
				case "benefit", "benefit-maximum":
					result.Benefits.Limit = amount
				}
			}
		}
	}
	return result, nil, nil
}
