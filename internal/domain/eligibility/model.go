// Package eligibility implements the coverage eligibility operation: one
// domain-level call that validates the member, builds the request bundle,
// exchanges it with the clearinghouse, and decodes the coverage outcome.
package eligibility

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

var validate = validator.New()

// CheckInput is one eligibility check request. ServiceDate uses the FHIR
// date layout (2006-01-02).
type CheckInput struct {
	MemberID    string   `json:"member_id" validate:"required,numeric,len=10"`
	PayerID     string   `json:"payer_id" validate:"required"`
	ServiceDate string   `json:"service_date" validate:"required,datetime=2006-01-02"`
	Purpose     []string `json:"purpose,omitempty"`
	PatientName string   `json:"patient_name,omitempty"`
	BirthDate   string   `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender      string   `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
}

// Validate runs pre-flight checks before any bundle is constructed.
func (in *CheckInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			f := verrs[0]
			return &nphies.ValidationError{Field: f.Field(), Reason: fmt.Sprintf("failed %q check", f.Tag())}
		}
		return &nphies.ValidationError{Field: "input", Reason: err.Error()}
	}

	svcDate, err := time.Parse("2006-01-02", in.ServiceDate)
	if err != nil {
		return &nphies.ValidationError{Field: "service_date", Reason: "not a valid date"}
	}
	if svcDate.After(time.Now().AddDate(1, 0, 0)) {
		return &nphies.ValidationError{Field: "service_date", Reason: "more than a year in the future"}
	}
	if svcDate.Before(time.Now().AddDate(-2, 0, 0)) {
		return &nphies.ValidationError{Field: "service_date", Reason: "more than two years in the past"}
	}

	for _, p := range in.Purpose {
		if p != "benefits" && p != "validation" && p != "discovery" {
			return &nphies.ValidationError{Field: "purpose", Reason: fmt.Sprintf("unknown purpose %q", p)}
		}
	}
	return nil
}

// NaturalKey identifies duplicate checks within a batch run.
func (in *CheckInput) NaturalKey() string {
	return in.MemberID + "|" + in.PayerID + "|" + in.ServiceDate
}

// Benefits carries the monetary benefit figures reported by the payer.
type Benefits struct {
	Copay      decimal.Decimal `json:"copay"`
	Deductible decimal.Decimal `json:"deductible"`
	Limit      decimal.Decimal `json:"limit"`
}

// Result is a successful eligibility outcome. Created per check, cached
// with a TTL, never mutated after creation.
type Result struct {
	Eligible       bool         `json:"eligible"`
	CoverageStatus string       `json:"coverage_status"`
	Benefits       Benefits     `json:"benefits"`
	CoveragePeriod *fhir.Period `json:"coverage_period,omitempty"`
	Disposition    string       `json:"disposition,omitempty"`
	CheckedAt      time.Time    `json:"checked_at"`
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
