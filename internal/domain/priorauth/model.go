// Package priorauth implements prior-authorization requests: the same
// claim-shaped exchange as a submission, but with use "preauthorization"
// and an authorization reference in the response that later claims cite.
package priorauth

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

var validate = validator.New()

var icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9]{2}(\.[0-9A-Z]{1,4})?$`)

// ServiceItem is one requested service on an authorization.
type ServiceItem struct {
	Code      string          `json:"code" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (si ServiceItem) Net() decimal.Decimal {
	return si.UnitPrice.Mul(decimal.NewFromInt(int64(si.Quantity)))
}

// RequestInput is one prior-authorization request. RequestID is the
// provider-assigned external id and the natural key within a batch run.
type RequestInput struct {
	RequestID   string        `json:"request_id" validate:"required"`
	MemberID    string        `json:"member_id" validate:"required,numeric,len=10"`
	PayerID     string        `json:"payer_id" validate:"required"`
	ServiceDate string        `json:"service_date" validate:"required,datetime=2006-01-02"`
	Diagnoses   []string      `json:"diagnoses" validate:"required,min=1"`
	Items       []ServiceItem `json:"services" validate:"required,min=1,dive"`
	PatientName string        `json:"patient_name,omitempty"`
	BirthDate   string        `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender      string        `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
}

func (in *RequestInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return &nphies.ValidationError{Field: f.Field(), Reason: fmt.Sprintf("failed %q check", f.Tag())}
		}
		return &nphies.ValidationError{Field: "input", Reason: err.Error()}
	}
	for _, dx := range in.Diagnoses {
		if !icd10Pattern.MatchString(dx) {
			return &nphies.ValidationError{Field: "diagnoses", Reason: fmt.Sprintf("%q is not an ICD-10 code", dx)}
		}
	}
	for i, si := range in.Items {
		if si.UnitPrice.IsNegative() {
			return &nphies.ValidationError{Field: fmt.Sprintf("services[%d].unit_price", i), Reason: "negative amount"}
		}
	}
	return nil
}

// NaturalKey identifies duplicate requests within a batch run.
func (in *RequestInput) NaturalKey() string { return in.RequestID }

func (in *RequestInput) total() decimal.Decimal {
	sum := decimal.Zero
	for _, si := range in.Items {
		sum = sum.Add(si.Net())
	}
	return sum
}

// Result is a granted or partially granted authorization. PreAuthRef is
// the payer's reference cited by subsequent claim submissions.
type Result struct {
	RequestID   string    `json:"request_id"`
	Authorized  bool      `json:"authorized"`
	PreAuthRef  string    `json:"pre_auth_ref,omitempty"`
	ValidUntil  string    `json:"valid_until,omitempty"`
	Disposition string    `json:"disposition,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}
