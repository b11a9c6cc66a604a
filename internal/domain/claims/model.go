// Package claims implements claim submission and adjudication tracking:
// building the claim-request bundle, exchanging it with the clearinghouse,
// decoding the adjudication outcome, and enforcing the claim state machine.
package claims

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

var validate = validator.New()

// Status is the claim lifecycle state. Adjudicated claims land in one of
// the three terminal outcomes; only denied claims may be appealed.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusApproved          Status = "approved"
	StatusDenied            Status = "denied"
	StatusPartiallyApproved Status = "partially_approved"
	StatusAppealed          Status = "appealed"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusDenied, StatusPartiallyApproved},
	StatusDenied:    {StatusAppealed},
	StatusAppealed:  {StatusApproved, StatusDenied, StatusPartiallyApproved},
}

// CanTransition reports whether from permits a move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9]{2}(\.[0-9A-Z]{1,4})?$`)

// LineItem is one billed service on a claim.
type LineItem struct {
	Code        string          `json:"code" validate:"required"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Net is the line's extended amount.
func (li LineItem) Net() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// SubmitInput is one claim submission. ClaimID is the provider-assigned
// external id and the claim's natural key within a batch run. A zero Total
// is computed from the line items; a non-zero Total must match their sum.
type SubmitInput struct {
	ClaimID        string          `json:"claim_id" validate:"required"`
	MemberID       string          `json:"member_id" validate:"required,numeric,len=10"`
	PayerID        string          `json:"payer_id" validate:"required"`
	ClaimType      string          `json:"claim_type,omitempty" validate:"omitempty,oneof=institutional professional oral pharmacy vision"`
	ServiceDate    string          `json:"service_date" validate:"required,datetime=2006-01-02"`
	Diagnoses      []string        `json:"diagnoses" validate:"required,min=1"`
	Items          []LineItem      `json:"services" validate:"required,min=1,dive"`
	Total          decimal.Decimal `json:"total"`
	RelatedClaimID string          `json:"related_claim_id,omitempty"`
	PatientName    string          `json:"patient_name,omitempty"`
	BirthDate      string          `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender         string          `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
}

// Validate runs pre-flight checks: struct shape, diagnosis code family, and
// the line-item total. It fills in a zero Total so bundle construction
// always sees the computed amount.
func (in *SubmitInput) Validate() error {
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
	for i, li := range in.Items {
		if li.UnitPrice.IsNegative() {
			return &nphies.ValidationError{Field: fmt.Sprintf("services[%d].unit_price", i), Reason: "negative amount"}
		}
	}

	computed := decimal.Zero
	for _, li := range in.Items {
		computed = computed.Add(li.Net())
	}
	if in.Total.IsZero() {
		in.Total = computed
	} else if !in.Total.Equal(computed) {
		return &nphies.ValidationError{
			Field:  "total",
			Reason: fmt.Sprintf("supplied %s does not match line items %s", in.Total, computed),
		}
	}
	return nil
}

// NaturalKey identifies duplicate submissions within a batch run.
func (in *SubmitInput) NaturalKey() string { return in.ClaimID }

func (in *SubmitInput) claimType() string {
	if in.ClaimType == "" {
		return "institutional"
	}
	return in.ClaimType
}

// Claim is the persisted lifecycle record. Immutable once submitted apart
// from status transitions; corrections require a new claim referencing the
// original through RelatedClaimID.
type Claim struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	MemberID       string          `json:"member_id"`
	PayerID        string          `json:"payer_id"`
	Total          decimal.Decimal `json:"total"`
	ApprovedTotal  decimal.Decimal `json:"approved_total"`
	Disposition    string          `json:"disposition,omitempty"`
	DenialCode     string          `json:"denial_code,omitempty"`
	RelatedClaimID string          `json:"related_claim_id,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	AdjudicatedAt  *time.Time      `json:"adjudicated_at,omitempty"`
}

// transition moves the claim to the next state or fails with
// InvalidStateError. Only the service calls it.
func (c *Claim) transition(to Status, op string) error {
	if !CanTransition(c.Status, to) {
		return &nphies.InvalidStateError{Entity: "claim " + c.ID, From: string(c.Status), Op: op}
	}
	c.Status = to
	return nil
}

// Result is the adjudication outcome returned to callers and batch records.
type Result struct {
	ClaimID       string          `json:"claim_id"`
	Status        Status          `json:"status"`
	ApprovedTotal decimal.Decimal `json:"approved_total"`
	Disposition   string          `json:"disposition,omitempty"`
	AdjudicatedAt time.Time       `json:"adjudicated_at"`
}
