package nphies

import (
	"encoding/json"
	"fmt"
	"os"
)

// RejectionCategory sorts clearinghouse business rejections into the two
// cases the pipeline branches on.
type RejectionCategory string

const (
	// CategoryDenied: the request was correctly processed and refused.
	// Resubmitting the same input will be refused again.
	CategoryDenied RejectionCategory = "denied"
	// CategoryCorrectable: the request was refused for a defect the
	// provider can fix (missing authorization, bad coding) and resubmit.
	CategoryCorrectable RejectionCategory = "correctable"
)

// BusinessRejection is a structured, expected negative outcome reported by
// the clearinghouse ("member not eligible", "missing authorization"), as
// opposed to a transport or protocol failure. It is surfaced as data, not
// as an error: callers branch on it.
type BusinessRejection struct {
	Code     string            `json:"code"`
	Display  string            `json:"display,omitempty"`
	Category RejectionCategory `json:"category"`
}

func (r *BusinessRejection) String() string {
	return fmt.Sprintf("rejected [%s] %s (%s)", r.Code, r.Display, r.Category)
}

// RejectionClassifier maps payer rejection codes to categories. The code
// taxonomy is payer-specific, so the mapping is external configuration
// loaded at startup, with a conservative built-in default.
type RejectionClassifier struct {
	categories map[string]RejectionCategory
	fallback   RejectionCategory
}

// NewRejectionClassifier returns a classifier with the built-in mapping.
func NewRejectionClassifier() *RejectionClassifier {
	return &RejectionClassifier{
		categories: map[string]RejectionCategory{
			"GE-00012": CategoryCorrectable, // missing required element
			"GE-00025": CategoryCorrectable, // invalid code value
			"BV-00542": CategoryCorrectable, // authorization required
			"EL-01001": CategoryDenied,      // member not eligible
			"EL-01002": CategoryDenied,      // coverage expired
			"CL-02004": CategoryDenied,      // service not covered
		},
		fallback: CategoryDenied,
	}
}

// LoadRejectionMap replaces the built-in mapping with the JSON object at
// path: {"<code>": "denied"|"correctable", ...}.
func LoadRejectionMap(path string) (*RejectionClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "rejection map", Reason: err.Error()}
	}
	var m map[string]RejectionCategory
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ConfigurationError{Field: "rejection map", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	for code, cat := range m {
		if cat != CategoryDenied && cat != CategoryCorrectable {
			return nil, &ConfigurationError{Field: "rejection map", Reason: fmt.Sprintf("code %s: unknown category %q", code, cat)}
		}
	}
	return &RejectionClassifier{categories: m, fallback: CategoryDenied}, nil
}

// Classify builds a BusinessRejection for a reported code. Unknown codes
// fall back to denied so that an unmapped rejection is never retried.
func (c *RejectionClassifier) Classify(code, display string) *BusinessRejection {
	cat, ok := c.categories[code]
	if !ok {
		cat = c.fallback
	}
	return &BusinessRejection{Code: code, Display: display, Category: cat}
}
