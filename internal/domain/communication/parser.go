package communication

import (
	"encoding/json"
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

type commPayload struct {
	ContentString string `json:"contentString"`
}

type commResource struct {
	ID       string                 `json:"id"`
	About    []fhir.Reference       `json:"about"`
	Category []fhir.CodeableConcept `json:"category"`
	Payload  []commPayload          `json:"payload"`
	Sent     string                 `json:"sent"`
}

// ParsePollResponse decodes a poll-response bundle into the inbound
// messages it carries. An empty queue is a normal response with no
// Communication entries.
func ParsePollResponse(b *fhir.Bundle, classifier *nphies.RejectionClassifier, now time.Time) ([]*Communication, *nphies.BusinessRejection, error) {
	if _, err := nphies.VerifyResponseHeader(b, fhir.EventPollResponse); err != nil {
		return nil, nil, err
	}

	if rej := nphies.ExtractRejection(b, classifier); rej != nil {
		return nil, rej, nil
	}

	var out []*Communication
	for _, raw := range b.Resources("Communication") {
		var res commResource
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, nil, &nphies.ProtocolError{Reason: "decode Communication", Err: err}
		}
		if res.ID == "" {
			return nil, nil, &nphies.ProtocolError{Reason: "Communication entry without id"}
		}

		c := &Communication{
			ID:         res.ID,
			Status:     StatusPending,
			ReceivedAt: now,
		}
		if len(res.About) > 0 {
			c.AboutID = res.About[0].Reference
		}
		if len(res.Category) > 0 && len(res.Category[0].Coding) > 0 {
			c.Category = res.Category[0].Coding[0].Code
		}
		if len(res.Payload) > 0 {
			c.Payload = res.Payload[0].ContentString
		}
		out = append(out, c)
	}
	return out, nil, nil
}
