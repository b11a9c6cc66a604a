package communication

import (
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// BuildPollBundle assembles the poll-request message bundle: a Task asking
// the clearinghouse for queued messages addressed to the provider.
func BuildPollBundle(auth *nphies.AuthContext, now time.Time) (*fhir.Bundle, error) {
	taskID := fhir.LocalID("poll", auth.ProviderID(), now.UTC().Format("20060102150405"))
	hdrID := "hdr-" + taskID
	providerOrgID := fhir.LocalID("provider-org", auth.OrganizationID())

	b := fhir.NewMessageBundle("bundle-"+taskID, now)

	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           hdrID,
		Meta:         &fhir.Meta{Profile: []string{fhir.ProfileMessageHeader}},
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventPollRequest},
		Sender:       &fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		Source:       &fhir.MessageSource{Endpoint: fhir.SystemProviderLicense + "/" + auth.LicenseNumber()},
		Focus:        []fhir.Reference{{Reference: fhir.FormatReference("Task", taskID)}},
	}
	if err := b.AddEntry("MessageHeader", hdrID, hdr); err != nil {
		return nil, err
	}

	task := map[string]interface{}{
		"resourceType": "Task",
		"id":           taskID,
		"meta":         fhir.Meta{Profile: []string{fhir.ProfileTask}},
		"status":       "requested",
		"intent":       "order",
		"code": fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: fhir.SystemTaskCode, Code: "poll",
		}}},
		"authoredOn": fhir.FormatInstant(now),
		"requester":  fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
	}
	if err := b.AddEntry("Task", taskID, task); err != nil {
		return nil, err
	}

	provider := fhir.OrganizationResource(providerOrgID, auth.LicenseNumber(), fhir.SystemProviderLicense, "prov")
	return b, b.AddEntry("Organization", providerOrgID, provider)
}
