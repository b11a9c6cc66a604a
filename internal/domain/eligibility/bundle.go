package eligibility

import (
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// BuildBundle assembles the eligibility-request message bundle. Entry order
// and all internal reference ids are derived deterministically from the
// input, so identical inputs produce structurally identical bundles. Pure
// transformation: validation must have run already.
func BuildBundle(in *CheckInput, auth *nphies.AuthContext, now time.Time) (*fhir.Bundle, error) {
	reqID := fhir.LocalID("elig", in.MemberID, in.PayerID, in.ServiceDate)
	hdrID := "hdr-" + reqID
	patientID := fhir.LocalID("patient", in.MemberID)
	coverageID := fhir.LocalID("coverage", in.MemberID, in.PayerID)
	providerOrgID := fhir.LocalID("provider-org", auth.OrganizationID())
	payerOrgID := fhir.LocalID("payer-org", in.PayerID)

	b := fhir.NewMessageBundle("bundle-"+reqID, now)

	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           hdrID,
		Meta:         &fhir.Meta{Profile: []string{fhir.ProfileMessageHeader}},
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventEligibilityRequest},
		Destination: []fhir.MessageDest{{
			Endpoint: fhir.SystemPayerLicense + "/" + in.PayerID,
			Receiver: &fhir.Reference{Reference: fhir.FormatReference("Organization", payerOrgID)},
		}},
		Sender: &fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		Source: &fhir.MessageSource{Endpoint: fhir.SystemProviderLicense + "/" + auth.LicenseNumber()},
		Focus:  []fhir.Reference{{Reference: fhir.FormatReference("CoverageEligibilityRequest", reqID)}},
	}
	if err := b.AddEntry("MessageHeader", hdrID, hdr); err != nil {
		return nil, err
	}

	purpose := in.Purpose
	if len(purpose) == 0 {
		purpose = []string{"benefits", "validation"}
	}
	request := map[string]interface{}{
		"resourceType": "CoverageEligibilityRequest",
		"id":           reqID,
		"meta":         fhir.Meta{Profile: []string{fhir.ProfileEligibilityRequest}},
		"identifier": []fhir.Identifier{{
			System: fhir.SystemProviderLicense + "/eligibilityrequest",
			Value:  reqID,
		}},
		"status":       "active",
		"purpose":      purpose,
		"patient":      fhir.Reference{Reference: fhir.FormatReference("Patient", patientID)},
		"created":      fhir.FormatInstant(now),
		"servicedDate": in.ServiceDate,
		"provider":     fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		"insurer":      fhir.Reference{Reference: fhir.FormatReference("Organization", payerOrgID)},
		"insurance": []map[string]interface{}{{
			"coverage": fhir.Reference{Reference: fhir.FormatReference("Coverage", coverageID)},
		}},
	}
	if err := b.AddEntry("CoverageEligibilityRequest", reqID, request); err != nil {
		return nil, err
	}

	patient := fhir.PatientResource(patientID, in.MemberID, fhir.PatientOpts{
		Name:      in.PatientName,
		Gender:    in.Gender,
		BirthDate: in.BirthDate,
	})
	if err := b.AddEntry("Patient", patientID, patient); err != nil {
		return nil, err
	}
	coverage := fhir.CoverageResource(coverageID, in.MemberID, patientID, payerOrgID)
	if err := b.AddEntry("Coverage", coverageID, coverage); err != nil {
		return nil, err
	}

	provider := fhir.OrganizationResource(providerOrgID, auth.LicenseNumber(), fhir.SystemProviderLicense, "prov")
	if err := b.AddEntry("Organization", providerOrgID, provider); err != nil {
		return nil, err
	}
	payer := fhir.OrganizationResource(payerOrgID, in.PayerID, fhir.SystemPayerLicense, "ins")
	return b, b.AddEntry("Organization", payerOrgID, payer)
}
