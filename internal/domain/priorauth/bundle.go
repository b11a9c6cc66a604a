package priorauth

import (
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// BuildBundle assembles the priorauth-request message bundle. The primary
// resource is a Claim with use "preauthorization".
func BuildBundle(in *RequestInput, auth *nphies.AuthContext, now time.Time) (*fhir.Bundle, error) {
	reqID := fhir.LocalID("auth", in.RequestID)
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
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventPriorAuthRequest},
		Destination: []fhir.MessageDest{{
			Endpoint: fhir.SystemPayerLicense + "/" + in.PayerID,
			Receiver: &fhir.Reference{Reference: fhir.FormatReference("Organization", payerOrgID)},
		}},
		Sender: &fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		Source: &fhir.MessageSource{Endpoint: fhir.SystemProviderLicense + "/" + auth.LicenseNumber()},
		Focus:  []fhir.Reference{{Reference: fhir.FormatReference("Claim", reqID)}},
	}
	if err := b.AddEntry("MessageHeader", hdrID, hdr); err != nil {
		return nil, err
	}

	diagnosis := make([]map[string]interface{}, 0, len(in.Diagnoses))
	for i, dx := range in.Diagnoses {
		diagnosis = append(diagnosis, map[string]interface{}{
			"sequence": i + 1,
			"diagnosisCodeableConcept": fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemICD10AM, Code: dx}},
			},
		})
	}
	items := make([]map[string]interface{}, 0, len(in.Items))
	for i, si := range in.Items {
		items = append(items, map[string]interface{}{
			"sequence": i + 1,
			"productOrService": fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemServices, Code: si.Code}},
			},
			"servicedDate": in.ServiceDate,
			"quantity":     map[string]interface{}{"value": si.Quantity},
			"unitPrice":    fhir.Money{Value: si.UnitPrice.InexactFloat64(), Currency: "SAR"},
			"net":          fhir.Money{Value: si.Net().InexactFloat64(), Currency: "SAR"},
		})
	}

	request := map[string]interface{}{
		"resourceType": "Claim",
		"id":           reqID,
		"meta":         fhir.Meta{Profile: []string{fhir.ProfilePriorAuthRequest}},
		"identifier": []fhir.Identifier{{
			System: fhir.SystemProviderLicense + "/authorization",
			Value:  in.RequestID,
		}},
		"status": "active",
		"type": fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: fhir.SystemClaimType, Code: "institutional",
		}}},
		"use":      "preauthorization",
		"patient":  fhir.Reference{Reference: fhir.FormatReference("Patient", patientID)},
		"created":  fhir.FormatInstant(now),
		"provider": fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		"insurer":  fhir.Reference{Reference: fhir.FormatReference("Organization", payerOrgID)},
		"priority": fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: fhir.SystemProcessPriority, Code: "normal",
		}}},
		"diagnosis": diagnosis,
		"insurance": []map[string]interface{}{{
			"sequence": 1,
			"focal":    true,
			"coverage": fhir.Reference{Reference: fhir.FormatReference("Coverage", coverageID)},
		}},
		"item":  items,
		"total": fhir.Money{Value: in.total().InexactFloat64(), Currency: "SAR"},
	}
	if err := b.AddEntry("Claim", reqID, request); err != nil {
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
	if err := b.AddEntry("Coverage", coverageID, fhir.CoverageResource(coverageID, in.MemberID, patientID, payerOrgID)); err != nil {
		return nil, err
	}
	provider := fhir.OrganizationResource(providerOrgID, auth.LicenseNumber(), fhir.SystemProviderLicense, "prov")
	if err := b.AddEntry("Organization", providerOrgID, provider); err != nil {
		return nil, err
	}
	payer := fhir.OrganizationResource(payerOrgID, in.PayerID, fhir.SystemPayerLicense, "ins")
	return b, b.AddEntry("Organization", payerOrgID, payer)
}
