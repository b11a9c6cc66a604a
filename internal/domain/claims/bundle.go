package claims

import (
	"time"

	"github.com/sahlhealth/nphies-bridge/internal/platform/fhir"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

// BuildBundle assembles the claim-request message bundle. All internal ids
// derive from the input, so identical inputs produce structurally identical
// bundles. Validation must have run already so Total is populated.
func BuildBundle(in *SubmitInput, auth *nphies.AuthContext, now time.Time) (*fhir.Bundle, error) {
	claimID := fhir.LocalID("claim", in.ClaimID)
	hdrID := "hdr-" + claimID
	patientID := fhir.LocalID("patient", in.MemberID)
	coverageID := fhir.LocalID("coverage", in.MemberID, in.PayerID)
	providerOrgID := fhir.LocalID("provider-org", auth.OrganizationID())
	payerOrgID := fhir.LocalID("payer-org", in.PayerID)

	b := fhir.NewMessageBundle("bundle-"+claimID, now)

	hdr := &fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           hdrID,
		Meta:         &fhir.Meta{Profile: []string{fhir.ProfileMessageHeader}},
		EventCoding:  &fhir.Coding{System: fhir.SystemMessageEvents, Code: fhir.EventClaimRequest},
		Destination: []fhir.MessageDest{{
			Endpoint: fhir.SystemPayerLicense + "/" + in.PayerID,
			Receiver: &fhir.Reference{Reference: fhir.FormatReference("Organization", payerOrgID)},
		}},
		Sender: &fhir.Reference{Reference: fhir.FormatReference("Organization", providerOrgID)},
		Source: &fhir.MessageSource{Endpoint: fhir.SystemProviderLicense + "/" + auth.LicenseNumber()},
		Focus:  []fhir.Reference{{Reference: fhir.FormatReference("Claim", claimID)}},
	}
	if err := b.AddEntry("MessageHeader", hdrID, hdr); err != nil {
		return nil, err
	}

	if err := b.AddEntry("Claim", claimID, claimResource(in, claimID, patientID, coverageID, providerOrgID, payerOrgID, now)); err != nil {
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

func claimResource(in *SubmitInput, claimID, patientID, coverageID, providerOrgID, payerOrgID string, now time.Time) map[string]interface{} {
	diagnosis := make([]map[string]interface{}, 0, len(in.Diagnoses))
	for i, dx := range in.Diagnoses {
		entry := map[string]interface{}{
			"sequence": i + 1,
			"diagnosisCodeableConcept": fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemICD10AM, Code: dx}},
			},
		}
		if i == 0 {
			entry["type"] = []fhir.CodeableConcept{{Coding: []fhir.Coding{{
				System: "http://terminology.hl7.org/CodeSystem/ex-diagnosistype",
				Code:   "principal",
			}}}}
		}
		diagnosis = append(diagnosis, entry)
	}

	items := make([]map[string]interface{}, 0, len(in.Items))
	for i, li := range in.Items {
		items = append(items, map[string]interface{}{
			"sequence": i + 1,
			"productOrService": fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: fhir.SystemServices, Code: li.Code, Display: li.Description}},
			},
			"servicedDate": in.ServiceDate,
			"quantity":     map[string]interface{}{"value": li.Quantity},
			"unitPrice":    fhir.Money{Value: li.UnitPrice.InexactFloat64(), Currency: "SAR"},
			"net":          fhir.Money{Value: li.Net().InexactFloat64(), Currency: "SAR"},
		})
	}

	claim := map[string]interface{}{
		"resourceType": "Claim",
		"id":           claimID,
		"meta":         fhir.Meta{Profile: []string{fhir.ProfileInstitutionalClaim}},
		"identifier": []fhir.Identifier{{
			System: fhir.SystemProviderLicense + "/claim",
			Value:  in.ClaimID,
		}},
		"status": "active",
		"type": fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: fhir.SystemClaimType, Code: in.claimType(),
		}}},
		"use":      "claim",
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
		"total": fhir.Money{Value: in.Total.InexactFloat64(), Currency: "SAR"},
	}
	if in.RelatedClaimID != "" {
		claim["related"] = []map[string]interface{}{{
			"claim": fhir.Reference{Identifier: &fhir.Identifier{
				System: fhir.SystemProviderLicense + "/claim",
				Value:  in.RelatedClaimID,
			}},
			"relationship": fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: "http://terminology.hl7.org/CodeSystem/ex-relatedclaimrelationship",
				Code:   "prior",
			}}},
		}}
	}
	return claim
}
