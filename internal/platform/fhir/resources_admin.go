package fhir

// Administrative resource builders shared by every request bundle: Patient,
// Coverage, and Organization in their NPHIES profiles. Resources are plain
// maps so operation-specific fields can be attached before AddEntry.

// PatientOpts carries the demographic fields a request may include.
type PatientOpts struct {
	Name      string
	Gender    string
	BirthDate string
}

// PatientResource builds a Patient identified by the payer-assigned member id.
func PatientResource(id, memberID string, opts PatientOpts) map[string]interface{} {
	p := map[string]interface{}{
		"resourceType": "Patient",
		"id":           id,
		"meta":         Meta{Profile: []string{ProfilePatient}},
		"identifier": []Identifier{{
			Type: &CodeableConcept{Coding: []Coding{{
				System: "http://terminology.hl7.org/CodeSystem/v2-0203", Code: "MB",
			}}},
			System: SystemMemberID,
			Value:  memberID,
		}},
		"active": true,
	}
	if opts.Name != "" {
		p["name"] = []HumanName{{Text: opts.Name}}
	}
	if opts.Gender != "" {
		p["gender"] = opts.Gender
	}
	if opts.BirthDate != "" {
		p["birthDate"] = opts.BirthDate
	}
	return p
}

// CoverageResource builds an active Coverage linking the member to the payer.
func CoverageResource(id, memberID, patientID, payerOrgID string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Coverage",
		"id":           id,
		"meta":         Meta{Profile: []string{ProfileCoverage}},
		"status":       "active",
		"type": CodeableConcept{Coding: []Coding{{
			System: SystemCoverageType, Code: "EHCPOL", Display: "extended healthcare",
		}}},
		"subscriberId": memberID,
		"beneficiary":  Reference{Reference: FormatReference("Patient", patientID)},
		"relationship": CodeableConcept{Coding: []Coding{{
			System: SystemSubscriberRel, Code: "self",
		}}},
		"payor": []Reference{{Reference: FormatReference("Organization", payerOrgID)}},
	}
}

// OrganizationResource builds a provider ("prov") or insurer ("ins")
// Organization identified by its license.
func OrganizationResource(id, license, system, typeCode string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Organization",
		"id":           id,
		"meta":         Meta{Profile: []string{ProfileOrganization}},
		"identifier":   []Identifier{{System: system, Value: license}},
		"active":       true,
		"type": []CodeableConcept{{Coding: []Coding{{
			System: "http://nphies.sa/terminology/CodeSystem/organization-type",
			Code:   typeCode,
		}}}},
	}
}
