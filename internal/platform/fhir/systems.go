package fhir

// NPHIES profile and code-system URLs. The clearinghouse validates bundles
// against these profiles; the URLs are part of the wire contract.
const (
	ProfileMessageBundle       = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/bundle|1.0.0"
	ProfileMessageHeader       = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/message-header|1.0.0"
	ProfileEligibilityRequest  = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/eligibility-request|1.0.0"
	ProfileEligibilityResponse = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/eligibility-response|1.0.0"
	ProfileInstitutionalClaim  = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/institutional-claim|1.0.0"
	ProfileClaimResponse       = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/claim-response|1.0.0"
	ProfilePriorAuthRequest    = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/institutional-priorauth|1.0.0"
	ProfilePriorAuthResponse   = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/priorauth-response|1.0.0"
	ProfilePatient             = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/patient|1.0.0"
	ProfileCoverage            = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/coverage|1.0.0"
	ProfileOrganization        = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/organization|1.0.0"
	ProfileTask                = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/task|1.0.0"
	ProfileCommunication       = "http://nphies.sa/fhir/ksa/nphies-fs/StructureDefinition/communication|1.0.0"

	SystemMessageEvents   = "http://nphies.sa/terminology/CodeSystem/ksa-message-events"
	SystemMemberID        = "http://nphies.sa/identifier/memberid"
	SystemNationalID      = "http://nphies.sa/identifier/nationalid"
	SystemPayerLicense    = "http://nphies.sa/license/payer-license"
	SystemProviderLicense = "http://nphies.sa/license/provider-license"
	SystemAdjudication    = "http://nphies.sa/terminology/CodeSystem/ksa-adjudication"
	SystemTaskCode        = "http://nphies.sa/terminology/CodeSystem/task-code"

	SystemICD10AM         = "http://hl7.org/fhir/sid/icd-10-am"
	SystemMOHCategory     = "http://nphies.sa/terminology/CodeSystem/moh-category"
	SystemServices        = "http://nphies.sa/terminology/CodeSystem/services"
	SystemBenefitCategory = "http://nphies.sa/terminology/CodeSystem/benefit-category"
	SystemCoverageType    = "http://nphies.sa/terminology/CodeSystem/coverage-type"
	SystemClaimType       = "http://terminology.hl7.org/CodeSystem/claim-type"
	SystemProcessPriority = "http://terminology.hl7.org/CodeSystem/processpriority"
	SystemSubscriberRel   = "http://terminology.hl7.org/CodeSystem/subscriber-relationship"
)

// Message event codes carried in MessageHeader.eventCoding.
const (
	EventEligibilityRequest  = "eligibility-request"
	EventEligibilityResponse = "eligibility-response"
	EventClaimRequest        = "claim-request"
	EventClaimResponse       = "claim-response"
	EventPriorAuthRequest    = "priorauth-request"
	EventPriorAuthResponse   = "priorauth-response"
	EventPollRequest         = "poll-request"
	EventPollResponse        = "poll-response"
	EventCommunication       = "communication"
)
