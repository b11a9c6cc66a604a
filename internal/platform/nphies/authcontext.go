package nphies

import (
	"net/http"
)

// AuthContext holds the organization, provider, and license identifiers that
// accompany every request. It is computed once per process and immutable
// after construction; transport security itself is the CertificateStore's
// concern.
type AuthContext struct {
	licenseNumber  string
	organizationID string
	providerID     string
}

// NewAuthContext validates the required identifiers and builds the context.
func NewAuthContext(licenseNumber, organizationID, providerID string) (*AuthContext, error) {
	switch {
	case licenseNumber == "":
		return nil, &ConfigurationError{Field: "license number", Reason: "required"}
	case organizationID == "":
		return nil, &ConfigurationError{Field: "organization id", Reason: "required"}
	case providerID == "":
		return nil, &ConfigurationError{Field: "provider id", Reason: "required"}
	}
	return &AuthContext{
		licenseNumber:  licenseNumber,
		organizationID: organizationID,
		providerID:     providerID,
	}, nil
}

func (a *AuthContext) LicenseNumber() string  { return a.licenseNumber }
func (a *AuthContext) OrganizationID() string { return a.organizationID }
func (a *AuthContext) ProviderID() string     { return a.providerID }

// Apply sets the identification headers the message endpoint requires.
func (a *AuthContext) Apply(req *http.Request) {
	req.Header.Set("X-License-Number", a.licenseNumber)
	req.Header.Set("X-Organization-ID", a.organizationID)
	req.Header.Set("X-Provider-ID", a.providerID)
	req.Header.Set("Content-Type", "application/fhir+json")
}
