// Package nphies implements the transport client for the national
// clearinghouse: mutual-TLS certificate handling, request authentication
// headers, retry policy, and the message endpoint exchange itself.
package nphies

import (
	"fmt"
)

// ConfigurationError reports missing or invalid setup. It is fatal and
// halts startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// CertificateError reports an unusable client certificate, key, or CA
// bundle. Fatal in production mode.
type CertificateError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("certificate %s: %s", e.Path, e.Reason)
}

func (e *CertificateError) Unwrap() error { return e.Err }

// ValidationError reports a domain input that fails pre-flight checks. It is
// recoverable per record: the record is marked invalid and the pipeline
// continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError reports a transient exchange failure that persisted through
// every retry attempt.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response that did not conform to the expected
// bundle structure. Never retried automatically; flagged for manual review
// since it may indicate a clearinghouse contract change.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvalidStateError reports an illegal state transition attempt. Always a
// caller bug; fails fast.
type InvalidStateError struct {
	Entity string
	From   string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %q does not permit %s", e.Entity, e.From, e.Op)
}
