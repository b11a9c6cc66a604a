package nphies

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"
)

// Environment selects the clearinghouse endpoint flavour.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// CertificateStore holds the TLS material for one environment. It is loaded
// once at process start and shared read-only across all workers; no
// per-request reload.
type CertificateStore struct {
	env       Environment
	tlsConfig *tls.Config
	notAfter  time.Time
}

// LoadCertificates builds a CertificateStore. In sandbox mode mutual TLS is
// skipped entirely and only header-based identification is used; cert, key,
// and CA paths are ignored. In production all three files are required, must
// be readable, and the client certificate must not be expired.
func LoadCertificates(env Environment, certFile, keyFile, caFile string, now time.Time) (*CertificateStore, error) {
	if env == Sandbox {
		return &CertificateStore{env: env, tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12}}, nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, &CertificateError{Path: certFile, Reason: "load client key pair", Err: err}
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, &CertificateError{Path: certFile, Reason: "parse client certificate", Err: err}
	}
	if now.After(leaf.NotAfter) {
		return nil, &CertificateError{Path: certFile, Reason: "client certificate expired " + leaf.NotAfter.Format(time.RFC3339)}
	}
	if now.Before(leaf.NotBefore) {
		return nil, &CertificateError{Path: certFile, Reason: "client certificate not yet valid"}
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, &CertificateError{Path: caFile, Reason: "read CA bundle", Err: err}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, &CertificateError{Path: caFile, Reason: "CA bundle contains no valid certificates"}
	}

	return &CertificateStore{
		env:      env,
		notAfter: leaf.NotAfter,
		tlsConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
		},
	}, nil
}

// TLSConfig returns the ready-to-use TLS context. The returned value is
// shared; callers must not mutate it.
func (s *CertificateStore) TLSConfig() *tls.Config { return s.tlsConfig }

// Environment returns the environment the store was loaded for.
func (s *CertificateStore) Environment() Environment { return s.env }

// ExpiresAt returns the client certificate expiry, or the zero time in
// sandbox mode.
func (s *CertificateStore) ExpiresAt() time.Time { return s.notAfter }
