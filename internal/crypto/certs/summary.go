// Package certs describes the certificates that sign proofs and loads the
// trust roots they are checked against.
package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	oidEmailAddress           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}
)

var ErrNoCertificates = errors.New("no certificates found")

// Summary is the human-facing description of a proof signer.
type Summary struct {
	CommonName     string `json:"commonName"`
	Organization   string `json:"organization,omitempty"`
	OrganizationID string `json:"organizationID,omitempty"`
	Email          string `json:"email,omitempty"`
	Issuer         string `json:"issuer"`
	Serial         string `json:"serial"`
	NotBefore      string `json:"notBefore"`
	NotAfter       string `json:"notAfter"`
	Fingerprint    string `json:"fingerprint"`
}

func Summarize(cert *x509.Certificate) Summary {
	sum := sha256.Sum256(cert.Raw)
	s := Summary{
		CommonName:   normalizeSpace(cert.Subject.CommonName),
		Organization: normalizeSpace(strings.Join(cert.Subject.Organization, ", ")),
		Issuer:       normalizeSpace(cert.Issuer.CommonName),
		Serial:       strings.ToUpper(cert.SerialNumber.Text(16)),
		NotBefore:    cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:     cert.NotAfter.UTC().Format(time.RFC3339),
		Fingerprint:  hex.EncodeToString(sum[:]),
	}
	if len(cert.EmailAddresses) > 0 {
		s.Email = cert.EmailAddresses[0]
	}
	for _, name := range cert.Subject.Names {
		val, ok := name.Value.(string)
		if !ok {
			continue
		}
		switch {
		case name.Type.Equal(oidEmailAddress) && s.Email == "":
			s.Email = strings.TrimSpace(val)
		case name.Type.Equal(oidOrganizationIdentifier):
			s.OrganizationID = extractOrgID(val)
		}
	}
	if s.Issuer == "" {
		s.Issuer = normalizeSpace(cert.Issuer.String())
	}
	return s
}

// LoadPool reads every CERTIFICATE block of a PEM bundle.
func LoadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust roots: %w", err)
	}
	pool := x509.NewCertPool()
	n := 0
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trust root: %w", err)
		}
		pool.AddCert(cert)
		n++
	}
	if n == 0 {
		return nil, ErrNoCertificates
	}
	return pool, nil
}

// extractOrgID strips the ETSI "VATxx-" / "NTRxx-" scheme prefix.
func extractOrgID(s string) string {
	v := strings.ToUpper(normalizeSpace(s))
	if len(v) > 6 && v[5] == '-' && (strings.HasPrefix(v, "VAT") || strings.HasPrefix(v, "NTR")) {
		return v[6:]
	}
	return v
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
