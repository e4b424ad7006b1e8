package proof

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// id-aa-signingCertificateV2 (RFC 5035)
var (
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidSHA256               = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	CertHash      []byte
}

func signingCertAttribute(cert *x509.Certificate) ([]byte, error) {
	sum := sha256.Sum256(cert.Raw)
	b, err := asn1.Marshal(signingCertificateV2{Certs: []essCertIDv2{{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidSHA256, Parameters: asn1.NullRawValue},
		CertHash:      sum[:],
	}}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signingCertificateV2: %w", err)
	}
	return b, nil
}

// checkSigningCert reports whether the attribute binds cert.
func checkSigningCert(v signingCertificateV2, cert *x509.Certificate) bool {
	sum := sha256.Sum256(cert.Raw)
	for _, id := range v.Certs {
		if id.HashAlgorithm.Algorithm.Equal(oidSHA256) && bytes.Equal(id.CertHash, sum[:]) {
			return true
		}
	}
	return false
}
