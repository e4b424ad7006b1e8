package certs

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
)

func TestSummarize(t *testing.T) {
	cert := &x509.Certificate{
		Raw:          []byte{1, 2, 3},
		SerialNumber: big.NewInt(0xbeef),
		Subject: pkix.Name{
			CommonName:   "  Signing   Proof  Issuer ",
			Organization: []string{"Lets eSign"},
			Names: []pkix.AttributeTypeAndValue{
				{Type: oidOrganizationIdentifier, Value: "VATTW-12345678"},
				{Type: oidEmailAddress, Value: "kms@example.com"},
			},
		},
		Issuer:    pkix.Name{CommonName: "Root CA"},
		NotBefore: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2026, 2, 22, 9, 10, 11, 0, time.UTC),
	}

	s := Summarize(cert)
	assert.Equal(t, "Signing Proof Issuer", s.CommonName)
	assert.Equal(t, "Lets eSign", s.Organization)
	assert.Equal(t, "12345678", s.OrganizationID)
	assert.Equal(t, "kms@example.com", s.Email)
	assert.Equal(t, "Root CA", s.Issuer)
	assert.Equal(t, "BEEF", s.Serial)
	assert.Equal(t, "2026-02-22T09:10:11Z", s.NotAfter)
	assert.Len(t, s.Fingerprint, 64)
}

func TestLoadPool(t *testing.T) {
	h, err := keys.GenerateHolder("root", 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	bundle := filepath.Join(dir, "roots.pem")
	data := append([]byte("# comment\n"), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: h.Cert.Raw})...)
	require.NoError(t, os.WriteFile(bundle, data, 0o600))
	pool, err := LoadPool(bundle)
	require.NoError(t, err)
	_, err = h.Cert.Verify(x509.VerifyOptions{Roots: pool})
	assert.NoError(t, err)

	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("nothing"), 0o600))
	_, err = LoadPool(empty)
	assert.ErrorIs(t, err, ErrNoCertificates)
}
