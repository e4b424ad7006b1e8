package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

var (
	ErrPasswordRequired = errors.New("identity password required")
	ErrWrongPassword    = errors.New("identity password incorrect")
	ErrInvalidFile      = errors.New("invalid identity file")
	ErrUnsupported      = errors.New("unsupported identity key type")
)

// FriendlyError returns a caller-facing message for identity load failures.
func FriendlyError(err error) string {
	switch {
	case errors.Is(err, ErrPasswordRequired):
		return "The key holder identity requires a password."
	case errors.Is(err, ErrWrongPassword):
		return "The key holder identity password is incorrect."
	case errors.Is(err, ErrInvalidFile):
		return "The key holder identity is not a valid .p12/.pfx file or is corrupted."
	case errors.Is(err, ErrUnsupported):
		return "The key holder identity must hold an RSA key."
	default:
		return "Failed to load the key holder identity."
	}
}

// Holder is the key holder identity: an RSA key that unwraps envelope keys and
// signs proofs, with its certificate.
type Holder struct {
	Key   *rsa.PrivateKey
	Cert  *x509.Certificate
	Chain []*x509.Certificate
}

func (h *Holder) PublicKey() *rsa.PublicKey { return &h.Key.PublicKey }

// Signer returns the signing half of the identity.
func (h *Holder) Signer() crypto.Signer { return h.Key }

// UnwrapKey decrypts an RSA-OAEP(SHA-256) wrapped data key.
func (h *Holder) UnwrapKey(wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), nil, h.Key, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}
	return key, nil
}

// Fingerprint returns the SHA-256 fingerprint of a certificate.
func Fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

func LoadPKCS12(path, password string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	return ParsePKCS12(data, password)
}

// ParsePKCS12 decodes a PKCS#12 identity, retrying with the empty password for
// password-less exports.
func ParsePKCS12(data []byte, password string) (*Holder, error) {
	passwords := []string{password}
	if password != "" {
		passwords = append(passwords, "")
	}

	var wrongPassword bool
	var firstOther error
	for _, pass := range passwords {
		priv, cert, chain, err := pkcs12.DecodeChain(data, pass)
		if err == nil {
			key, ok := priv.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrUnsupported, priv)
			}
			return &Holder{Key: key, Cert: cert, Chain: chain}, nil
		}
		if isIncorrectPasswordError(err) {
			wrongPassword = true
		} else if firstOther == nil {
			firstOther = err
		}
	}
	if wrongPassword && firstOther == nil {
		if strings.TrimSpace(password) == "" {
			return nil, ErrPasswordRequired
		}
		return nil, ErrWrongPassword
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidFile, firstOther)
}

func isIncorrectPasswordError(err error) bool {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "decryption password incorrect") ||
		strings.Contains(msg, "incorrect padding")
}

// EncodePKCS12 exports the identity with modern PKCS#12 algorithms.
func (h *Holder) EncodePKCS12(password string) ([]byte, error) {
	pfx, err := pkcs12.Modern.Encode(h.Key, h.Cert, h.Chain, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return pfx, nil
}

// GenerateHolder creates a self-signed RSA identity for development and tests.
func GenerateHolder(commonName string, bits int) (*Holder, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"esign"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &Holder{Key: key, Cert: cert}, nil
}
