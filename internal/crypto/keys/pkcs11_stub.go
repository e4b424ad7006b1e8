//go:build !cgo

package keys

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"io"

	"go.uber.org/zap"
)

var errNoCgo = errors.New("pkcs11 is unavailable in this build (cgo disabled)")

// PKCS11Source is unavailable when cgo is disabled.
type PKCS11Source struct {
	LibPath string
	Slot    uint
	Label   string
	PIN     string
	Log     *zap.Logger
}

func (s *PKCS11Source) PublicKey() (*rsa.PublicKey, error) { return nil, errNoCgo }

func (s *PKCS11Source) UnwrapKey([]byte) ([]byte, error) { return nil, errNoCgo }

func (s *PKCS11Source) Public() crypto.PublicKey { return nil }

func (s *PKCS11Source) Sign(io.Reader, []byte, crypto.SignerOpts) ([]byte, error) {
	return nil, errNoCgo
}
