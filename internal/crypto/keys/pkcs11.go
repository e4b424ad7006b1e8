//go:build cgo

package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/miekg/pkcs11"
	"go.uber.org/zap"
)

// PKCS11Source keeps the key holder's RSA key pair on a token. Objects are
// looked up by CKA_LABEL.
type PKCS11Source struct {
	LibPath string
	Slot    uint
	Label   string
	PIN     string
	Log     *zap.Logger

	pub *rsa.PublicKey
}

func (s *PKCS11Source) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *PKCS11Source) withSession(fn func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error) error {
	p := pkcs11.New(s.LibPath)
	if p == nil {
		return fmt.Errorf("failed to load PKCS#11 lib %s", s.LibPath)
	}
	defer p.Destroy()
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PKCS#11 lib: %w", err)
	}
	defer p.Finalize()

	session, err := p.OpenSession(s.Slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session on slot %d: %w", s.Slot, err)
	}
	defer p.CloseSession(session)

	if s.PIN != "" {
		if err := p.Login(session, pkcs11.CKU_USER, s.PIN); err != nil {
			var perr pkcs11.Error
			if !errors.As(err, &perr) || perr != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
				return fmt.Errorf("failed to log in to slot %d: %w", s.Slot, err)
			}
		}
		defer p.Logout(session)
	}
	return fn(p, session)
}

func (s *PKCS11Source) findObject(p *pkcs11.Ctx, session pkcs11.SessionHandle, class uint) (pkcs11.ObjectHandle, error) {
	if err := p.FindObjectsInit(session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.Label),
	}); err != nil {
		return 0, fmt.Errorf("failed to search token: %w", err)
	}
	objs, _, err := p.FindObjects(session, 1)
	_ = p.FindObjectsFinal(session)
	if err != nil || len(objs) == 0 {
		return 0, fmt.Errorf("key %q not found in slot %d", s.Label, s.Slot)
	}
	return objs[0], nil
}

// PublicKey reads the modulus and exponent of the labelled public key. The
// key is cached after the first read.
func (s *PKCS11Source) PublicKey() (*rsa.PublicKey, error) {
	if s.pub != nil {
		return s.pub, nil
	}
	var pub *rsa.PublicKey
	err := s.withSession(func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		obj, err := s.findObject(p, session, pkcs11.CKO_PUBLIC_KEY)
		if err != nil {
			return err
		}
		attrs, err := p.GetAttributeValue(session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
		})
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}
		n := new(big.Int).SetBytes(attrs[0].Value)
		e := new(big.Int).SetBytes(attrs[1].Value)
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return fmt.Errorf("public exponent out of range")
		}
		pub = &rsa.PublicKey{N: n, E: int(e.Int64())}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Debug("read public key from token", zap.Uint("slot", s.Slot), zap.Int("bits", pub.N.BitLen()))
	s.pub = pub
	return pub, nil
}

// UnwrapKey decrypts a data key wrapped with RSA-OAEP(SHA-256) on the token.
func (s *PKCS11Source) UnwrapKey(wrapped []byte) ([]byte, error) {
	var out []byte
	err := s.withSession(func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		obj, err := s.findObject(p, session, pkcs11.CKO_PRIVATE_KEY)
		if err != nil {
			return err
		}
		params := pkcs11.NewOAEPParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, pkcs11.CKZ_DATA_SPECIFIED, nil)
		mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, params)}
		if err := p.DecryptInit(session, mech, obj); err != nil {
			return fmt.Errorf("failed to start unwrap: %w", err)
		}
		out, err = p.Decrypt(session, wrapped)
		if err != nil {
			return fmt.Errorf("failed to unwrap data key: %w", err)
		}
		return nil
	})
	return out, err
}

type digestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// Public satisfies crypto.Signer; it returns nil when the token is unreachable.
func (s *PKCS11Source) Public() crypto.PublicKey {
	pub, err := s.PublicKey()
	if err != nil {
		return nil
	}
	return pub
}

// Sign produces a PKCS#1 v1.5 signature with CKM_RSA_PKCS over the DigestInfo
// of digest.
func (s *PKCS11Source) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	switch opts.HashFunc() {
	case crypto.SHA256:
		oid = oidSHA256
	case crypto.SHA384:
		oid = oidSHA384
	case crypto.SHA512:
		oid = oidSHA512
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %v", opts.HashFunc())
	}
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, fmt.Errorf("RSA-PSS is not supported by the token signer")
	}
	di, err := asn1.Marshal(digestInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		Digest:    digest,
	})
	if err != nil {
		return nil, err
	}

	var sig []byte
	err = s.withSession(func(p *pkcs11.Ctx, session pkcs11.SessionHandle) error {
		obj, err := s.findObject(p, session, pkcs11.CKO_PRIVATE_KEY)
		if err != nil {
			return err
		}
		if err := p.SignInit(session, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}, obj); err != nil {
			return fmt.Errorf("failed to start signing: %w", err)
		}
		sig, err = p.Sign(session, di)
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger().Debug("token signing failed", zap.Error(err))
		return nil, err
	}
	return sig, nil
}
