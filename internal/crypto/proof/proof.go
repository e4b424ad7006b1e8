// Package proof issues and opens signing proof files (SPF): a CMS SignedData
// whose attached content is the canonical JSON of the task evidence.
package proof

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"

	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/canon"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

const Version = "1"

var (
	ErrMalformed    = errors.New("malformed signing proof")
	ErrBadSignature = errors.New("invalid signing proof signature")
)

// Evidence is what the key holder attests to once a task is complete.
type Evidence struct {
	Version      string             `json:"version"`
	TaskID       string             `json:"taskID"`
	IssuedAt     string             `json:"issuedAt"`
	InOrder      bool               `json:"inOrder"`
	TaskConfig   model.TaskConfig   `json:"taskConfig"`
	TemplateInfo model.TemplateInfo `json:"templateInfo"`
	BindingData  binding.Record     `json:"bindingData"`
}

// NewEvidence stamps the evidence with the current version and issuedAt.
func NewEvidence(taskID string, tc model.TaskConfig, ti model.TemplateInfo, rec binding.Record, at time.Time) Evidence {
	return Evidence{
		Version:      Version,
		TaskID:       taskID,
		IssuedAt:     at.UTC().Format(time.RFC3339),
		InOrder:      rec.InOrder,
		TaskConfig:   tc,
		TemplateInfo: ti,
		BindingData:  rec,
	}
}

// Issue signs the canonical evidence with SHA-256 and attaches it.
func Issue(ev Evidence, signer crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate) ([]byte, error) {
	content, err := canon.Encode(ev)
	if err != nil {
		return nil, err
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	attr, err := signingCertAttribute(cert)
	if err != nil {
		return nil, err
	}
	cfg := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{{Type: oidSigningCertificateV2, Value: asn1.RawValue{FullBytes: attr}}},
	}
	if err := sd.AddSigner(cert, signer, cfg); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}
	for _, c := range chain {
		sd.AddCertificate(c)
	}
	out, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signature: %w", err)
	}
	return out, nil
}

// Opened is a verified proof.
type Opened struct {
	Evidence Evidence
	Signer   *x509.Certificate
}

// Open parses spf, checks its signature (and chain, when roots is non-nil)
// and decodes the evidence. Unknown evidence fields are rejected.
func Open(spf []byte, roots *x509.CertPool) (Opened, error) {
	p7, err := pkcs7.Parse(spf)
	if err != nil {
		return Opened{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(p7.Content) == 0 {
		return Opened{}, fmt.Errorf("%w: no attached evidence", ErrMalformed)
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return Opened{}, fmt.Errorf("%w: expected exactly one signer", ErrMalformed)
	}

	if roots != nil {
		err = p7.VerifyWithChain(roots)
	} else {
		err = p7.Verify()
	}
	if err != nil {
		return Opened{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var sc signingCertificateV2
	if err := p7.UnmarshalSignedAttribute(oidSigningCertificateV2, &sc); err != nil {
		return Opened{}, fmt.Errorf("%w: missing signingCertificateV2: %v", ErrBadSignature, err)
	}
	if !checkSigningCert(sc, signer) {
		return Opened{}, fmt.Errorf("%w: signingCertificateV2 does not match signer", ErrBadSignature)
	}

	dec := json.NewDecoder(bytes.NewReader(p7.Content))
	dec.DisallowUnknownFields()
	var ev Evidence
	if err := dec.Decode(&ev); err != nil {
		return Opened{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return Opened{}, fmt.Errorf("%w: trailing data after evidence", ErrMalformed)
	}
	if ev.Version != Version {
		return Opened{}, fmt.Errorf("%w: unsupported version %q", ErrMalformed, ev.Version)
	}
	if ev.TaskID == "" {
		return Opened{}, fmt.Errorf("%w: missing taskID", ErrMalformed)
	}
	return Opened{Evidence: ev, Signer: signer}, nil
}
