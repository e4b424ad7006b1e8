// Package verify reconstructs the binding commitment from a signed document
// and its signing proof.
package verify

import (
	"crypto/x509"
	"errors"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/canon"
	"github.com/vocdoni/gofirma/esign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/esign/internal/crypto/proof"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
)

type Status string

const (
	Verified              Status = "VERIFIED"
	Mismatch              Status = "MISMATCH"
	Unverified            Status = "UNVERIFIED"
	MalformedProof        Status = "MALFORMED_PROOF"
	InvalidProofSignature Status = "INVALID_PROOF_SIGNATURE"
)

// Component names reported in mismatches.
const (
	ComponentTemplateData = "templateDataHash"
	ComponentTemplateInfo = "templateInfoHash"
	ComponentTaskConfig   = "taskConfigHash"
	ComponentInOrder      = "inOrder"
	ComponentBinding      = "bindingDataHash"
)

type ComponentMismatch struct {
	Component string `json:"component"`
	Expected  string `json:"expected"`
	Computed  string `json:"computed"`
}

type SignerEntry struct {
	Name        string `json:"name"`
	EmailAddr   string `json:"emailAddr"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type Result struct {
	Status     Status              `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	Hashes     binding.Hashes      `json:"hashes"`
	InOrder    bool                `json:"inOrder"`
	Mismatches []ComponentMismatch `json:"mismatches,omitempty"`
	TaskID     string              `json:"taskID,omitempty"`
	FileName   string              `json:"fileName,omitempty"`
	Signers    []SignerEntry       `json:"signers,omitempty"`
	Signer     *certs.Summary      `json:"proofSigner,omitempty"`
}

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Verifier is safe for concurrent use.
type Verifier struct {
	roots *x509.CertPool
	log   *zap.Logger
}

// New returns a verifier. With nil roots only the proof's own signature is
// checked; otherwise the signer must chain to roots.
func New(roots *x509.CertPool, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{roots: roots, log: log}
}

// AutoVerify checks pdf and spf against a known binding hash.
func (v *Verifier) AutoVerify(bindingDataHash string, pdf, spf []byte) (Result, error) {
	if !hashRe.MatchString(bindingDataHash) {
		return Result{}, apperr.CallerInput(apperr.CodeInvalidParams, -1,
			"Invalid parameter: bindingDataHash is not a valid SHA-256 hex digest")
	}
	res, err := v.reconstruct(pdf, spf)
	if err != nil || res.Status != "" {
		return res, err
	}
	if res.Hashes.BindingDataHash != bindingDataHash {
		res.Mismatches = append(res.Mismatches, ComponentMismatch{
			Component: ComponentBinding,
			Expected:  bindingDataHash,
			Computed:  res.Hashes.BindingDataHash,
		})
	}
	if len(res.Mismatches) > 0 {
		res.Status = Mismatch
	} else {
		res.Status = Verified
	}
	v.log.Debug("auto verify", zap.String("status", string(res.Status)), zap.String("taskID", res.TaskID))
	return res, nil
}

// SemiVerify reconstructs the hashes for a human to compare against an out
// of band reference. It still reports inconsistencies inside the proof.
func (v *Verifier) SemiVerify(pdf, spf []byte) (Result, error) {
	res, err := v.reconstruct(pdf, spf)
	if err != nil || res.Status != "" {
		return res, err
	}
	if len(res.Mismatches) > 0 {
		res.Status = Mismatch
	} else {
		res.Status = Unverified
	}
	v.log.Debug("semi verify", zap.String("status", string(res.Status)), zap.String("taskID", res.TaskID))
	return res, nil
}

// reconstruct opens the proof and recomputes every component. A non-empty
// Status in the result means the proof itself was rejected.
func (v *Verifier) reconstruct(pdf, spf []byte) (Result, error) {
	if len(pdf) == 0 {
		return Result{}, apperr.CallerInput(apperr.CodeInvalidParams, -1, "Invalid parameter: pdfBufferB64 is empty")
	}
	if len(spf) == 0 {
		return Result{}, apperr.CallerInput(apperr.CodeInvalidParams, -1, "Invalid parameter: spfBufferB64 is empty")
	}

	opened, err := proof.Open(spf, v.roots)
	if err != nil {
		status := MalformedProof
		if errors.Is(err, proof.ErrBadSignature) {
			status = InvalidProofSignature
		}
		v.log.Debug("proof rejected", zap.String("status", string(status)), zap.Error(err))
		return Result{Status: status, Reason: err.Error()}, nil
	}
	ev := opened.Evidence
	signer := certs.Summarize(opened.Signer)

	tcHash, err := canon.HashObject(ev.TaskConfig)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	tiHash, err := canon.HashObject(ev.TemplateInfo)
	if err != nil {
		return Result{}, apperr.Internal(err)
	}
	h := binding.Hashes{
		TaskConfigHash:   tcHash,
		TemplateInfoHash: tiHash,
		TemplateDataHash: canon.SHA256Hex(pdfcheck.StripMarker(pdf)),
	}
	h.BindingDataHash, err = binding.Combine(h.Record(ev.InOrder))
	if err != nil {
		return Result{}, apperr.Internal(err)
	}

	res := Result{
		Hashes:   h,
		InOrder:  ev.InOrder,
		TaskID:   ev.TaskID,
		FileName: ev.TaskConfig.FileName,
		Signer:   &signer,
	}
	for _, s := range ev.TaskConfig.SignerInfoList {
		res.Signers = append(res.Signers, SignerEntry{Name: s.Name, EmailAddr: s.EmailAddr, PhoneNumber: s.PhoneNumber})
	}

	rec := ev.BindingData
	for _, c := range []ComponentMismatch{
		{ComponentTemplateData, rec.TemplateDataHash, h.TemplateDataHash},
		{ComponentTemplateInfo, rec.TemplateInfoHash, h.TemplateInfoHash},
		{ComponentTaskConfig, rec.TaskConfigHash, h.TaskConfigHash},
		{ComponentInOrder, strconv.FormatBool(rec.InOrder), strconv.FormatBool(ev.InOrder)},
	} {
		if c.Expected != c.Computed {
			res.Mismatches = append(res.Mismatches, c)
		}
	}
	return res, nil
}
