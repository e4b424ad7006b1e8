// Package binding computes the commitment that ties a task's config, its
// template and the rendered document together.
package binding

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/vocdoni/gofirma/esign/internal/canon"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

// NonceSize is the number of random bytes in a task nonce.
const NonceSize = 32

// Record is the pre-image of the binding hash. Field order is load-bearing.
type Record struct {
	InOrder          bool   `json:"inOrder"`
	TaskConfigHash   string `json:"taskConfigHash"`
	TemplateInfoHash string `json:"templateInfoHash"`
	TemplateDataHash string `json:"templateDataHash"`
}

// Data is the binding payload handed to the key holder.
type Data struct {
	InOrder          bool   `json:"inOrder"`
	TaskConfigHash   string `json:"taskConfigHash"`
	TemplateInfoHash string `json:"templateInfoHash"`
	TemplateDataHash string `json:"templateDataHash"`
	AccessKey        string `json:"accessKey"`
	BearerSecret     string `json:"bearerSecret"`
}

type Hashes struct {
	TaskConfigHash   string `json:"taskConfigHash"`
	TemplateInfoHash string `json:"templateInfoHash"`
	TemplateDataHash string `json:"templateDataHash"`
	BindingDataHash  string `json:"bindingDataHash"`
}

func (h Hashes) Record(inOrder bool) Record {
	return Record{
		InOrder:          inOrder,
		TaskConfigHash:   h.TaskConfigHash,
		TemplateInfoHash: h.TemplateInfoHash,
		TemplateDataHash: h.TemplateDataHash,
	}
}

// Compute hashes the three components and combines them with inOrder.
func Compute(inOrder bool, tc model.TaskConfig, ti model.TemplateInfo, rendered []byte) (Hashes, error) {
	tcHash, err := canon.HashObject(tc)
	if err != nil {
		return Hashes{}, fmt.Errorf("hash task config: %w", err)
	}
	tiHash, err := canon.HashObject(ti)
	if err != nil {
		return Hashes{}, fmt.Errorf("hash template info: %w", err)
	}
	h := Hashes{
		TaskConfigHash:   tcHash,
		TemplateInfoHash: tiHash,
		TemplateDataHash: canon.SHA256Hex(rendered),
	}
	h.BindingDataHash, err = Combine(h.Record(inOrder))
	if err != nil {
		return Hashes{}, err
	}
	return h, nil
}

// Combine returns the binding hash of r.
func Combine(r Record) (string, error) {
	h, err := canon.HashObject(r)
	if err != nil {
		return "", fmt.Errorf("hash binding record: %w", err)
	}
	return h, nil
}

// NewNonce returns NonceSize random bytes as lowercase hex.
func NewNonce() (string, error) {
	return newNonce(rand.Reader)
}

func newNonce(r io.Reader) (string, error) {
	b := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewData assembles the binding payload for h, deriving the access key.
func NewData(inOrder bool, h Hashes, bearerSecret string) Data {
	return Data{
		InOrder:          inOrder,
		TaskConfigHash:   h.TaskConfigHash,
		TemplateInfoHash: h.TemplateInfoHash,
		TemplateDataHash: h.TemplateDataHash,
		AccessKey:        AccessKey(bearerSecret, h.BindingDataHash),
		BearerSecret:     bearerSecret,
	}
}
