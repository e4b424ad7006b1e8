// Package envelope implements the hybrid encryption used for every payload
// sent to the key holder: AES-256-CBC for the data, RSA-OAEP(SHA-256) for the
// data key.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/canon"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize
)

var ErrBadPadding = errors.New("invalid PKCS#7 padding")

// KeyUnwrapper recovers a data key wrapped with RSA-OAEP(SHA-256).
type KeyUnwrapper interface {
	UnwrapKey(wrapped []byte) ([]byte, error)
}

// RSAUnwrapper unwraps with an in-memory private key.
type RSAUnwrapper struct {
	Key *rsa.PrivateKey
}

func (u RSAUnwrapper) UnwrapKey(wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), nil, u.Key, wrapped, nil)
}

// Sealer encrypts payloads for one public key. Rand defaults to crypto/rand.
type Sealer struct {
	Pub  *rsa.PublicKey
	Rand io.Reader
}

func (s Sealer) rand() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

// Seal encrypts plaintext under a fresh data key and IV.
func (s Sealer) Seal(plaintext []byte) (model.EncryptedEnvelope, error) {
	if s.Pub == nil {
		return model.EncryptedEnvelope{}, errors.New("no public key")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(s.rand(), key); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("generate data key: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(s.rand(), iv); err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return model.EncryptedEnvelope{}, err
	}
	padded := pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), s.rand(), s.Pub, key, nil)
	if err != nil {
		return model.EncryptedEnvelope{}, fmt.Errorf("wrap data key: %w", err)
	}

	return model.EncryptedEnvelope{
		EncryptedData:    base64.StdEncoding.EncodeToString(ct),
		EncryptedDataKey: base64.StdEncoding.EncodeToString(wrapped),
		DataIV:           base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Seal is Sealer{Pub: pub}.Seal(plaintext).
func Seal(plaintext []byte, pub *rsa.PublicKey) (model.EncryptedEnvelope, error) {
	return Sealer{Pub: pub}.Seal(plaintext)
}

// Open reverses Seal for a key holder.
func Open(env model.EncryptedEnvelope, u KeyUnwrapper) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedDataKey)
	if err != nil {
		return nil, fmt.Errorf("decode data key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.DataIV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ct))
	}

	key, err := u.UnwrapKey(wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return unpad(pt, aes.BlockSize)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}

// TaskConfigPayload is the plaintext shape of an encrypted task config.
type TaskConfigPayload struct {
	TaskConfig model.TaskConfig `json:"taskConfig"`
}

// BindingDataPayload is the plaintext shape of encrypted binding data.
type BindingDataPayload struct {
	BindingData binding.Data `json:"bindingData"`
}

// SealTaskConfig encrypts {"taskConfig": tc}.
func (s Sealer) SealTaskConfig(tc model.TaskConfig) (model.EncryptedEnvelope, *apperr.Error) {
	return s.sealJSON(TaskConfigPayload{TaskConfig: tc}, apperr.CodeEncryptTaskConfig, "Failed to encrypt task config")
}

// SealDocument encrypts the rendered document bytes.
func (s Sealer) SealDocument(doc []byte) (model.EncryptedEnvelope, *apperr.Error) {
	env, err := s.Seal(doc)
	if err != nil {
		return model.EncryptedEnvelope{}, apperr.Crypto(apperr.CodeEncryptDocument, "Failed to encrypt template data", err)
	}
	return env, nil
}

// SealBindingData encrypts {"bindingData": d}.
func (s Sealer) SealBindingData(d binding.Data) (model.EncryptedEnvelope, *apperr.Error) {
	return s.sealJSON(BindingDataPayload{BindingData: d}, apperr.CodeEncryptBindingData, "Failed to encrypt binding data")
}

func (s Sealer) sealJSON(v any, code apperr.Code, msg string) (model.EncryptedEnvelope, *apperr.Error) {
	b, err := canon.Encode(v)
	if err != nil {
		return model.EncryptedEnvelope{}, apperr.Crypto(code, msg, err)
	}
	env, err := s.Seal(b)
	if err != nil {
		return model.EncryptedEnvelope{}, apperr.Crypto(code, msg, err)
	}
	return env, nil
}
