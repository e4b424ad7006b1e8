// Package apperr carries the error taxonomy shared by every public operation:
// caller input, crypto, remote and internal failures, each with a stable code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindCallerInput
	KindCrypto
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindCallerInput:
		return "caller_input"
	case KindCrypto:
		return "crypto"
	case KindRemote:
		return "remote"
	default:
		return "internal"
	}
}

type Code string

const (
	CodeInvalidParams         Code = "INVALID_PARAMS"
	CodePhoneNumberCheckFail  Code = "PHONE_NUMBER_CHECK_FAIL"
	CodeInvalidTemplateData   Code = "INVALID_TEMPLATE_DATA"
	CodePwdProtectedPDF       Code = "PWD_PROTECTED_PDF"
	CodeSecuredPDF            Code = "SECURED_PDF"
	CodeSignedPDF             Code = "SIGNED_PDF"
	CodeMissingSignatureField Code = "MISSING_SIGNATURE_FIELD"
	CodeSignerNoOutOfRange    Code = "SIGNER_NO_OUT_OF_RANGE"
	CodeInvalidTemplate       Code = "INVALID_TEMPLATE"
	CodeMeetSignerLimit       Code = "MEET_SIGNER_LIMIT"
	CodeMeetFieldLimit        Code = "MEET_FIELD_LIMIT"
	CodeMeetPDFSizeLimit      Code = "MEET_PDF_SIZE_LIMIT"
	CodePhoneNumberDisabled   Code = "PHONE_NUMBER_DISABLED"
	CodeRenderFailed          Code = "RENDER_FAILED"
	CodeEncryptTaskConfig     Code = "ENCRYPT_TASK_CONFIG_FAILED"
	CodeEncryptDocument       Code = "ENCRYPT_DOCUMENT_FAILED"
	CodeEncryptBindingData    Code = "ENCRYPT_BINDING_DATA_FAILED"
	CodeDecryptTaskConfig     Code = "DECRYPT_TASK_CONFIG_FAILED"
	CodeRemoteCallFailed      Code = "REMOTE_CALL_FAILED"
	CodeUploadFailed          Code = "UPLOAD_FAILED"
	CodeCancelled             Code = "CANCELLED"
	CodeMissingConfiguration  Code = "MISSING_CONFIGURATION"
	CodeInternal              Code = "INTERNAL"
)

// Error is the single failure shape returned at operation boundaries.
// Index is the offending signer or field position, -1 when not applicable.
// Status is the remote HTTP status for KindRemote (0 on transport failure).
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Index   int
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindRemote }

// Public is the message safe to show to a caller.
func (e *Error) Public() string {
	if e.Kind == KindInternal {
		return "Internal error"
	}
	return e.Message
}

func CallerInput(code Code, index int, format string, args ...any) *Error {
	return &Error{Kind: KindCallerInput, Code: code, Index: index, Message: fmt.Sprintf(format, args...)}
}

func Crypto(code Code, msg string, err error) *Error {
	return &Error{Kind: KindCrypto, Code: code, Index: -1, Message: msg, Err: err}
}

func Remote(code Code, status int, msg string, err error) *Error {
	return &Error{Kind: KindRemote, Code: code, Index: -1, Status: status, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Index: -1, Message: "Internal error", Err: err}
}

// As extracts an *Error from err, wrapping anything else as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Result holds either a value or the error that prevented it.
type Result[T any] struct {
	Value T
	Err   *Error
}

func OK[T any](v T) Result[T] { return Result[T]{Value: v} }

func Fail[T any](err error) Result[T] { return Result[T]{Err: As(err)} }

func (r Result[T]) Ok() bool { return r.Err == nil }
