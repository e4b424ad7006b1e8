// Package pdfcheck decides whether an input PDF may enter the signing flow.
package pdfcheck

import (
	"bytes"
	"errors"
	"strings"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/pdf"
)

type Status int

const (
	OK Status = iota
	Invalid
	PasswordProtected
	Encrypted
	AlreadySigned
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Invalid:
		return "INVALID"
	case PasswordProtected:
		return "PASSWORD_PROTECTED"
	case Encrypted:
		return "ENCRYPTED"
	case AlreadySigned:
		return "ALREADY_SIGNED"
	}
	return "UNKNOWN"
}

const (
	eofMarker = "%%EOF"
	markerKey = "letsesign"

	markerSuffix = "\n" + markerKey + "=true"
)

// Classify inspects the structure first and the trailing marker second, so an
// encrypted file carrying a marker is reported as encrypted. Security
// handlers other than the standard one make the file unreadable.
func Classify(data []byte) Status {
	doc, err := pdf.Open(data)
	switch {
	case errors.Is(err, pdf.ErrPasswordRequired):
		return PasswordProtected
	case err != nil:
		return Invalid
	case doc.Encrypted():
		return Encrypted
	case HasSignedMarker(data):
		return AlreadySigned
	}
	return OK
}

// HasSignedMarker looks for "letsesign=true" among the ";" separated
// key=value pairs that follow the last %%EOF.
func HasSignedMarker(data []byte) bool {
	i := bytes.LastIndex(data, []byte(eofMarker))
	if i < 0 {
		return false
	}
	start := i + len(eofMarker) + 1
	if start > len(data) {
		return false
	}
	extra := strings.TrimSpace(string(data[start:]))
	for _, pair := range strings.Split(extra, ";") {
		kv := strings.Split(pair, "=")
		if len(kv) == 2 && kv[0] == markerKey && kv[1] == "true" {
			return true
		}
	}
	return false
}

// StripMarker undoes AppendMarker. Anything else is returned unchanged.
func StripMarker(data []byte) []byte {
	if bytes.HasSuffix(data, []byte(markerSuffix)) && HasSignedMarker(data) {
		return data[:len(data)-len(markerSuffix)]
	}
	return data
}

// AppendMarker adds the signed marker on its own line after the document.
// The original bytes are kept as they are, whatever follows their %%EOF.
func AppendMarker(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(markerSuffix))
	out = append(out, data...)
	return append(out, markerSuffix...)
}

// Check maps a classification to the caller-facing error. subject names the
// input in the message, e.g. "pdfFileData" or "document in template".
func Check(data []byte, subject string) *apperr.Error {
	switch Classify(data) {
	case Invalid:
		return apperr.CallerInput(apperr.CodeInvalidTemplateData, -1, "Invalid parameter: %s is not a valid PDF", subject)
	case PasswordProtected:
		return apperr.CallerInput(apperr.CodePwdProtectedPDF, -1, "Invalid parameter: %s is a password protected PDF", subject)
	case Encrypted:
		return apperr.CallerInput(apperr.CodeSecuredPDF, -1, "Invalid parameter: %s is a secured PDF", subject)
	case AlreadySigned:
		return apperr.CallerInput(apperr.CodeSignedPDF, -1, "Invalid parameter: %s is a signed PDF", subject)
	}
	return nil
}
