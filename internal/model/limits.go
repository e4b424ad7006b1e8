package model

import (
	"sort"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
)

// LimitViolation describes the first limit a request exceeds. Callers word the
// message, which differs between send flows.
type LimitViolation struct {
	Code  apperr.Code
	Limit int
	Index int
}

// CheckLimits applies the service limits in the service's own order: signer
// count, per-signer field count per type, document size, then phone numbers.
func CheckLimits(lc LimitConfig, signers []SignerInfo, signerFields []SignerFields, pdfSize int, bulk bool) *LimitViolation {
	maxSigners := lc.MaxSignerNumber
	if bulk {
		maxSigners = lc.MaxBulkSendSignerNumber
	}
	if len(signers) > maxSigners {
		return &LimitViolation{Code: apperr.CodeMeetSignerLimit, Limit: maxSigners, Index: -1}
	}

	for i, sf := range signerFields {
		counts := make(map[FieldType]int)
		for _, f := range sf.FieldList {
			counts[f.Type]++
		}
		types := make([]int, 0, len(counts))
		for t := range counts {
			types = append(types, int(t))
		}
		sort.Ints(types)
		for _, t := range types {
			if counts[FieldType(t)] > lc.MaxFieldPerType {
				return &LimitViolation{Code: apperr.CodeMeetFieldLimit, Limit: lc.MaxFieldPerType, Index: i}
			}
		}
	}

	if pdfSize > lc.MaxFileSizeInMb*1024*1024 {
		return &LimitViolation{Code: apperr.CodeMeetPDFSizeLimit, Limit: lc.MaxFileSizeInMb, Index: -1}
	}

	if lc.EnablePhoneNo != nil && !*lc.EnablePhoneNo {
		for i, s := range signers {
			if s.PhoneNumber != "" {
				return &LimitViolation{Code: apperr.CodePhoneNumberDisabled, Index: i}
			}
		}
	}
	return nil
}
