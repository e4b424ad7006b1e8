package model

import "github.com/vocdoni/gofirma/esign/internal/apperr"

// BuildTemplateInfo distributes fieldList over signerCount signers by signerNo.
func BuildTemplateInfo(fieldList []FieldInput, signerCount int) (TemplateInfo, *apperr.Error) {
	ti := TemplateInfo{Version: TemplateVersion, SignerList: make([]SignerFields, signerCount)}
	for i := range ti.SignerList {
		ti.SignerList[i].FieldList = []Field{}
	}
	for i, fi := range fieldList {
		if fi.SignerNo >= signerCount {
			return TemplateInfo{}, apperr.CallerInput(apperr.CodeSignerNoOutOfRange, i,
				"Invalid parameter: fieldList.%d.signerNo is out of range", i)
		}
		ti.SignerList[fi.SignerNo].FieldList = append(ti.SignerList[fi.SignerNo].FieldList, fi.FieldInfo)
	}
	if i := MissingSignatureField(ti); i >= 0 {
		return TemplateInfo{}, apperr.CallerInput(apperr.CodeMissingSignatureField, i,
			"Invalid parameter: the No. %d signer requires at least one signature field", i)
	}
	return ti, nil
}

// BuildBulkTemplateInfo puts every field on the single bulk signer.
func BuildBulkTemplateInfo(fieldList []FieldInput) (TemplateInfo, *apperr.Error) {
	fields := make([]Field, 0, len(fieldList))
	for _, fi := range fieldList {
		fields = append(fields, fi.FieldInfo)
	}
	ti := TemplateInfo{Version: TemplateVersion, SignerList: []SignerFields{{FieldList: fields}}}
	if MissingSignatureField(ti) >= 0 {
		return TemplateInfo{}, apperr.CallerInput(apperr.CodeMissingSignatureField, 0,
			"Invalid parameter: bulk signers require at least one signature field")
	}
	return ti, nil
}

// MissingSignatureField returns the first signer without a SIGNATURE field, or -1.
func MissingSignatureField(ti TemplateInfo) int {
	for i, sf := range ti.SignerList {
		found := false
		for _, f := range sf.FieldList {
			if f.Type == FieldSignature {
				found = true
				break
			}
		}
		if !found {
			return i
		}
	}
	return -1
}
