// Package template packs a field layout and its PDF into a reusable zip and
// reads it back.
package template

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
)

const (
	infoEntry = "template.json"
	pdfEntry  = "template.pdf"

	// maxEntrySize bounds decompression of a single template entry.
	maxEntrySize = 64 * 1024 * 1024
)

// Entries carry a fixed timestamp so the same inputs give the same archive.
var entryTime = time.Date(2019, time.September, 1, 0, 0, 0, 0, time.UTC)

type Template struct {
	PDFFileName string
	Info        model.TemplateInfo
	PDF         []byte
}

// CreateSend builds a multi-signer template. signerNo values must form the
// contiguous range 0..N and every signer needs a SIGNATURE field.
func CreateSend(fieldList []model.FieldInput, pdfFileName string, pdf []byte) ([]byte, error) {
	if err := model.Validate(model.CreateTemplateParams{FieldList: fieldList, PDFFileName: pdfFileName}); err != nil {
		return nil, err
	}
	if err := pdfcheck.Check(pdf, "pdfFileData"); err != nil {
		return nil, err
	}

	maxSignerNo := 0
	for _, f := range fieldList {
		if f.SignerNo > maxSignerNo {
			maxSignerNo = f.SignerNo
		}
	}
	groups := make([][]model.Field, maxSignerNo+1)
	for _, f := range fieldList {
		groups[f.SignerNo] = append(groups[f.SignerNo], f.FieldInfo)
	}
	info := model.TemplateInfo{Version: model.TemplateVersion, SignerList: make([]model.SignerFields, len(groups))}
	for i, g := range groups {
		if len(g) == 0 {
			return nil, apperr.CallerInput(apperr.CodeInvalidParams, i,
				"Invalid parameter: missing the No. %d signer's fieldInfo", i)
		}
		info.SignerList[i].FieldList = g
	}
	if i := model.MissingSignatureField(info); i >= 0 {
		return nil, apperr.CallerInput(apperr.CodeMissingSignatureField, i,
			"Invalid parameter: the No. %d signer requires at least one signature field", i)
	}
	return pack(pdfFileName, info, pdf)
}

// CreateBulkSend builds a single-signer template; signerNo is ignored.
func CreateBulkSend(fieldList []model.FieldInput, pdfFileName string, pdf []byte) ([]byte, error) {
	if err := model.Validate(model.CreateTemplateParams{FieldList: fieldList, PDFFileName: pdfFileName}); err != nil {
		return nil, err
	}
	if err := pdfcheck.Check(pdf, "pdfFileData"); err != nil {
		return nil, err
	}
	info, aerr := model.BuildBulkTemplateInfo(fieldList)
	if aerr != nil {
		return nil, aerr
	}
	return pack(pdfFileName, info, pdf)
}

func pack(pdfFileName string, info model.TemplateInfo, pdf []byte) ([]byte, error) {
	meta, err := json.Marshal(model.TemplateFile{PDFFileName: pdfFileName, TemplateInfo: info})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to marshal template: %w", err))
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range []struct {
		name string
		data []byte
	}{{infoEntry, meta}, {pdfEntry, pdf}} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: entryTime})
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("failed to add %s: %w", e.name, err))
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, apperr.Internal(fmt.Errorf("failed to write %s: %w", e.name, err))
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to finish template: %w", err))
	}
	return buf.Bytes(), nil
}

func invalidFormat() *apperr.Error {
	return apperr.CallerInput(apperr.CodeInvalidTemplate, -1, "Invalid parameter: invalid template format")
}

// Parse reads a template archive and schema-checks its metadata. The embedded
// PDF is not classified here; callers check it with their own wording.
func Parse(data []byte) (Template, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Template{}, invalidFormat()
	}
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}
	infoFile, ok := files[infoEntry]
	if !ok {
		return Template{}, apperr.CallerInput(apperr.CodeInvalidTemplate, -1, "Invalid parameter: missing template.json in template")
	}
	pdfFile, ok := files[pdfEntry]
	if !ok {
		return Template{}, apperr.CallerInput(apperr.CodeInvalidTemplate, -1, "Invalid parameter: missing template.pdf in template")
	}

	meta, err := readEntry(infoFile)
	if err != nil {
		return Template{}, invalidFormat()
	}
	pdf, err := readEntry(pdfFile)
	if err != nil {
		return Template{}, invalidFormat()
	}
	var tf model.TemplateFile
	if err := json.Unmarshal(meta, &tf); err != nil {
		return Template{}, invalidFormat()
	}
	if err := model.Validate(tf); err != nil {
		return Template{}, invalidFormat()
	}
	return Template{PDFFileName: tf.PDFFileName, Info: tf.TemplateInfo, PDF: pdf}, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxEntrySize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxEntrySize)
	}
	return b, nil
}
