package template

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdf/pdftest"
)

func field(signerNo int, typ model.FieldType) model.FieldInput {
	return model.FieldInput{SignerNo: signerNo, FieldInfo: model.Field{PageNo: 1, X: 10, Y: 10, Height: 20, Type: typ}}
}

func TestCreateAndParse(t *testing.T) {
	doc := pdftest.Build(pdftest.Options{})
	fields := []model.FieldInput{field(1, model.FieldSignature), field(0, model.FieldName), field(0, model.FieldSignature)}

	zipped, err := CreateSend(fields, "contract.pdf", doc)
	require.NoError(t, err)
	again, err := CreateSend(fields, "contract.pdf", doc)
	require.NoError(t, err)
	assert.Equal(t, zipped, again)

	tpl, err := Parse(zipped)
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", tpl.PDFFileName)
	assert.Equal(t, doc, tpl.PDF)
	require.Len(t, tpl.Info.SignerList, 2)
	assert.Equal(t, model.TemplateVersion, tpl.Info.Version)
	assert.Equal(t, model.FieldName, tpl.Info.SignerList[0].FieldList[0].Type)
	assert.Len(t, tpl.Info.SignerList[1].FieldList, 1)
}

func TestCreateSendErrors(t *testing.T) {
	doc := pdftest.Build(pdftest.Options{})

	_, err := CreateSend([]model.FieldInput{field(0, model.FieldSignature), field(2, model.FieldSignature)}, "a.pdf", doc)
	e := apperr.As(err)
	assert.Equal(t, "Invalid parameter: missing the No. 1 signer's fieldInfo", e.Message)

	_, err = CreateSend([]model.FieldInput{field(0, model.FieldSignature), field(1, model.FieldDate)}, "a.pdf", doc)
	assert.Equal(t, "Invalid parameter: the No. 1 signer requires at least one signature field", apperr.As(err).Message)

	_, err = CreateSend([]model.FieldInput{field(0, model.FieldSignature)}, "a.pdf", []byte("not a pdf"))
	assert.Equal(t, apperr.CodeInvalidTemplateData, apperr.As(err).Code)

	_, err = CreateSend([]model.FieldInput{field(0, model.FieldSignature)}, "", doc)
	assert.Equal(t, apperr.CodeInvalidParams, apperr.As(err).Code)
}

func TestCreateBulkSend(t *testing.T) {
	doc := pdftest.Build(pdftest.Options{})
	zipped, err := CreateBulkSend([]model.FieldInput{field(3, model.FieldSignature), field(0, model.FieldEmail)}, "bulk.pdf", doc)
	require.NoError(t, err)
	tpl, err := Parse(zipped)
	require.NoError(t, err)
	require.Len(t, tpl.Info.SignerList, 1)
	assert.Len(t, tpl.Info.SignerList[0].FieldList, 2)

	_, err = CreateBulkSend([]model.FieldInput{field(0, model.FieldEmail)}, "bulk.pdf", doc)
	assert.Equal(t, "Invalid parameter: bulk signers require at least one signature field", apperr.As(err).Message)
}

func zipOf(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseErrors(t *testing.T) {
	valid := `{"pdfFileName":"a.pdf","templateInfo":{"version":"1.1","signerList":[{"fieldList":[{"pageNo":1,"x":0,"y":0,"height":12,"type":0}]}]}}`
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"not a zip", []byte("PK?"), "Invalid parameter: invalid template format"},
		{"no json", zipOf(t, map[string]string{"template.pdf": "x"}), "Invalid parameter: missing template.json in template"},
		{"no pdf", zipOf(t, map[string]string{"template.json": valid}), "Invalid parameter: missing template.pdf in template"},
		{"bad json", zipOf(t, map[string]string{"template.json": "{", "template.pdf": "x"}), "Invalid parameter: invalid template format"},
		{"bad version", zipOf(t, map[string]string{
			"template.json": `{"pdfFileName":"a.pdf","templateInfo":{"version":"2.0","signerList":[{"fieldList":[{"pageNo":1,"x":0,"y":0,"height":12,"type":0}]}]}}`,
			"template.pdf":  "x",
		}), "Invalid parameter: invalid template format"},
		{"height too small", zipOf(t, map[string]string{
			"template.json": `{"pdfFileName":"a.pdf","templateInfo":{"version":"1.1","signerList":[{"fieldList":[{"pageNo":1,"x":0,"y":0,"height":5,"type":0}]}]}}`,
			"template.pdf":  "x",
		}), "Invalid parameter: invalid template format"},
		{"no signers", zipOf(t, map[string]string{
			"template.json": `{"pdfFileName":"a.pdf","templateInfo":{"version":"1.1","signerList":[]}}`,
			"template.pdf":  "x",
		}), "Invalid parameter: invalid template format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			e := apperr.As(err)
			require.NotNil(t, e)
			assert.Equal(t, apperr.CodeInvalidTemplate, e.Code)
			assert.Equal(t, tt.want, e.Message)
		})
	}

	tpl, err := Parse(zipOf(t, map[string]string{"template.json": valid, "template.pdf": "x"}))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), tpl.PDF)
}
