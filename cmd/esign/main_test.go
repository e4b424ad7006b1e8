package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/crypto/proof"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdf/pdftest"
	"github.com/vocdoni/gofirma/esign/internal/template"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ESIGN_KEYS_PUBLIC_KEY_FILE", filepath.Join(t.TempDir(), "absent.pem"))
	t.Setenv("ESIGN_RENDER_REQUIRE_CJK", "false")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, path string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func fields() []model.FieldInput {
	return []model.FieldInput{{SignerNo: 0, FieldInfo: model.Field{PageNo: 1, X: 40, Y: 40, Height: 20, Type: model.FieldSignature}}}
}

func TestTemplateCreateBulk(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "notice.pdf")
	require.NoError(t, os.WriteFile(pdfPath, pdftest.Build(pdftest.Options{}), 0o600))
	out := filepath.Join(dir, "bulk.zip")

	_, err := run(t, "template", "create-bulk", "--fields", writeJSON(t, filepath.Join(dir, "fields.json"), fields()), "--pdf", pdfPath, "--out", out)
	require.NoError(t, err)
	archive, err := os.ReadFile(out)
	require.NoError(t, err)
	tpl, err := template.Parse(archive)
	require.NoError(t, err)
	assert.Equal(t, "notice.pdf", tpl.PDFFileName)
	assert.Len(t, tpl.Info.SignerList, 1)
}

func TestSendDryRunAgainstRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1909/api/get-config" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(model.LimitConfig{MaxSignerNumber: 5, MaxBulkSendSignerNumber: 5, MaxFieldPerType: 5, MaxFileSizeInMb: 5})
	}))
	defer srv.Close()

	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdfPath, pdftest.Build(pdftest.Options{}), 0o600))
	task := writeJSON(t, filepath.Join(dir, "task.json"), map[string]any{
		"taskConfig":  model.TaskInput{SignerInfoList: []model.SignerInfo{{Name: "Ann", EmailAddr: "ann@example.com", Locale: "en-US"}}},
		"fieldList":   fields(),
		"pdfFileName": "doc.pdf",
	})

	out, err := run(t, "--api-url", srv.URL, "send", "--task", task, "--pdf", pdfPath, "--dry-run")
	require.NoError(t, err, out)
	var res model.SendResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.BindingDataHash, 64)
	assert.Empty(t, res.TaskID)

	_, err = run(t, "--api-url", srv.URL, "send", "--task", task, "--pdf", pdfPath)
	assert.ErrorContains(t, err, "invalid KMS public key")
}

func TestVerifyCommand(t *testing.T) {
	h, err := keys.GenerateHolder("holder", 2048)
	require.NoError(t, err)
	tc := model.NewTaskConfig("doc.pdf", model.TaskOptions{}, []model.SignerInfo{{Name: "Ann", EmailAddr: "ann@example.com", Locale: "en-US"}}, strings.Repeat("cd", 32))
	ti := model.TemplateInfo{Version: model.TemplateVersion, SignerList: []model.SignerFields{{FieldList: []model.Field{fields()[0].FieldInfo}}}}
	doc := pdftest.Build(pdftest.Options{})
	hashes, err := binding.Compute(false, tc, ti, doc)
	require.NoError(t, err)
	spf, err := proof.Issue(proof.NewEvidence("task-0123456789abcdefghij", tc, ti, hashes.Record(false), time.Now()), h.Signer(), h.Cert, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "signed.pdf")
	spfPath := filepath.Join(dir, "proof.spf")
	require.NoError(t, os.WriteFile(pdfPath, doc, 0o600))
	require.NoError(t, os.WriteFile(spfPath, spf, 0o600))

	out, err := run(t, "verify", "--pdf", pdfPath, "--spf", spfPath, "--hash", hashes.BindingDataHash)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"status": "VERIFIED"`)

	out, err = run(t, "verify", "--pdf", pdfPath, "--spf", spfPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"status": "UNVERIFIED"`)
	assert.Contains(t, out, hashes.BindingDataHash)

	_, err = run(t, "verify", "--pdf", pdfPath, "--spf", spfPath, "--hash", strings.Repeat("f", 64))
	assert.ErrorContains(t, err, "verification failed: MISMATCH")
}
