package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/crypto/proof"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdf/pdftest"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
	"github.com/vocdoni/gofirma/esign/internal/render"
	"github.com/vocdoni/gofirma/esign/internal/template"
	"github.com/vocdoni/gofirma/esign/internal/verify"
)

type stubRemote struct {
	mu        sync.Mutex
	submitErr error
	payload   model.SubmitPayload
	document  model.EncryptedEnvelope
	status    model.StatusEnvelope
}

func (s *stubRemote) GetConfig(context.Context) (model.LimitConfig, error) {
	return model.LimitConfig{MaxSignerNumber: 10, MaxBulkSendSignerNumber: 10, MaxFieldPerType: 10, MaxFileSizeInMb: 5}, nil
}

func (s *stubRemote) SubmitTask(_ context.Context, p model.SubmitPayload) (model.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return model.SubmitResponse{}, s.submitErr
	}
	s.payload = p
	return model.SubmitResponse{TaskID: "task-0123456789abcdefghij", UploadURL: "mem://upload"}, nil
}

func (s *stubRemote) Upload(_ context.Context, _ string, env model.EncryptedEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = env
	return nil
}

func (s *stubRemote) GetStatus(context.Context, string) (model.StatusEnvelope, error) {
	return s.status, nil
}

type harness struct {
	holder  *keys.Holder
	remote  *stubRemote
	metrics *metrics.Metrics
	srv     *httptest.Server
}

var (
	holderOnce sync.Once
	holder     *keys.Holder
)

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	holderOnce.Do(func() {
		h, err := keys.GenerateHolder("kms", 2048)
		if err != nil {
			panic(err)
		}
		holder = h
	})
	h := &harness{holder: holder, remote: &stubRemote{}, metrics: metrics.New()}
	r, err := render.New(nil, nil)
	require.NoError(t, err)
	pipe, err := pipeline.New(pipeline.Config{PublicKey: holder.PublicKey(), BearerSecret: "secret", KeyHolder: holder},
		h.remote, r, pipeline.WithMetrics(h.metrics))
	require.NoError(t, err)
	s := New(cfg, pipe, verify.New(nil, nil), WithMetrics(h.metrics))
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func fullConfig() Config {
	return Config{APIKey: "key", BearerSecret: "secret", HasPublicKey: true}
}

func (h *harness) post(t *testing.T, path string, body any) (int, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func errorMsg(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		ErrorMsg string `json:"errorMsg"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	return e.ErrorMsg
}

func sendPayload(pdf []byte) map[string]any {
	return map[string]any{
		"taskConfig": map[string]any{
			"options": map[string]any{"inOrder": true},
			"signerInfoList": []map[string]any{
				{"name": "Alice", "emailAddr": "alice@example.com", "locale": "en-US"},
			},
		},
		"fieldList": []map[string]any{
			{"signerNo": 0, "fieldInfo": map[string]any{"pageNo": 1, "x": 50, "y": 50, "height": 20, "type": 0}},
			{"signerNo": 0, "fieldInfo": map[string]any{"pageNo": 1, "x": 50, "y": 100, "height": 20, "type": 2}},
		},
		"pdfFileName": "contract.pdf",
		"pdfFileData": base64.StdEncoding.EncodeToString(pdf),
	}
}

func TestBannerAndRedirect(t *testing.T) {
	h := newHarness(t, fullConfig())
	resp, err := http.Get(h.srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Banner, string(body))

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = client.Get(h.srv.URL + "/anything/else")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestCredentialChecks(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"api key", Config{BearerSecret: "s", HasPublicKey: true}, "Invalid API Key setting"},
		{"bearer secret", Config{APIKey: "k", HasPublicKey: true}, "Invalid bearerSecret setting"},
		{"public key", Config{APIKey: "k", BearerSecret: "s"}, "Invalid KMS public key setting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			for _, path := range []string{"/send/", "/bulk_send/", "/preview_send_with_template/", "/preview_bulk_send/"} {
				status, body := h.post(t, path, map[string]any{})
				assert.Equal(t, http.StatusConflict, status, path)
				assert.Equal(t, tt.msg, errorMsg(t, body), path)
			}
		})
	}

	h := newHarness(t, Config{})
	status, body := h.post(t, "/create_bulk_send_template/", map[string]any{
		"fieldList":   []map[string]any{{"signerNo": 0, "fieldInfo": map[string]any{"pageNo": 1, "x": 1, "y": 1, "height": 20, "type": 0}}},
		"pdfFileName": "a.pdf",
		"pdfFileData": base64.StdEncoding.EncodeToString(pdftest.Build(pdftest.Options{})),
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var out struct {
		Template string `json:"template"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	archive, err := base64.StdEncoding.DecodeString(out.Template)
	require.NoError(t, err)
	tpl, err := template.Parse(archive)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", tpl.PDFFileName)
}

func TestSendThenVerify(t *testing.T) {
	h := newHarness(t, fullConfig())
	status, body := h.post(t, "/send/", sendPayload(pdftest.Build(pdftest.Options{})))
	require.Equal(t, http.StatusOK, status, string(body))
	var sent model.SendResponse
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "task-0123456789abcdefghij", sent.TaskID)

	// Play the key holder: open what was submitted and issue the proof.
	plain, err := envelope.Open(h.remote.payload.PrivateTaskInfo.EncryptedTaskConfig, h.holder)
	require.NoError(t, err)
	var tcp envelope.TaskConfigPayload
	require.NoError(t, json.Unmarshal(plain, &tcp))
	doc, err := envelope.Open(h.remote.document, h.holder)
	require.NoError(t, err)
	ti := h.remote.payload.PublicTaskInfo.TemplateInfo
	hashes, err := binding.Compute(true, tcp.TaskConfig, ti, doc)
	require.NoError(t, err)
	spf, err := proof.Issue(proof.NewEvidence(sent.TaskID, tcp.TaskConfig, ti, hashes.Record(true), time.Now()), h.holder.Signer(), h.holder.Cert, nil)
	require.NoError(t, err)

	signed := base64.StdEncoding.EncodeToString(pdfcheck.AppendMarker(doc))
	spfB64 := base64.StdEncoding.EncodeToString(spf)

	status, body = h.post(t, "/verify_pdf/", verifyBody{BindingDataHash: sent.BindingDataHash, PDFBufferB64: signed, SPFBufferB64: spfB64})
	require.Equal(t, http.StatusOK, status, string(body))
	var res verify.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, verify.Verified, res.Status)
	assert.Equal(t, sent.TaskID, res.TaskID)

	status, body = h.post(t, "/verify_pdf_with_human/", verifyBody{PDFBufferB64: signed, SPFBufferB64: spfB64})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, verify.Unverified, res.Status)
	assert.Equal(t, sent.BindingDataHash, res.Hashes.BindingDataHash)

	status, body = h.post(t, "/verify_pdf/", verifyBody{BindingDataHash: strings.Repeat("0", 64), PDFBufferB64: signed, SPFBufferB64: spfB64})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, verify.Mismatch, res.Status)

	status, body = h.post(t, "/verify_pdf/", verifyBody{BindingDataHash: sent.BindingDataHash, PDFBufferB64: signed, SPFBufferB64: "%%%"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid parameter: spfBufferB64 is not a valid base64 string", errorMsg(t, body))
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t, fullConfig())
	pdf := pdftest.Build(pdftest.Options{})

	bad := sendPayload(pdf)
	bad["pdfFileName"] = ""
	status, body := h.post(t, "/send/", bad)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid parameter: pdfFileName does not meet minimum length of 1", errorMsg(t, body))

	h.remote.submitErr = apperr.Remote(apperr.CodeRemoteCallFailed, http.StatusForbidden, "Forbidden", nil)
	status, body = h.post(t, "/send/", sendPayload(pdf))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Forbidden", errorMsg(t, body))

	h.remote.submitErr = apperr.Remote(apperr.CodeRemoteCallFailed, 0, "connection refused", nil)
	status, _ = h.post(t, "/send/", sendPayload(pdf))
	assert.Equal(t, http.StatusBadGateway, status)

	resp, err := http.Post(h.srv.URL+"/send/", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	small := newHarness(t, Config{APIKey: "k", BearerSecret: "s", HasPublicKey: true, BodyLimit: 64})
	status, _ = small.post(t, "/send/", sendPayload(pdf))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestBulkSendRoute(t *testing.T) {
	h := newHarness(t, fullConfig())
	payload := sendPayload(pdftest.Build(pdftest.Options{}))
	payload["taskConfig"].(map[string]any)["signerInfoList"] = []map[string]any{
		{"name": "A", "emailAddr": "a@example.com", "locale": "en-US"},
		{"name": "B", "emailAddr": "b@example.com", "locale": "zh-TW", "phoneNumber": "+442071838750"},
	}
	status, body := h.post(t, "/bulk_send/", payload)
	require.Equal(t, http.StatusOK, status, string(body))
	var res model.BulkResponse
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.TaskList, 2)
	assert.Equal(t, "+442071838750", res.TaskList[1].TaskInfo.SignerPhoneNumber)
	assert.NotNil(t, res.TaskList[1].SendResponse)

	payload["signerNo"] = 1
	status, body = h.post(t, "/preview_bulk_send/", payload)
	require.Equal(t, http.StatusOK, status, string(body))
	var pr model.PreviewResponse
	require.NoError(t, json.Unmarshal(body, &pr))
	assert.NotEmpty(t, pr.PDFPreviewB64)
}

func TestTaskStatusRoute(t *testing.T) {
	h := newHarness(t, fullConfig())
	h.remote.status = model.StatusEnvelope{Status: model.TaskStatus{
		TaskID:        "task-0123456789abcdefghij",
		TaskTime:      "2024-05-01T12:00:00Z",
		ErrorResponse: map[string]any{"errorMsg": "expired"},
	}}
	resp, err := http.Get(h.srv.URL + "/task_status/task-0123456789abcdefghij")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "expired", res.Status.ErrorResponse["errorMsg"])

	resp2, err := http.Get(h.srv.URL + "/task_status/short")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t, fullConfig())
	status, _ := h.post(t, "/send/", sendPayload(pdftest.Build(pdftest.Options{})))
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `esign_http_requests_total{route="/send/",status="200"} 1`)
	assert.Contains(t, string(body), `esign_submissions_total{mode="send",outcome="submitted"} 1`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 400, StatusOf(apperr.CallerInput(apperr.CodeInvalidParams, -1, "x")))
	assert.Equal(t, 409, StatusOf(apperr.Crypto(apperr.CodeDecryptTaskConfig, "x", nil)))
	assert.Equal(t, 401, StatusOf(apperr.Remote(apperr.CodeRemoteCallFailed, 401, "x", nil)))
	assert.Equal(t, 502, StatusOf(apperr.Remote(apperr.CodeUploadFailed, 0, "x", nil)))
	assert.Equal(t, 500, StatusOf(apperr.Internal(io.EOF)))
}
