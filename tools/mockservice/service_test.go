package main

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/net"
	"github.com/vocdoni/gofirma/esign/internal/pdf/pdftest"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
	"github.com/vocdoni/gofirma/esign/internal/render"
	"github.com/vocdoni/gofirma/esign/internal/verify"
)

type harness struct {
	holder *keys.Holder
	srv    *httptest.Server
	client *net.Client
	pipe   *pipeline.Pipeline
}

func newHarness(t *testing.T, autoSign bool) *harness {
	t.Helper()
	holder, err := keys.GenerateHolder("mock", 2048)
	require.NoError(t, err)
	svc := newService(serviceConfig{
		APIKey:   "key",
		AutoSign: autoSign,
		Limits:   model.LimitConfig{MaxSignerNumber: 5, MaxBulkSendSignerNumber: 5, MaxFieldPerType: 5, MaxFileSizeInMb: 5},
	}, holder, nil)
	srv := httptest.NewServer(svc.routes())
	t.Cleanup(srv.Close)

	client := net.New(net.Config{BaseURL: srv.URL, APIKey: "key"})
	r, err := render.New(nil, nil)
	require.NoError(t, err)
	pipe, err := pipeline.New(pipeline.Config{
		PublicKey:    holder.PublicKey(),
		BearerSecret: "bearer",
		KeyHolder:    holder,
	}, client, r)
	require.NoError(t, err)
	return &harness{holder: holder, srv: srv, client: client, pipe: pipe}
}

func sendRequest() pipeline.SendRequest {
	field := func(signerNo int, y float64) model.FieldInput {
		return model.FieldInput{SignerNo: signerNo, FieldInfo: model.Field{PageNo: 1, X: 50, Y: y, Height: 20, Type: model.FieldSignature}}
	}
	return pipeline.SendRequest{
		TaskConfig: model.TaskInput{
			Options: model.TaskOptions{InOrder: true},
			SignerInfoList: []model.SignerInfo{
				{Name: "Ann", EmailAddr: "ann@example.com", Locale: "en-US"},
				{Name: "Bo", EmailAddr: "bo@example.com", Locale: "en-US"},
			},
		},
		FieldList:   []model.FieldInput{field(0, 50), field(1, 100)},
		PDFFileName: "contract.pdf",
		PDF:         pdftest.Build(pdftest.Options{}),
	}
}

func TestSendStatusResultVerify(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	sent, err := h.pipe.Send(ctx, sendRequest())
	require.NoError(t, err)
	require.NotEmpty(t, sent.TaskID)
	assert.NotEmpty(t, sent.TaskPassword)

	st, err := h.pipe.TaskStatus(ctx, sent.TaskID)
	require.NoError(t, err)
	require.NotNil(t, st.Status.NormalResponse)
	assert.True(t, st.Status.NormalResponse.IsComplete)
	require.Len(t, st.Status.NormalResponse.SignerList, 2)
	assert.Equal(t, "Ann", st.Status.NormalResponse.SignerList[0].Name)
	assert.Equal(t, "127.0.0.1", st.Status.NormalResponse.SignerList[1].IPAddress)

	res, err := h.client.GetResult(ctx, sent.TaskID)
	require.NoError(t, err)
	signed, err := base64.StdEncoding.DecodeString(res.SignedPDFB64)
	require.NoError(t, err)
	spf, err := base64.StdEncoding.DecodeString(res.SPFB64)
	require.NoError(t, err)
	assert.True(t, pdfcheck.HasSignedMarker(signed))

	roots := x509.NewCertPool()
	roots.AddCert(h.holder.Cert)
	v := verify.New(roots, nil)
	out, err := v.AutoVerify(sent.BindingDataHash, signed, spf)
	require.NoError(t, err)
	assert.Equal(t, verify.Verified, out.Status)
	assert.Equal(t, sent.TaskID, out.TaskID)
	assert.Equal(t, "contract.pdf", out.FileName)
}

func TestManualSigning(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	sent, err := h.pipe.Send(ctx, sendRequest())
	require.NoError(t, err)

	_, err = h.client.GetResult(ctx, sent.TaskID)
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, http.StatusConflict, e.Status)
	assert.Contains(t, e.Message, "task is not complete")

	for i := 0; i < 2; i++ {
		resp, err := http.Post(h.srv.URL+"/mock/sign/"+sent.TaskID, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, err := http.Post(h.srv.URL+"/mock/sign/"+sent.TaskID, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	st, err := h.pipe.TaskStatus(ctx, sent.TaskID)
	require.NoError(t, err)
	assert.True(t, st.Status.NormalResponse.IsComplete)
}

func TestRejectsWrongAPIKey(t *testing.T) {
	h := newHarness(t, true)
	client := net.New(net.Config{BaseURL: h.srv.URL, APIKey: "other"})
	_, err := client.GetConfig(context.Background())
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Contains(t, e.Message, "invalid API key")
}

func TestUnknownTask(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.pipe.TaskStatus(context.Background(), strings.Repeat("0", 36))
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, http.StatusNotFound, e.Status)
}
