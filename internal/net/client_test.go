package net

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

func newTestClient(srv *httptest.Server, attempts int) *Client {
	c := New(Config{BaseURL: srv.URL, APIKey: "k3y", Retry: RetryConfig{MaxAttempts: attempts}},
		WithHTTPClient(srv.Client()))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1909/api/get-config", r.URL.Path)
		assert.Equal(t, "Basic k3y", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = io.WriteString(w, `{"maxSignerNumber":3,"maxBulkSendSignerNumber":50,"maxFieldPerType":10,"maxFileSizeInMb":5,"enablePhoneNo":false}`)
	}))
	defer srv.Close()

	lc, err := newTestClient(srv, 1).GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, lc.MaxSignerNumber)
	assert.Equal(t, 50, lc.MaxBulkSendSignerNumber)
	require.NotNil(t, lc.EnablePhoneNo)
	assert.False(t, *lc.EnablePhoneNo)
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"errorMsg field", "application/json", `{"errorMsg":"Invalid API key"}`, "Invalid API key"},
		{"other json", "application/json", `{"message":"nope"}`, `Failed to call server API: {"message":"nope"}`},
		{"plain text", "text/plain", "Forbidden\n", "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv, 3).GetConfig(context.Background())
			e := apperr.As(err)
			require.NotNil(t, e)
			assert.Equal(t, apperr.KindRemote, e.Kind)
			assert.Equal(t, http.StatusForbidden, e.Status)
			assert.Equal(t, tt.want, e.Message)
		})
	}
}

func TestRetryOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":{"taskID":"t","taskTime":"x","errorResponse":{"code":1}}}`)
	}))
	defer srv.Close()

	env, err := newTestClient(srv, 3).GetStatus(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "t", env.Status.TaskID)
	assert.Nil(t, env.Status.NormalResponse)
}

func TestSubmitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 5).SubmitTask(context.Background(), model.SubmitPayload{})
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitAndUpload(t *testing.T) {
	var uploaded model.EncryptedEnvelope
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/1909/api/submit-task", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var p model.SubmitPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.True(t, p.PublicTaskInfo.InOrder)
		assert.Equal(t, "cfg", p.PrivateTaskInfo.EncryptedTaskConfig.EncryptedData)
		_ = json.NewEncoder(w).Encode(model.SubmitResponse{TaskID: "task-0123456789abcdefghij", UploadURL: srv.URL + "/upload/1", TaskPassword: "pw"})
	})
	mux.HandleFunc("/upload/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"), "upload URLs are pre-authorized")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&uploaded))
	})

	c := newTestClient(srv, 1)
	resp, err := c.SubmitTask(context.Background(), model.SubmitPayload{
		PublicTaskInfo:  model.PublicTaskInfo{InOrder: true},
		PrivateTaskInfo: model.PrivateTaskInfo{EncryptedTaskConfig: model.EncryptedEnvelope{EncryptedData: "cfg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pw", resp.TaskPassword)

	env := model.EncryptedEnvelope{EncryptedData: "doc", EncryptedDataKey: "key", DataIV: "iv"}
	require.NoError(t, c.Upload(context.Background(), resp.UploadURL, env))
	assert.Equal(t, env, uploaded)
}

func TestUploadFailureCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "SignatureDoesNotMatch")
	}))
	defer srv.Close()

	err := newTestClient(srv, 3).Upload(context.Background(), srv.URL+"/u", model.EncryptedEnvelope{})
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.CodeUploadFailed, e.Code)
	assert.Equal(t, "SignatureDoesNotMatch", e.Message)
}

func TestObserverAndTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var seen []int
	c := New(Config{BaseURL: url, Retry: RetryConfig{MaxAttempts: 2}},
		WithObserver(func(endpoint string, status int, _ time.Duration) {
			assert.Equal(t, "get-result", endpoint)
			seen = append(seen, status)
		}))
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.GetResult(context.Background(), "abc")
	e := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, 0, e.Status)
	assert.Contains(t, e.Message, "Failed to call server API")
	assert.Equal(t, []int{0, 0}, seen)
}

func TestBackoffBounds(t *testing.T) {
	c := New(Config{Retry: RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}})
	for attempt := 1; attempt < 8; attempt++ {
		d := c.backoff(attempt, "")
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Equal(t, time.Second, c.backoff(1, "30"))
	assert.Equal(t, time.Duration(0), c.backoff(1, "0"))
}
