package net

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

// SubmitTask posts the public template and the sealed private task info. It is
// not retried: a repeated submission would create a second task.
func (c *Client) SubmitTask(ctx context.Context, payload model.SubmitPayload) (model.SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.SubmitResponse{}, apperr.Internal(fmt.Errorf("failed to marshal submit payload: %w", err))
	}
	raw, err := c.do(ctx, request{
		endpoint: "submit-task",
		method:   http.MethodPost,
		url:      c.apiURL("submit-task"),
		body:     body,
		auth:     true,
		code:     apperr.CodeRemoteCallFailed,
	})
	if err != nil {
		return model.SubmitResponse{}, err
	}
	var out model.SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.SubmitResponse{}, apperr.Remote(apperr.CodeRemoteCallFailed, http.StatusOK,
			"Failed to call server API: invalid submit-task response", err)
	}
	if out.TaskID == "" || out.UploadURL == "" {
		return model.SubmitResponse{}, apperr.Remote(apperr.CodeRemoteCallFailed, http.StatusOK,
			"Failed to call server API: submit-task response misses taskID or uploadURL", nil)
	}
	return out, nil
}

// Upload puts the encrypted document to the pre-authorized uploadURL. A PUT
// of the same envelope is idempotent, so transient failures are retried.
func (c *Client) Upload(ctx context.Context, uploadURL string, env model.EncryptedEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to marshal document envelope: %w", err))
	}
	if len(body) > MaxUploadSize {
		return apperr.Remote(apperr.CodeUploadFailed, 0,
			fmt.Sprintf("Failed to upload document: encrypted document exceeds %d MB", MaxUploadSize/1024/1024), nil)
	}
	_, err = c.do(ctx, request{
		endpoint:  "upload",
		method:    http.MethodPut,
		url:       uploadURL,
		body:      body,
		retryable: true,
		code:      apperr.CodeUploadFailed,
	})
	return err
}
