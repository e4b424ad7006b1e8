package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.apiURL(endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	raw, err := c.do(ctx, request{
		endpoint:  endpoint,
		method:    http.MethodGet,
		url:       u,
		auth:      true,
		retryable: true,
		code:      apperr.CodeRemoteCallFailed,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Remote(apperr.CodeRemoteCallFailed, http.StatusOK,
			"Failed to call server API: invalid "+endpoint+" response", err)
	}
	return nil
}

// GetConfig fetches the account's LimitConfig.
func (c *Client) GetConfig(ctx context.Context) (model.LimitConfig, error) {
	var lc model.LimitConfig
	if err := c.getJSON(ctx, "get-config", nil, &lc); err != nil {
		return model.LimitConfig{}, err
	}
	return lc, nil
}

func (c *Client) GetStatus(ctx context.Context, taskID string) (model.StatusEnvelope, error) {
	var env model.StatusEnvelope
	if err := c.getJSON(ctx, "get-status", url.Values{"taskID": {taskID}}, &env); err != nil {
		return model.StatusEnvelope{}, err
	}
	return env, nil
}

// GetResult downloads the signed document and its proof of a completed task.
func (c *Client) GetResult(ctx context.Context, taskID string) (model.TaskResult, error) {
	var res model.TaskResult
	if err := c.getJSON(ctx, "get-result", url.Values{"taskID": {taskID}}, &res); err != nil {
		return model.TaskResult{}, err
	}
	return res, nil
}
