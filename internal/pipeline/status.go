package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

// TaskStatus fetches a task's status. With a key holder configured, signers
// in a normal response are labelled with the names from the task config.
func (p *Pipeline) TaskStatus(ctx context.Context, taskID string) (model.StatusResponse, error) {
	if e := model.Validate(model.TaskIDParams{TaskID: taskID}); e != nil {
		return model.StatusResponse{}, e
	}
	env, err := p.remote.GetStatus(ctx, taskID)
	if err != nil {
		return model.StatusResponse{}, err
	}
	st := env.Status
	if st.NormalResponse == nil {
		return model.StatusResponse{Status: model.TaskStatus{
			TaskID:        st.TaskID,
			TaskTime:      st.TaskTime,
			ErrorResponse: st.ErrorResponse,
		}}, nil
	}
	if p.cfg.KeyHolder == nil {
		return model.StatusResponse{Status: st}, nil
	}

	tc, err := p.openTaskConfig(env.EncryptedTaskConfig)
	if err != nil {
		p.log.Warn("failed to decrypt task config", zap.String("taskID", taskID), zap.Error(err))
		return model.StatusResponse{}, apperr.Crypto(apperr.CodeDecryptTaskConfig, "Failed to decrypt task config", err)
	}
	signers := make([]model.SignerStatus, len(tc.SignerInfoList))
	for i, s := range tc.SignerInfoList {
		signers[i] = model.SignerStatus{Name: s.Name, EmailAddr: s.EmailAddr, PhoneNumber: s.PhoneNumber}
		if i < len(st.NormalResponse.SignerList) {
			signers[i].IPAddress = st.NormalResponse.SignerList[i].IPAddress
			signers[i].SigningTime = st.NormalResponse.SignerList[i].SigningTime
		}
	}
	return model.StatusResponse{Status: model.TaskStatus{
		TaskID:   st.TaskID,
		TaskTime: st.TaskTime,
		NormalResponse: &model.TaskNormalResponse{
			IsComplete: st.NormalResponse.IsComplete,
			SignerList: signers,
		},
	}}, nil
}

func (p *Pipeline) openTaskConfig(enc *model.EncryptedEnvelope) (model.TaskConfig, error) {
	if enc == nil {
		return model.TaskConfig{}, errors.New("status carries no encrypted task config")
	}
	plain, err := envelope.Open(*enc, p.cfg.KeyHolder)
	if err != nil {
		return model.TaskConfig{}, err
	}
	var payload envelope.TaskConfigPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return model.TaskConfig{}, err
	}
	return payload.TaskConfig, nil
}
