package pipeline

import (
	"context"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

// source names the document in limit messages.
type source int

const (
	fromPDFFileData source = iota
	fromTemplate
)

func limitError(v *model.LimitViolation, src source, bulk bool) *apperr.Error {
	switch v.Code {
	case apperr.CodeMeetSignerLimit:
		return apperr.CallerInput(v.Code, -1, "Invalid parameter: length of taskConfig.signerInfoList meets the limit (%d)", v.Limit)
	case apperr.CodeMeetFieldLimit:
		if bulk {
			return apperr.CallerInput(v.Code, v.Index, "Invalid parameter: bulk signers meet the field limit per type (%d)", v.Limit)
		}
		return apperr.CallerInput(v.Code, v.Index, "Invalid parameter: the No. %d signer meets the field limit per type (%d)", v.Index, v.Limit)
	case apperr.CodeMeetPDFSizeLimit:
		if src == fromTemplate {
			return apperr.CallerInput(v.Code, -1, "Invalid parameter: document in template meets the limit (%d MB)", v.Limit)
		}
		return apperr.CallerInput(v.Code, -1, "Invalid parameter: size of pdfFileData meets the limit (%d MB)", v.Limit)
	case apperr.CodePhoneNumberDisabled:
		return apperr.CallerInput(v.Code, v.Index, "Invalid parameter: taskConfig.signerInfoList.%d.phoneNumber is not allowed, phone numbers are disabled", v.Index)
	}
	return apperr.CallerInput(v.Code, v.Index, "Invalid parameter: limit check failed")
}

// checkLimits fetches the service limits afresh and applies them.
func (p *Pipeline) checkLimits(ctx context.Context, signers []model.SignerInfo, ti model.TemplateInfo, pdfSize int, src source, bulk bool) error {
	lc, err := p.remote.GetConfig(ctx)
	if err != nil {
		return err
	}
	if v := model.CheckLimits(lc, signers, ti.SignerList, pdfSize, bulk); v != nil {
		return limitError(v, src, bulk)
	}
	return nil
}
