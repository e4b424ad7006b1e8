package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
	"github.com/vocdoni/gofirma/esign/internal/render"
	"github.com/vocdoni/gofirma/esign/internal/template"
)

// SendRequest carries a task with an explicit field list. DryRun stops after
// rendering and binding, without any live submission.
type SendRequest struct {
	TaskConfig  model.TaskInput
	FieldList   []model.FieldInput
	PDFFileName string
	PDF         []byte
	DryRun      bool
}

// TemplateSendRequest carries a task whose fields and document come from a
// template archive.
type TemplateSendRequest struct {
	TaskConfig model.TaskInput
	Template   []byte
	DryRun     bool
}

// task is a fully validated single or bulk request.
type task struct {
	inOrder  bool
	fileName string
	options  model.TaskOptions
	signers  []model.SignerInfo
	info     model.TemplateInfo
	pdf      []byte
}

func (t task) config(signers []model.SignerInfo) (model.TaskConfig, error) {
	nonce, err := binding.NewNonce()
	if err != nil {
		return model.TaskConfig{}, apperr.Internal(err)
	}
	return model.NewTaskConfig(t.fileName, t.options, signers, nonce), nil
}

func (p *Pipeline) prepareSend(ctx context.Context, req SendRequest) (task, error) {
	if e := model.Validate(model.SendParams{TaskConfig: req.TaskConfig, FieldList: req.FieldList, PDFFileName: req.PDFFileName}); e != nil {
		return task{}, e
	}
	signers := req.TaskConfig.SignerInfoList
	if e := model.CheckPhoneNumbers(signers); e != nil {
		return task{}, e
	}
	if e := pdfcheck.Check(req.PDF, "pdfFileData"); e != nil {
		return task{}, e
	}
	ti, e := model.BuildTemplateInfo(req.FieldList, len(signers))
	if e != nil {
		return task{}, e
	}
	if err := p.checkLimits(ctx, signers, ti, len(req.PDF), fromPDFFileData, false); err != nil {
		return task{}, err
	}
	return task{
		inOrder:  req.TaskConfig.Options.InOrder,
		fileName: req.PDFFileName,
		options:  req.TaskConfig.Options,
		signers:  signers,
		info:     ti,
		pdf:      req.PDF,
	}, nil
}

// prepareTemplate validates a template based request. signerNo is checked
// against the recipients only when preview is set.
func (p *Pipeline) prepareTemplate(ctx context.Context, in model.TaskInput, archive []byte, bulk, preview bool, signerNo int) (task, error) {
	if e := model.Validate(model.TemplateSendParams{TaskConfig: in, SignerNo: signerNo}); e != nil {
		return task{}, e
	}
	signers := in.SignerInfoList
	if e := model.CheckPhoneNumbers(signers); e != nil {
		return task{}, e
	}
	tpl, err := template.Parse(archive)
	if err != nil {
		return task{}, err
	}
	switch {
	case bulk && len(tpl.Info.SignerList) != 1:
		return task{}, apperr.CallerInput(apperr.CodeInvalidTemplate, -1, "Invalid parameter: the template is not applicable to bulk send")
	case !bulk && len(tpl.Info.SignerList) != len(signers):
		return task{}, apperr.CallerInput(apperr.CodeInvalidTemplate, -1, "Invalid parameter: the template is not applicable to the length of taskConfig.signerInfoList")
	}
	if e := pdfcheck.Check(tpl.PDF, "document in template"); e != nil {
		return task{}, e
	}
	if i := model.MissingSignatureField(tpl.Info); i >= 0 {
		if bulk {
			return task{}, apperr.CallerInput(apperr.CodeMissingSignatureField, i, "Invalid parameter: the bulk signers require at least one signature field in template")
		}
		return task{}, apperr.CallerInput(apperr.CodeMissingSignatureField, i, "Invalid parameter: the No. %d signer requires at least one signature field in template", i)
	}
	if bulk && preview && signerNo >= len(signers) {
		return task{}, signerNoOutOfRange()
	}
	if err := p.checkLimits(ctx, signers, tpl.Info, len(tpl.PDF), fromTemplate, bulk); err != nil {
		return task{}, err
	}
	return task{
		inOrder:  in.Options.InOrder,
		fileName: tpl.PDFFileName,
		options:  in.Options,
		signers:  signers,
		info:     tpl.Info,
		pdf:      tpl.PDF,
	}, nil
}

func signerNoOutOfRange() *apperr.Error {
	return apperr.CallerInput(apperr.CodeSignerNoOutOfRange, -1, "Invalid parameter: signerNo is out of range")
}

func renderError(err error) error {
	var re *render.Error
	if errors.As(err, &re) {
		return apperr.CallerInput(apperr.CodeRenderFailed, -1, "Failed to render PDF: %s", re.Reason)
	}
	return apperr.Internal(err)
}

// Send submits one task.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (model.SendResponse, error) {
	t, err := p.prepareSend(ctx, req)
	if err != nil {
		return model.SendResponse{}, err
	}
	return p.sendTask(ctx, ModeSend, t, req.DryRun)
}

// SendWithTemplate submits one task built from a template archive.
func (p *Pipeline) SendWithTemplate(ctx context.Context, req TemplateSendRequest) (model.SendResponse, error) {
	t, err := p.prepareTemplate(ctx, req.TaskConfig, req.Template, false, false, 0)
	if err != nil {
		return model.SendResponse{}, err
	}
	return p.sendTask(ctx, ModeSendWithTemplate, t, req.DryRun)
}

func (p *Pipeline) sendTask(ctx context.Context, mode string, t task, dryRun bool) (model.SendResponse, error) {
	tc, err := t.config(t.signers)
	if err != nil {
		return model.SendResponse{}, err
	}
	return p.submit(ctx, mode, -1, t.inOrder, tc, t.info, t.pdf, dryRun)
}

// PreviewSend renders the task with field placeholders and submits nothing.
func (p *Pipeline) PreviewSend(ctx context.Context, req SendRequest) (model.PreviewResponse, error) {
	t, err := p.prepareSend(ctx, req)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	return p.preview(t, t.signers)
}

func (p *Pipeline) PreviewSendWithTemplate(ctx context.Context, req TemplateSendRequest) (model.PreviewResponse, error) {
	t, err := p.prepareTemplate(ctx, req.TaskConfig, req.Template, false, true, 0)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	return p.preview(t, t.signers)
}

func (p *Pipeline) preview(t task, signers []model.SignerInfo) (model.PreviewResponse, error) {
	tc, err := t.config(signers)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	out, err := p.renderer.Render(tc, t.info, t.pdf, render.Options{Preview: true})
	if err != nil {
		return model.PreviewResponse{}, renderError(err)
	}
	return model.PreviewResponse{PDFPreviewB64: base64.StdEncoding.EncodeToString(out)}, nil
}

// submit renders, binds, seals and submits one task. index is the bulk
// recipient position, -1 for single sends.
func (p *Pipeline) submit(ctx context.Context, mode string, index int, inOrder bool, tc model.TaskConfig, ti model.TemplateInfo, pdf []byte, dryRun bool) (model.SendResponse, error) {
	start := time.Now()
	res, err := p.submitTask(ctx, inOrder, tc, ti, pdf, dryRun)
	if dryRun {
		if err == nil {
			p.metrics.Submission(mode, metrics.OutcomeDryRun)
		}
		return res, err
	}
	p.record(mode, index, res, err)
	if err != nil {
		p.log.Info("submission failed", zap.String("mode", mode), zap.Int("index", index), zap.Error(err))
		return model.SendResponse{}, err
	}
	p.log.Info("task submitted",
		zap.String("mode", mode),
		zap.Int("index", index),
		zap.String("taskID", res.TaskID),
		zap.String("bindingDataHash", res.BindingDataHash),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (p *Pipeline) submitTask(ctx context.Context, inOrder bool, tc model.TaskConfig, ti model.TemplateInfo, pdf []byte, dryRun bool) (model.SendResponse, error) {
	rendered, err := p.renderer.Render(tc, ti, pdf, render.Options{})
	if err != nil {
		return model.SendResponse{}, renderError(err)
	}
	h, err := binding.Compute(inOrder, tc, ti, rendered)
	if err != nil {
		return model.SendResponse{}, apperr.Internal(err)
	}
	if dryRun {
		return model.SendResponse{BindingDataHash: h.BindingDataHash}, nil
	}
	if e := p.requireKeys(); e != nil {
		return model.SendResponse{}, e
	}

	sealer := envelope.Sealer{Pub: p.cfg.PublicKey}
	encTaskConfig, e := sealer.SealTaskConfig(tc)
	if e != nil {
		return model.SendResponse{}, e
	}
	encDocument, e := sealer.SealDocument(rendered)
	if e != nil {
		return model.SendResponse{}, e
	}
	encBinding, e := sealer.SealBindingData(binding.NewData(inOrder, h, p.cfg.BearerSecret))
	if e != nil {
		return model.SendResponse{}, e
	}

	sub, err := p.remote.SubmitTask(ctx, model.SubmitPayload{
		PublicTaskInfo: model.PublicTaskInfo{InOrder: inOrder, TemplateInfo: ti},
		PrivateTaskInfo: model.PrivateTaskInfo{
			EncryptedTaskConfig:  encTaskConfig,
			EncryptedBindingData: encBinding,
		},
	})
	if err != nil {
		return model.SendResponse{}, err
	}
	if err := p.remote.Upload(ctx, sub.UploadURL, encDocument); err != nil {
		return model.SendResponse{}, err
	}
	return model.SendResponse{TaskID: sub.TaskID, BindingDataHash: h.BindingDataHash, TaskPassword: sub.TaskPassword}, nil
}
