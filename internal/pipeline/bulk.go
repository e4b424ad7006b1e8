package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
)

// BulkSendRequest sends the same document to every recipient as separate
// single-signer tasks. SignerNo selects the recipient for previews.
type BulkSendRequest struct {
	TaskConfig  model.TaskInput
	FieldList   []model.FieldInput
	PDFFileName string
	PDF         []byte
	SignerNo    int
	DryRun      bool
}

type TemplateBulkSendRequest struct {
	TaskConfig model.TaskInput
	Template   []byte
	SignerNo   int
	DryRun     bool
}

func (p *Pipeline) prepareBulk(ctx context.Context, req BulkSendRequest, preview bool) (task, error) {
	if e := model.Validate(model.BulkSendParams{
		TaskConfig:  req.TaskConfig,
		FieldList:   req.FieldList,
		PDFFileName: req.PDFFileName,
		SignerNo:    req.SignerNo,
	}); e != nil {
		return task{}, e
	}
	signers := req.TaskConfig.SignerInfoList
	if e := model.CheckPhoneNumbers(signers); e != nil {
		return task{}, e
	}
	if e := pdfcheck.Check(req.PDF, "pdfFileData"); e != nil {
		return task{}, e
	}
	ti, e := model.BuildBulkTemplateInfo(req.FieldList)
	if e != nil {
		return task{}, e
	}
	if preview && req.SignerNo >= len(signers) {
		return task{}, signerNoOutOfRange()
	}
	if err := p.checkLimits(ctx, signers, ti, len(req.PDF), fromPDFFileData, true); err != nil {
		return task{}, err
	}
	return task{
		fileName: req.PDFFileName,
		options:  req.TaskConfig.Options,
		signers:  signers,
		info:     ti,
		pdf:      req.PDF,
	}, nil
}

// BulkSend submits one task per recipient. A failed recipient never affects
// the others; the response lists every recipient in input order.
func (p *Pipeline) BulkSend(ctx context.Context, req BulkSendRequest) (model.BulkResponse, error) {
	t, err := p.prepareBulk(ctx, req, false)
	if err != nil {
		return model.BulkResponse{}, err
	}
	return p.fanOut(ctx, ModeBulkSend, t, req.DryRun), nil
}

func (p *Pipeline) BulkSendWithTemplate(ctx context.Context, req TemplateBulkSendRequest) (model.BulkResponse, error) {
	t, err := p.prepareTemplate(ctx, req.TaskConfig, req.Template, true, false, req.SignerNo)
	if err != nil {
		return model.BulkResponse{}, err
	}
	return p.fanOut(ctx, ModeBulkSendWithTemplate, t, req.DryRun), nil
}

// PreviewBulkSend renders the task recipient SignerNo would receive.
func (p *Pipeline) PreviewBulkSend(ctx context.Context, req BulkSendRequest) (model.PreviewResponse, error) {
	t, err := p.prepareBulk(ctx, req, true)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	return p.preview(t, []model.SignerInfo{t.signers[req.SignerNo]})
}

func (p *Pipeline) PreviewBulkSendWithTemplate(ctx context.Context, req TemplateBulkSendRequest) (model.PreviewResponse, error) {
	t, err := p.prepareTemplate(ctx, req.TaskConfig, req.Template, true, true, req.SignerNo)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	return p.preview(t, []model.SignerInfo{t.signers[req.SignerNo]})
}

func cancelled() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindCallerInput, Code: apperr.CodeCancelled, Index: -1, Message: "Task cancelled before submission"}
}

// fanOut runs at most MaxConcurrency recipients at a time, started in input
// order. Once started, a recipient runs to completion even if ctx is
// cancelled; recipients still queued at that point are reported as cancelled.
func (p *Pipeline) fanOut(ctx context.Context, mode string, t task, dryRun bool) model.BulkResponse {
	slots := make([]apperr.Result[model.SendResponse], len(t.signers))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(MaxConcurrency)
	for i, signer := range t.signers {
		if ctx.Err() != nil {
			slots[i] = apperr.Result[model.SendResponse]{Err: cancelled()}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				slots[i] = apperr.Result[model.SendResponse]{Err: cancelled()}
				return nil
			}
			p.metrics.BulkStarted()
			defer p.metrics.BulkFinished()

			tc, err := t.config([]model.SignerInfo{signer})
			if err == nil {
				var res model.SendResponse
				res, err = p.submit(detached, mode, i, false, tc, t.info, t.pdf, dryRun)
				if err == nil {
					slots[i] = apperr.OK(res)
					return nil
				}
			}
			slots[i] = apperr.Fail[model.SendResponse](err)
			return nil
		})
	}
	_ = g.Wait()

	resp := model.BulkResponse{TaskList: make([]model.BulkTaskResult, len(slots))}
	failed, skipped := 0, 0
	for i, slot := range slots {
		s := t.signers[i]
		r := model.BulkTaskResult{TaskInfo: model.BulkTaskInfo{
			SignerName:        s.Name,
			SignerEmailAddr:   s.EmailAddr,
			SignerPhoneNumber: s.PhoneNumber,
		}}
		if slot.Ok() {
			v := slot.Value
			r.SendResponse = &v
		} else {
			r.ErrorResponse = &model.ErrorResponse{ErrorMsg: slot.Err.Public()}
			if slot.Err.Code == apperr.CodeCancelled {
				skipped++
				p.metrics.Submission(mode, metrics.OutcomeCancelled)
			} else {
				failed++
			}
		}
		resp.TaskList[i] = r
	}
	p.log.Info("bulk send finished",
		zap.String("mode", mode),
		zap.Int("recipients", len(slots)),
		zap.Int("failed", failed),
		zap.Int("cancelled", skipped),
		zap.Bool("dryRun", dryRun))
	return resp
}
