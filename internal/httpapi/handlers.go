package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
	"github.com/vocdoni/gofirma/esign/internal/template"
)

type sendBody struct {
	TaskConfig  model.TaskInput    `json:"taskConfig"`
	FieldList   []model.FieldInput `json:"fieldList"`
	PDFFileName string             `json:"pdfFileName"`
	PDFFileData string             `json:"pdfFileData"`
	SignerNo    int                `json:"signerNo"`
	DryRun      bool               `json:"dryRun"`
}

type templateBody struct {
	TaskConfig model.TaskInput `json:"taskConfig"`
	Template   string          `json:"template"`
	SignerNo   int             `json:"signerNo"`
	DryRun     bool            `json:"dryRun"`
}

type createTemplateBody struct {
	FieldList   []model.FieldInput `json:"fieldList"`
	PDFFileName string             `json:"pdfFileName"`
	PDFFileData string             `json:"pdfFileData"`
}

type verifyBody struct {
	BindingDataHash string `json:"bindingDataHash"`
	PDFBufferB64    string `json:"pdfBufferB64"`
	SPFBufferB64    string `json:"spfBufferB64"`
}

func decodeB64(name, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.CallerInput(apperr.CodeInvalidParams, -1, "Invalid parameter: %s is not a valid base64 string", name)
	}
	return b, nil
}

func (b sendBody) request() (pipeline.SendRequest, error) {
	pdf, err := decodeB64("pdfFileData", b.PDFFileData)
	if err != nil {
		return pipeline.SendRequest{}, err
	}
	return pipeline.SendRequest{
		TaskConfig:  b.TaskConfig,
		FieldList:   b.FieldList,
		PDFFileName: b.PDFFileName,
		PDF:         pdf,
		DryRun:      b.DryRun,
	}, nil
}

func (b sendBody) bulkRequest() (pipeline.BulkSendRequest, error) {
	req, err := b.request()
	if err != nil {
		return pipeline.BulkSendRequest{}, err
	}
	return pipeline.BulkSendRequest{
		TaskConfig:  req.TaskConfig,
		FieldList:   req.FieldList,
		PDFFileName: req.PDFFileName,
		PDF:         req.PDF,
		SignerNo:    b.SignerNo,
		DryRun:      b.DryRun,
	}, nil
}

func (b templateBody) request() (pipeline.TemplateSendRequest, error) {
	tpl, err := decodeB64("template", b.Template)
	if err != nil {
		return pipeline.TemplateSendRequest{}, err
	}
	return pipeline.TemplateSendRequest{TaskConfig: b.TaskConfig, Template: tpl, DryRun: b.DryRun}, nil
}

func (b templateBody) bulkRequest() (pipeline.TemplateBulkSendRequest, error) {
	tpl, err := decodeB64("template", b.Template)
	if err != nil {
		return pipeline.TemplateBulkSendRequest{}, err
	}
	return pipeline.TemplateBulkSendRequest{TaskConfig: b.TaskConfig, Template: tpl, SignerNo: b.SignerNo, DryRun: b.DryRun}, nil
}

// reply writes v, or the error if err is set.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.Send(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handleSendWithTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.SendWithTemplate(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.bulkRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.BulkSend(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handleBulkSendWithTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.bulkRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.BulkSendWithTemplate(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handlePreviewSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.PreviewSend(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handlePreviewSendWithTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.PreviewSendWithTemplate(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handlePreviewBulkSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.bulkRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.PreviewBulkSend(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) handlePreviewBulkSendWithTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateBody
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.bulkRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipe.PreviewBulkSendWithTemplate(r.Context(), req)
	s.reply(w, r, res, err)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request, create func([]model.FieldInput, string, []byte) ([]byte, error)) {
	var body createTemplateBody
	if !s.decode(w, r, &body) {
		return
	}
	pdf, err := decodeB64("pdfFileData", body.PDFFileData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	archive, err := create(body.FieldList, body.PDFFileName, pdf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"template": base64.StdEncoding.EncodeToString(archive)})
}

func (s *Server) handleCreateSendTemplate(w http.ResponseWriter, r *http.Request) {
	s.createTemplate(w, r, template.CreateSend)
}

func (s *Server) handleCreateBulkSendTemplate(w http.ResponseWriter, r *http.Request) {
	s.createTemplate(w, r, template.CreateBulkSend)
}

func (b verifyBody) decode() (pdf, spf []byte, err error) {
	if pdf, err = decodeB64("pdfBufferB64", b.PDFBufferB64); err != nil {
		return nil, nil, err
	}
	if spf, err = decodeB64("spfBufferB64", b.SPFBufferB64); err != nil {
		return nil, nil, err
	}
	return pdf, spf, nil
}

// Rejected proofs are still 200 responses; the status field says why.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !s.decode(w, r, &body) {
		return
	}
	pdf, spf, err := body.decode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.verifier.AutoVerify(body.BindingDataHash, pdf, spf)
	s.reply(w, r, res, err)
}

func (s *Server) handleVerifyWithHuman(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !s.decode(w, r, &body) {
		return
	}
	pdf, spf, err := body.decode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.verifier.SemiVerify(pdf, spf)
	s.reply(w, r, res, err)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipe.TaskStatus(r.Context(), chi.URLParam(r, "taskID"))
	s.reply(w, r, res, err)
}
