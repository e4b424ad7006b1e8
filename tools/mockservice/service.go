package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/binding"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/crypto/proof"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdfcheck"
)

// task is the service-side state of one submission.
type task struct {
	id        string
	created   time.Time
	inOrder   bool
	info      model.TemplateInfo
	config    model.TaskConfig
	encConfig model.EncryptedEnvelope
	binding   binding.Data
	document  []byte
	signers   []model.SignerStatus
	complete  bool
	signed    []byte
	spf       []byte
}

type serviceConfig struct {
	APIKey   string
	Limits   model.LimitConfig
	AutoSign bool
}

// service imitates the remote task service: it accepts sealed submissions,
// opens them with the key holder and, once every signer has signed, issues
// the signing proof.
type service struct {
	cfg    serviceConfig
	holder *keys.Holder
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

func newService(cfg serviceConfig, holder *keys.Holder, log *zap.Logger) *service {
	if log == nil {
		log = zap.NewNop()
	}
	return &service{cfg: cfg, holder: holder, log: log, now: time.Now, tasks: make(map[string]*task)}
}

func (s *service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/{version}/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/get-config", s.handleGetConfig)
		r.Post("/submit-task", s.handleSubmit)
		r.Get("/get-status", s.handleGetStatus)
		r.Get("/get-result", s.handleGetResult)
	})
	r.Put("/upload/{taskID}", s.handleUpload)
	r.Post("/mock/sign/{taskID}", s.handleSign)
	return r
}

func (s *service) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("Authorization") != "Basic "+s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *service) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Limits)
}

func (s *service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload model.SubmitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid submit payload")
		return
	}
	var tcPayload envelope.TaskConfigPayload
	if err := s.open(payload.PrivateTaskInfo.EncryptedTaskConfig, &tcPayload); err != nil {
		s.log.Warn("failed to open task config", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to decrypt task config")
		return
	}
	var bdPayload envelope.BindingDataPayload
	if err := s.open(payload.PrivateTaskInfo.EncryptedBindingData, &bdPayload); err != nil {
		s.log.Warn("failed to open binding data", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to decrypt binding data")
		return
	}
	if bdPayload.BindingData.InOrder != payload.PublicTaskInfo.InOrder {
		writeError(w, http.StatusBadRequest, "binding data does not match inOrder")
		return
	}
	if len(payload.PublicTaskInfo.TemplateInfo.SignerList) != len(tcPayload.TaskConfig.SignerInfoList) {
		writeError(w, http.StatusBadRequest, "signer count does not match template")
		return
	}

	t := &task{
		id:        uuid.NewString(),
		created:   s.now().UTC(),
		inOrder:   payload.PublicTaskInfo.InOrder,
		info:      payload.PublicTaskInfo.TemplateInfo,
		config:    tcPayload.TaskConfig,
		encConfig: payload.PrivateTaskInfo.EncryptedTaskConfig,
		binding:   bdPayload.BindingData,
		signers:   make([]model.SignerStatus, len(tcPayload.TaskConfig.SignerInfoList)),
	}
	s.mu.Lock()
	s.tasks[t.id] = t
	s.mu.Unlock()
	s.log.Info("task submitted", zap.String("taskID", t.id), zap.Int("signers", len(t.signers)))

	writeJSON(w, http.StatusOK, model.SubmitResponse{
		TaskID:       t.id,
		UploadURL:    baseURL(r) + "/upload/" + t.id,
		TaskPassword: strings.SplitN(uuid.NewString(), "-", 2)[0],
	})
}

func (s *service) handleUpload(w http.ResponseWriter, r *http.Request) {
	t, ok := s.task(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	var env model.EncryptedEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload body")
		return
	}
	doc, err := envelope.Open(env, s.holder)
	if err != nil {
		s.log.Warn("failed to open document", zap.String("taskID", t.id), zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to decrypt document")
		return
	}
	hashes, err := binding.Compute(t.inOrder, t.config, t.info, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hashes.Record(t.inOrder) != t.bindingRecord() {
		writeError(w, http.StatusBadRequest, "document does not match binding data")
		return
	}
	if binding.AccessKey(t.binding.BearerSecret, hashes.BindingDataHash) != t.binding.AccessKey {
		writeError(w, http.StatusBadRequest, "access key does not match binding data")
		return
	}

	s.mu.Lock()
	if t.document != nil {
		// a retried PUT of the same envelope
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}
	t.document = doc
	s.mu.Unlock()
	s.log.Info("document uploaded", zap.String("taskID", t.id), zap.Int("bytes", len(doc)))

	if s.cfg.AutoSign {
		for range t.signers {
			if err := s.sign(t, "127.0.0.1"); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleSign records the next signer's signature, standing in for the
// signer-facing flow of the real service.
func (s *service) handleSign(w http.ResponseWriter, r *http.Request) {
	t, ok := s.task(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if err := s.sign(t, ip); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status(t))
}

func (s *service) sign(t *task, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.document == nil {
		return errors.New("document not uploaded")
	}
	if t.complete {
		return errors.New("task already complete")
	}
	next := 0
	for next < len(t.signers) && t.signers[next].SigningTime != "" {
		next++
	}
	t.signers[next] = model.SignerStatus{IPAddress: ip, SigningTime: s.now().UTC().Format(time.RFC3339)}
	if next < len(t.signers)-1 {
		return nil
	}

	ev := proof.NewEvidence(t.id, t.config, t.info, t.bindingRecord(), s.now())
	spf, err := proof.Issue(ev, s.holder.Signer(), s.holder.Cert, nil)
	if err != nil {
		return fmt.Errorf("failed to issue signing proof: %w", err)
	}
	t.spf = spf
	t.signed = pdfcheck.AppendMarker(t.document)
	t.complete = true
	s.log.Info("task complete", zap.String("taskID", t.id))
	return nil
}

func (s *service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.task(r.URL.Query().Get("taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	enc := t.encConfig
	writeJSON(w, http.StatusOK, model.StatusEnvelope{Status: s.status(t), EncryptedTaskConfig: &enc})
}

func (s *service) handleGetResult(w http.ResponseWriter, r *http.Request) {
	t, ok := s.task(r.URL.Query().Get("taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.complete {
		writeError(w, http.StatusConflict, "task is not complete")
		return
	}
	writeJSON(w, http.StatusOK, model.TaskResult{
		SignedPDFB64: base64.StdEncoding.EncodeToString(t.signed),
		SPFB64:       base64.StdEncoding.EncodeToString(t.spf),
	})
}

func (s *service) status(t *task) model.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.TaskStatus{
		TaskID:   t.id,
		TaskTime: t.created.Format(time.RFC3339),
		NormalResponse: &model.TaskNormalResponse{
			IsComplete: t.complete,
			SignerList: append([]model.SignerStatus(nil), t.signers...),
		},
	}
}

func (s *service) task(id string) (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *service) open(env model.EncryptedEnvelope, out any) error {
	plain, err := envelope.Open(env, s.holder)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}

func (t *task) bindingRecord() binding.Record {
	return binding.Record{
		InOrder:          t.binding.InOrder,
		TaskConfigHash:   t.binding.TaskConfigHash,
		TemplateInfoHash: t.binding.TemplateInfoHash,
		TemplateDataHash: t.binding.TemplateDataHash,
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{ErrorMsg: msg})
}
