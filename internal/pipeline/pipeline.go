// Package pipeline drives task submission: validation, limit checks,
// rendering, binding, encryption and the remote submit/upload exchange.
package pipeline

import (
	"context"
	"crypto/rsa"
	"errors"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/apperr"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/render"
	"github.com/vocdoni/gofirma/esign/internal/storage"
)

// MaxConcurrency is the number of bulk recipients submitted at once.
const MaxConcurrency = 5

// Submission modes, as recorded in metrics and the journal.
const (
	ModeSend                 = "send"
	ModeSendWithTemplate     = "send_with_template"
	ModeBulkSend             = "bulk_send"
	ModeBulkSendWithTemplate = "bulk_send_with_template"
)

// Remote is the task service. *net.Client implements it.
type Remote interface {
	GetConfig(ctx context.Context) (model.LimitConfig, error)
	SubmitTask(ctx context.Context, payload model.SubmitPayload) (model.SubmitResponse, error)
	Upload(ctx context.Context, uploadURL string, env model.EncryptedEnvelope) error
	GetStatus(ctx context.Context, taskID string) (model.StatusEnvelope, error)
}

type Config struct {
	// PublicKey is the key holder's key. Every payload is sealed to it.
	PublicKey    *rsa.PublicKey
	BearerSecret string
	// KeyHolder, when set, lets TaskStatus attach signer identities.
	KeyHolder envelope.KeyUnwrapper
}

// Pipeline is immutable after New and safe for concurrent use.
type Pipeline struct {
	cfg      Config
	remote   Remote
	renderer *render.Renderer
	log      *zap.Logger
	metrics  *metrics.Metrics
	journal  *storage.Journal
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithJournal(j *storage.Journal) Option {
	return func(p *Pipeline) { p.journal = j }
}

func New(cfg Config, remote Remote, renderer *render.Renderer, opts ...Option) (*Pipeline, error) {
	if remote == nil {
		return nil, errors.New("pipeline: remote is required")
	}
	if renderer == nil {
		return nil, errors.New("pipeline: renderer is required")
	}
	p := &Pipeline{cfg: cfg, remote: remote, renderer: renderer}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p, nil
}

// requireKeys reports missing key material before anything is sealed.
func (p *Pipeline) requireKeys() *apperr.Error {
	if p.cfg.PublicKey == nil {
		return apperr.Crypto(apperr.CodeMissingConfiguration, "Invalid KMS public key setting", nil)
	}
	if p.cfg.BearerSecret == "" {
		return apperr.Crypto(apperr.CodeMissingConfiguration, "Invalid bearerSecret setting", nil)
	}
	return nil
}

func (p *Pipeline) record(mode string, index int, res model.SendResponse, err error) {
	outcome := metrics.OutcomeSubmitted
	entry := storage.Entry{Mode: mode, Index: index, TaskID: res.TaskID, BindingDataHash: res.BindingDataHash, Status: storage.StatusSubmitted}
	if err != nil {
		outcome = metrics.OutcomeFailed
		entry.Status = storage.StatusFailed
		entry.Error = apperr.As(err).Public()
	}
	p.metrics.Submission(mode, outcome)
	if p.journal == nil {
		return
	}
	if _, jerr := p.journal.Append(entry, res.TaskPassword); jerr != nil {
		p.log.Warn("failed to journal submission", zap.String("mode", mode), zap.String("taskID", res.TaskID), zap.Error(jerr))
	}
}
