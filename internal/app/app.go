// Package app wires the configured services together for the CLI and the
// HTTP server.
package app

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/config"
	"github.com/vocdoni/gofirma/esign/internal/crypto/certs"
	"github.com/vocdoni/gofirma/esign/internal/crypto/envelope"
	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/httpapi"
	"github.com/vocdoni/gofirma/esign/internal/metrics"
	"github.com/vocdoni/gofirma/esign/internal/net"
	"github.com/vocdoni/gofirma/esign/internal/pipeline"
	"github.com/vocdoni/gofirma/esign/internal/render"
	"github.com/vocdoni/gofirma/esign/internal/storage"
	"github.com/vocdoni/gofirma/esign/internal/verify"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Client   *net.Client
	Renderer *render.Renderer
	Pipeline *pipeline.Pipeline
	Verifier *verify.Verifier
	Journal  *storage.Journal

	// PublicKeyErr is why no public key could be loaded. Only live sends
	// need one, so it is reported by RequirePublicKey rather than New.
	PublicKeyErr error
	// Holder is the PKCS#12 key holder identity, when configured.
	Holder *keys.Holder

	publicKey *rsa.PublicKey
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	a.Client = net.New(net.Config{
		BaseURL: cfg.API.BaseURL,
		Version: cfg.API.Version,
		APIKey:  cfg.API.Key,
		Timeout: cfg.API.Timeout,
		Retry: net.RetryConfig{
			MaxAttempts: cfg.API.Retry.MaxAttempts,
			BaseDelay:   cfg.API.Retry.BaseDelay,
			MaxDelay:    cfg.API.Retry.MaxDelay,
		},
	}, net.WithLogger(log.Named("net")), net.WithObserver(a.Metrics.ObserveRemote))

	var font []byte
	if cfg.Render.FallbackFont != "" {
		var err error
		if font, err = os.ReadFile(cfg.Render.FallbackFont); err != nil {
			return nil, fmt.Errorf("failed to read fallback font: %w", err)
		}
	}
	r, err := render.New(font, log.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("failed to load renderer: %w", err)
	}
	if err := r.CheckCJK(); err != nil {
		if cfg.Render.RequireCJK {
			return nil, fmt.Errorf("%w; set render.fallback_font to a TrueType font covering Traditional Chinese, such as Noto Sans TC, or disable render.require_cjk", err)
		}
		log.Warn("zh-TW signer names cannot be rendered", zap.Error(err))
	}
	a.Renderer = r

	if cfg.Keys.HolderP12 != "" {
		if a.Holder, err = keys.LoadPKCS12(cfg.Keys.HolderP12, cfg.Keys.HolderP12Password); err != nil {
			return nil, fmt.Errorf("%s: %w", keys.FriendlyError(err), err)
		}
	}
	var token *keys.PKCS11Source
	if cfg.Keys.PKCS11.Lib != "" {
		token = &keys.PKCS11Source{
			LibPath: cfg.Keys.PKCS11.Lib,
			Slot:    cfg.Keys.PKCS11.Slot,
			Label:   cfg.Keys.PKCS11.Label,
			PIN:     cfg.Keys.PKCS11.PIN,
			Log:     log.Named("pkcs11"),
		}
	}
	a.publicKey, a.PublicKeyErr = loadPublicKey(cfg.Keys, token)
	if a.PublicKeyErr != nil {
		log.Warn("no public key available, live sends are disabled", zap.Error(a.PublicKeyErr))
	}

	// The holder opens status task configs; a token is used when no
	// PKCS#12 identity is configured.
	var unwrapper envelope.KeyUnwrapper
	switch {
	case a.Holder != nil:
		unwrapper = a.Holder
	case token != nil:
		unwrapper = token
	}

	if cfg.Journal.Dir != "" {
		if a.Journal, err = storage.Open(cfg.Journal.Dir, cfg.Journal.Passphrase, log.Named("journal")); err != nil {
			return nil, err
		}
	}

	var roots *x509.CertPool
	if cfg.Verify.TrustRoots != "" {
		if roots, err = certs.LoadPool(cfg.Verify.TrustRoots); err != nil {
			return nil, fmt.Errorf("failed to load trust roots: %w", err)
		}
	}
	a.Verifier = verify.New(roots, log.Named("verify"))

	opts := []pipeline.Option{pipeline.WithLogger(log.Named("pipeline")), pipeline.WithMetrics(a.Metrics)}
	if a.Journal != nil {
		opts = append(opts, pipeline.WithJournal(a.Journal))
	}
	a.Pipeline, err = pipeline.New(pipeline.Config{
		PublicKey:    a.publicKey,
		BearerSecret: cfg.BearerSecret,
		KeyHolder:    unwrapper,
	}, a.Client, a.Renderer, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func loadPublicKey(cfg config.KeysConfig, token *keys.PKCS11Source) (*rsa.PublicKey, error) {
	if token != nil {
		return token.PublicKey()
	}
	if cfg.PublicKeyFile == "" {
		return nil, errors.New("no public key file configured")
	}
	return keys.LoadPublicKeyPEM(cfg.PublicKeyFile)
}

// RequirePublicKey fails when live sends cannot be sealed.
func (a *App) RequirePublicKey() error {
	if a.PublicKeyErr != nil {
		return fmt.Errorf("invalid KMS public key: %w", a.PublicKeyErr)
	}
	return nil
}

func (a *App) HTTPServer() *http.Server {
	api := httpapi.New(httpapi.Config{
		APIKey:       a.Config.API.Key,
		BearerSecret: a.Config.BearerSecret,
		HasPublicKey: a.publicKey != nil,
		BodyLimit:    int64(a.Config.HTTP.BodyLimitMB) << 20,
	}, a.Pipeline, a.Verifier, httpapi.WithLogger(a.Log.Named("http")), httpapi.WithMetrics(a.Metrics))
	return &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs the HTTP server until ctx is done, then drains it.
func (a *App) Serve(ctx context.Context) error {
	srv := a.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	_ = a.Log.Sync()
}
