// Command mockservice is an in-memory stand-in for the remote task service,
// for local development against the esign CLI and HTTP API.
package main

import (
	"encoding/pem"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/crypto/keys"
	"github.com/vocdoni/gofirma/esign/internal/logging"
	"github.com/vocdoni/gofirma/esign/internal/model"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:8090", "listen address")
		apiKey    = flag.String("api-key", "", "expected API key; empty accepts any")
		p12Path   = flag.String("holder", "", "PKCS#12 key holder identity; a fresh one is generated when empty")
		password  = flag.String("password", "", "password of --holder, also used for --holder-out")
		pubOut    = flag.String("public-key-out", "", "write the holder public key PEM here")
		certOut   = flag.String("cert-out", "", "write the holder certificate PEM here, for use as a trust root")
		holderOut = flag.String("holder-out", "", "write the generated identity as PKCS#12 here")
		autoSign  = flag.Bool("auto-sign", true, "complete tasks as soon as the document is uploaded")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := logging.New(logging.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	holder, err := loadHolder(*p12Path, *password)
	if err != nil {
		log.Fatal("failed to load key holder", zap.Error(err))
	}
	if err := writeKeyMaterial(holder, *pubOut, *certOut, *holderOut, *password); err != nil {
		log.Fatal("failed to write key material", zap.Error(err))
	}

	svc := newService(serviceConfig{
		APIKey:   *apiKey,
		AutoSign: *autoSign,
		Limits: model.LimitConfig{
			MaxSignerNumber:         10,
			MaxBulkSendSignerNumber: 100,
			MaxFieldPerType:         20,
			MaxFileSizeInMb:         10,
		},
	}, holder, log)

	srv := &http.Server{Addr: *addr, Handler: svc.routes(), ReadHeaderTimeout: 10 * time.Second}
	log.Info("mock task service listening", zap.String("addr", *addr), zap.String("holder", holder.Cert.Subject.CommonName))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func loadHolder(path, password string) (*keys.Holder, error) {
	if path != "" {
		h, err := keys.LoadPKCS12(path, password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys.FriendlyError(err), err)
		}
		return h, nil
	}
	return keys.GenerateHolder("esign mock key holder", 2048)
}

func writeKeyMaterial(h *keys.Holder, pubOut, certOut, holderOut, password string) error {
	if pubOut != "" {
		data, err := keys.EncodePublicKeyPEM(h.PublicKey())
		if err != nil {
			return err
		}
		if err := os.WriteFile(pubOut, data, 0o644); err != nil {
			return err
		}
	}
	if certOut != "" {
		data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: h.Cert.Raw})
		if err := os.WriteFile(certOut, data, 0o644); err != nil {
			return err
		}
	}
	if holderOut != "" {
		data, err := h.EncodePKCS12(password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(holderOut, data, 0o600); err != nil {
			return err
		}
	}
	return nil
}
