// Package storage keeps an append-only journal of live submissions.
package storage

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/esign/internal/crypto/vault"
)

const FileName = "journal.jsonl"

const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

var ErrNoPassword = errors.New("entry has no sealed task password")

type Entry struct {
	ID              string `json:"id"`
	Timestamp       string `json:"timestamp"`
	Mode            string `json:"mode"`
	Index           int    `json:"index"`
	TaskID          string `json:"taskID,omitempty"`
	BindingDataHash string `json:"bindingDataHash,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	SealedPassword  string `json:"sealedTaskPassword,omitempty"`
}

// Journal is safe for concurrent use by the recipients of one bulk call.
type Journal struct {
	mu         sync.Mutex
	filePath   string
	passphrase []byte
	log        *zap.Logger
	now        func() time.Time
}

// Open prepares a journal under dir. Task passwords are sealed only when a
// passphrase is given, and dropped otherwise.
func Open(dir, passphrase string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{
		filePath:   filepath.Join(dir, FileName),
		passphrase: []byte(passphrase),
		log:        log,
		now:        time.Now,
	}, nil
}

// Append fills ID and Timestamp, seals taskPassword and writes one line.
func (j *Journal) Append(entry Entry, taskPassword string) (Entry, error) {
	entry.ID = uuid.NewString()
	entry.Timestamp = j.now().UTC().Format(time.RFC3339)
	if taskPassword != "" && len(j.passphrase) > 0 {
		sealed, err := vault.Seal([]byte(taskPassword), j.passphrase)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to seal task password: %w", err)
		}
		entry.SealedPassword = base64.StdEncoding.EncodeToString(sealed)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.log.Debug("journal entry", zap.String("id", entry.ID), zap.String("taskID", entry.TaskID), zap.String("status", entry.Status))

	f, err := os.OpenFile(j.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return Entry{}, fmt.Errorf("failed to write entry: %w", err)
	}
	return entry, nil
}

// ReadAll returns every readable entry in write order. Damaged lines are skipped.
func (j *Journal) ReadAll() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			j.log.Warn("skipping damaged journal line", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// OpenTaskPassword recovers the task password sealed in e.
func (j *Journal) OpenTaskPassword(e Entry) (string, error) {
	if e.SealedPassword == "" {
		return "", ErrNoPassword
	}
	sealed, err := base64.StdEncoding.DecodeString(e.SealedPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed password: %w", err)
	}
	pw, err := vault.Open(sealed, j.passphrase)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
