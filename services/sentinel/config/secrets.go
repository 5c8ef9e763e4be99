// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// DefaultSecretsDir is where container runtimes mount secret files.
const DefaultSecretsDir = "/run/secrets"

// MinMlockLimitKB is the locked-memory limit below which sealed secrets may
// be swapped to disk.
const MinMlockLimitKB = 512

// ErrSecretNotFound is returned when neither source holds a value.
var ErrSecretNotFound = errors.New("secret not found")

var (
	memguardInitOnce sync.Once

	// secretsDir is a variable so tests can point it at a temp dir.
	secretsDir = DefaultSecretsDir
)

// SecretRef names where a secret lives. Env wins over File; File is
// relative to /run/secrets.
type SecretRef struct {
	Env  string `yaml:"env"`
	File string `yaml:"file"`
}

// IsZero reports whether no source is configured.
func (r SecretRef) IsZero() bool {
	return r.Env == "" && r.File == ""
}

// Seal resolves the secret into a memguard enclave.
//
// Description:
//
//	The plaintext is copied into a locked buffer, sealed, and the buffer
//	destroyed. Callers open the enclave only for the duration of a use.
//
// Outputs:
//
//	*memguard.Enclave - Sealed secret.
//	error - ErrSecretNotFound when no source holds a non-empty value.
func (r SecretRef) Seal() (*memguard.Enclave, error) {
	initMemguard()

	raw, source := r.lookup()
	if len(raw) == 0 {
		return nil, ErrSecretNotFound
	}
	buf := memguard.NewBufferFromBytes(raw)
	slog.Debug("Sealed secret", slog.String("source", source))
	return buf.Seal(), nil
}

// Reveal resolves the secret as a plain string. Use only for client
// libraries that keep the value themselves, such as API keys handed to an
// SDK constructor.
func (r SecretRef) Reveal() (string, error) {
	enclave, err := r.Seal()
	if err != nil {
		return "", err
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}

// lookup returns the trimmed value and a description of where it came from.
// The returned slice is owned by the caller and is wiped by memguard.
func (r SecretRef) lookup() ([]byte, string) {
	if r.Env != "" {
		if v := strings.TrimSpace(os.Getenv(r.Env)); v != "" {
			return []byte(v), "env:" + r.Env
		}
	}
	if r.File == "" {
		return nil, ""
	}
	path := filepath.Join(secretsDir, filepath.Base(r.File))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ""
	}
	return []byte(strings.TrimSpace(string(data))), "file:" + path
}

// initMemguard installs memguard's interrupt handler once and reports
// whether the locked-memory limit is sufficient.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		ok, limitKB := checkMlockLimit()
		if ok {
			slog.Debug("Secure memory initialized", slog.Int64("mlock_limit_kb", limitKB))
			return
		}
		slog.Warn("mlock limit insufficient for sealed secrets",
			slog.Int64("current_limit_kb", limitKB),
			slog.Int("required_kb", MinMlockLimitKB))
	})
}
