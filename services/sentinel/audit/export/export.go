// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes the audit trail as JSON Lines to a local file or a
// Google Cloud Storage object.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Source is the read side of the audit store.
type Source interface {
	Recent(ctx context.Context, limit int) ([]model.StoredEvent, error)
}

// WriteJSONL writes up to limit records, newest first, one JSON object per
// line. It returns the number of records written.
func WriteJSONL(ctx context.Context, src Source, limit int, w io.Writer) (int, error) {
	events, err := src.Recent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("read audit records: %w", err)
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return i, fmt.Errorf("encode record %s: %w", ev.EventID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(events), err
	}
	return len(events), nil
}

// ToFile writes the export to path, creating parent directories.
func ToFile(ctx context.Context, src Source, limit int, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file %s: %w", path, err)
	}
	n, err := WriteJSONL(ctx, src, limit, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// GCSConfig locates the destination bucket.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// GCS uploads exports to a bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a storage client for cfg.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket}, nil
}

// Upload streams the export into gs://bucket/object.
func (g *GCS) Upload(ctx context.Context, src Source, limit int, object string) (int, error) {
	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	n, err := WriteJSONL(ctx, src, limit, w)
	if err != nil {
		_ = w.Close()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close GCS writer for %s: %w", object, err)
	}
	return n, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
