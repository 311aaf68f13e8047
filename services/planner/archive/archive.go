// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package archive persists convergence reports to object storage.
//
// Reports are the audit trail for cache refreshes: which items were fetched,
// which failed, and why a run stopped. Archiving is strictly best-effort;
// a failed upload is logged and counted but never fails the run it records.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/graphsheet/seriessync/services/planner/converge"
)

// Config locates the report bucket.
type Config struct {
	Bucket string `json:"bucket" yaml:"bucket" validate:"required"`

	// Prefix is the object-name prefix inside the bucket.
	Prefix string `json:"prefix" yaml:"prefix"`

	// CredentialsFile is a service-account JSON path. Empty uses
	// application default credentials.
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// Archiver uploads convergence reports to a GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// New builds a GCS-backed archiver. Extra client options are appended after
// the configured credentials, which lets tests point the client at a fake
// endpoint.
func New(ctx context.Context, cfg Config, log *slog.Logger, extra ...option.ClientOption) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("archive: credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: create storage client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// objectName places a report under <prefix>/<start date>/<run id>.json so
// listings group by day.
func (a *Archiver) objectName(report *converge.Report) string {
	day := report.StartedAt.UTC().Format("2006-01-02")
	return path.Join(a.prefix, day, report.RunID+".json")
}

// Put uploads the report as indented JSON. The write is a single request,
// not a resumable session; reports are small.
func (a *Archiver) Put(ctx context.Context, report *converge.Report) error {
	if report == nil {
		return errors.New("archive: nil report")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode report: %w", err)
	}

	name := a.objectName(report)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		archivePutsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("archive: write gs://%s/%s: %w", a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		archivePutsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("archive: write gs://%s/%s: %w", a.bucket, name, err)
	}

	archivePutsTotal.WithLabelValues("ok").Inc()
	a.log.Info("report archived",
		"bucket", a.bucket,
		"object", name,
		"run_id", report.RunID,
	)
	return nil
}

// Close releases the underlying client.
func (a *Archiver) Close() error {
	return a.client.Close()
}
