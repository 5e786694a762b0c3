// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup uploads registry store snapshots to Google Cloud
// Storage, so a node can be rebuilt with its published records and
// registry indexes intact.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader streams snapshot objects into a GCS bucket.
type Uploader struct {
	client *storage.Client
	bucket string
}

// NewUploader creates an Uploader for the given bucket.
//
// With an empty credentialsPath the client uses Application Default
// Credentials; otherwise the service account key at the path is used.
func NewUploader(ctx context.Context, bucket, credentialsPath string) (*Uploader, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	return &Uploader{client: client, bucket: bucket}, nil
}

// Bucket returns the configured bucket name.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// Upload streams one snapshot into the named object.
//
// write receives the object writer and produces the snapshot bytes; the
// object is only finalized when both write and the writer close succeed.
func (u *Uploader) Upload(ctx context.Context, objectName string, write func(io.Writer) error) error {
	obj := u.client.Bucket(u.bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if err := write(writer); err != nil {
		_ = writer.Close()
		return fmt.Errorf("streaming snapshot to gs://%s/%s: %w", u.bucket, objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing gs://%s/%s: %w", u.bucket, objectName, err)
	}
	return nil
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	return u.client.Close()
}
