// Package archive keeps the original statement files in Cloud Storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/registry"
)

// contentTypes maps statement formats to object content types
var contentTypes = map[string]string{
	"ofx":  "application/x-ofx",
	"csv":  "text/csv",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"xls":  "application/vnd.ms-excel",
}

// GCSArchiver writes statement files to a bucket
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
	newID  func() string
}

// GCSArchiverOption configures a GCSArchiver
type GCSArchiverOption func(*GCSArchiver)

// WithPrefix sets the object name prefix (default "statements")
func WithPrefix(prefix string) GCSArchiverOption {
	return func(a *GCSArchiver) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

// NewGCSArchiver creates a new GCSArchiver with the given client and options
func NewGCSArchiver(client *storage.Client, bucket string, opts ...GCSArchiverOption) *GCSArchiver {
	a := &GCSArchiver{
		client: client,
		bucket: bucket,
		prefix: "statements",
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObjectName returns where a statement received at t is stored:
// {prefix}/{account}/{YYYY}/{MM}/{id}-{name}
func ObjectName(prefix, accountID, fileName, id string, t time.Time) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" {
		base = "statement"
	}
	return path.Join(prefix, accountID, t.Format("2006/01"), id+"-"+base)
}

// ContentType returns the object content type for a statement file name
func ContentType(fileName string) string {
	ft, err := registry.DetectFormat(fileName)
	if err != nil {
		return "application/octet-stream"
	}
	return contentTypes[string(ft)]
}

// Archive uploads body and returns its gs:// URI
func (a *GCSArchiver) Archive(ctx context.Context, accountID, fileName string, body []byte) (string, error) {
	name := ObjectName(a.prefix, accountID, fileName, a.newID(), a.now().UTC())

	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = ContentType(fileName)
	writer.Metadata = map[string]string{
		"accountId":    accountID,
		"originalName": fileName,
	}

	if _, err := writer.Write(body); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS object %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}
