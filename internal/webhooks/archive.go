package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// Archiver keeps verified raw payloads for audit and replay.
type Archiver interface {
	Archive(ctx context.Context, eventID, eventType string, payload []byte, receivedAt time.Time) error
}

// ObjectUploader is satisfied by storage.MinIOStorage.
type ObjectUploader interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// ObjectArchiver writes payloads to object storage under
// <prefix>/<yyyy>/<mm>/<dd>/<event id>.json.
type ObjectArchiver struct {
	store  ObjectUploader
	prefix string
}

func NewObjectArchiver(store ObjectUploader, prefix string) *ObjectArchiver {
	if prefix == "" {
		prefix = "webhooks"
	}
	return &ObjectArchiver{store: store, prefix: prefix}
}

func (a *ObjectArchiver) Key(eventID string, receivedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, receivedAt.UTC().Format("2006/01/02"), eventID)
}

func (a *ObjectArchiver) Archive(ctx context.Context, eventID, _ string, payload []byte, receivedAt time.Time) error {
	return a.store.UploadFile(ctx, a.Key(eventID, receivedAt), bytes.NewReader(payload), int64(len(payload)), "application/json")
}
