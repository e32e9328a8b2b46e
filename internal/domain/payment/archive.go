package payment

import (
	"context"
	"path"
	"time"

	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
	"github.com/yogaspace/yogaspace-api/internal/pkg/storage"
)

const defaultArchivePrefix = "webhooks"

// Archiver keeps verified webhook payloads for audit.
type Archiver interface {
	Archive(ctx context.Context, evt *provider.Event, payload []byte) error
}

// ObjectArchiver writes each event to <prefix>/<yyyy>/<mm>/<dd>/<event id>.json.
// Redeliveries overwrite the same object.
type ObjectArchiver struct {
	store  storage.ObjectStore
	prefix string
	now    func() time.Time
}

func NewObjectArchiver(store storage.ObjectStore, prefix string) *ObjectArchiver {
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &ObjectArchiver{store: store, prefix: prefix, now: time.Now}
}

func (a *ObjectArchiver) key(evt *provider.Event) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), evt.ID+".json")
}

func (a *ObjectArchiver) Archive(ctx context.Context, evt *provider.Event, payload []byte) error {
	return a.store.Put(ctx, a.key(evt), payload, "application/json")
}
