// Package identity gives this installation a stable node id.
//
// The id is minted once, stored as JSON next to the local database and
// reused on every start. It is the value recorded in a remote row's
// acknowledgment set.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quyen-luc/prices-app/internal/filex"
	"github.com/quyen-luc/prices-app/internal/logging"
)

// FallbackPrefix marks an id that could not be persisted.
const FallbackPrefix = "fallback-"

// Record is the on-disk form of the identity file.
type Record struct {
	AppID     string    `json:"app_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider loads or creates the node id and caches it for the process.
type Provider struct {
	path string
	log  logging.Logger

	mu sync.Mutex
	id string
}

func NewProvider(path string, log logging.Logger) *Provider {
	if log == nil {
		log = logging.Nop()
	}
	return &Provider{path: path, log: log}
}

// NodeID returns the persisted id, creating it on first use. When the file
// cannot be read or written a process-local fallback id is returned instead.
func (p *Provider) NodeID(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	rec, err := LoadOrCreate(p.path)
	if err != nil {
		p.id = FallbackPrefix + uuid.NewString()
		p.log.Warn(ctx, "using fallback node id", "path", p.path, "node_id", p.id, "error", err)
		return p.id
	}

	p.id = rec.AppID
	return p.id
}

// LoadOrCreate reads the identity file, writing a new one if it does not exist.
func LoadOrCreate(path string) (Record, error) {
	rec, err := Load(path)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Record{}, err
	}

	rec = Record{AppID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("encode identity: %w", err)
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return Record{}, fmt.Errorf("write identity: %w", err)
	}
	return rec, nil
}

// Load reads an existing identity file.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode identity %s: %w", path, err)
	}
	if rec.AppID == "" {
		return Record{}, fmt.Errorf("identity %s: empty app_id", path)
	}
	return rec, nil
}
