// Package catalog maintains the mapping from public model names to vendor
// provider/model identities.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/openai"
	"chatrelay/internal/upstream"
)

// ErrNoModels indicates the vendor returned zero models that survive the
// configured visibility filters.
var ErrNoModels = errors.New("no usable models")

// Default identity used when a requested model name is unknown. Lookups
// never fail; unknown names degrade to this pair.
const (
	DefaultProvider = "default"
	DefaultModel    = "chat-standard"
)

// Identity names a vendor provider/model pair.
type Identity struct {
	Provider string
	Model    string
}

// Fetcher retrieves the vendor model list.
type Fetcher interface {
	FetchModels(ctx context.Context) ([]upstream.Model, error)
}

// Options control which vendor models are exposed.
type Options struct {
	ShowAdvanced   bool
	ShowDeprecated bool
}

// Catalog caches the filtered vendor model list and resolves model names.
type Catalog struct {
	fetcher Fetcher
	opts    Options

	mu     sync.RWMutex
	byName map[string]Identity
	models []upstream.Model
}

// New constructs an empty catalog; call Refresh to populate it.
func New(fetcher Fetcher, opts Options) *Catalog {
	return &Catalog{
		fetcher: fetcher,
		opts:    opts,
		byName:  make(map[string]Identity),
	}
}

// Refresh fetches the vendor model list and rebuilds the name mapping.
// Returns ErrNoModels when filtering leaves nothing usable; the previous
// mapping is kept in that case.
func (c *Catalog) Refresh(ctx context.Context) error {
	fetched, err := c.fetcher.FetchModels(ctx)
	if err != nil {
		return fmt.Errorf("refresh model catalog: %w", err)
	}

	kept := make([]upstream.Model, 0, len(fetched))
	byName := make(map[string]Identity, len(fetched))
	for _, m := range fetched {
		if m.Advanced && !c.opts.ShowAdvanced {
			continue
		}
		if m.Deprecated && !c.opts.ShowDeprecated {
			continue
		}
		kept = append(kept, m)
		byName[m.Name] = Identity{Provider: m.Provider, Model: m.ModelID}
	}

	if len(kept) == 0 {
		return ErrNoModels
	}

	c.mu.Lock()
	c.models = kept
	c.byName = byName
	c.mu.Unlock()
	return nil
}

// Identity resolves a requested model name, falling back to the default
// provider/model pair for unknown or empty names.
func (c *Catalog) Identity(name string) Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if id, ok := c.byName[name]; ok {
		return id
	}
	return Identity{Provider: DefaultProvider, Model: DefaultModel}
}

// List renders the cached models as an OpenAI model list.
func (c *Catalog) List() openai.ModelList {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now().Unix()
	data := make([]openai.Model, 0, len(c.models))
	for _, m := range c.models {
		data = append(data, openai.Model{
			ID:      m.Name,
			Object:  "model",
			Created: now,
			OwnedBy: m.Provider,
		})
	}
	return openai.ModelList{Object: "list", Data: data}
}
