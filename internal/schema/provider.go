package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/fieldhand/internal/storage"
)

// FarmLister lists the farms a user owns. Implemented by storage.Store.
type FarmLister interface {
	ListFarmsByOwner(ctx context.Context, ownerID int64) ([]storage.Farm, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FarmRef is the part of a farm the model needs to resolve names to ids.
type FarmRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Context is the grounding handed to the model for one user.
type Context struct {
	Catalog *Catalog  `json:"catalog"`
	UserID  int64     `json:"userId"`
	Farms   []FarmRef `json:"farms"`
	// Scoped is false when the farm list could not be loaded.
	Scoped bool `json:"scoped"`
}

// Render produces the prompt text.
func (c Context) Render() string {
	var sb strings.Builder
	c.Catalog.render(&sb)
	if !c.Scoped {
		return sb.String()
	}
	sb.WriteString("The user's farms:\n")
	if len(c.Farms) == 0 {
		sb.WriteString("- none\n")
	}
	for _, f := range c.Farms {
		fmt.Fprintf(&sb, "- id %d: %s (%s)\n", f.ID, f.Name, f.Location)
	}
	return sb.String()
}

type scopeEntry struct {
	farms    []FarmRef
	cachedAt time.Time
}

// Provider builds per-user schema contexts. Farm scopes are cached per user
// for ttl.
type Provider struct {
	catalog *Catalog
	farms   FarmLister
	clock   Clock
	ttl     time.Duration

	mu     sync.RWMutex
	scopes map[int64]scopeEntry
}

// NewProvider creates a Provider over the embedded catalog.
func NewProvider(farms FarmLister, ttl time.Duration) (*Provider, error) {
	return NewProviderWithClock(farms, realClock{}, ttl)
}

// NewProviderWithClock creates a Provider with a custom clock (for testing).
func NewProviderWithClock(farms FarmLister, clock Clock, ttl time.Duration) (*Provider, error) {
	c, err := Load()
	if err != nil {
		return nil, err
	}
	return &Provider{
		catalog: c,
		farms:   farms,
		clock:   clock,
		ttl:     ttl,
		scopes:  make(map[int64]scopeEntry),
	}, nil
}

func (p *Provider) Catalog() *Catalog { return p.catalog }

// Build returns the context for userID. A failing farm lookup degrades to
// the catalog alone; only a cancelled ctx is an error.
func (p *Provider) Build(ctx context.Context, userID int64) (Context, error) {
	out := Context{Catalog: p.catalog, UserID: userID}

	p.mu.RLock()
	entry, ok := p.scopes[userID]
	p.mu.RUnlock()
	if ok && p.clock.Now().Before(entry.cachedAt.Add(p.ttl)) {
		out.Farms, out.Scoped = entry.farms, true
		return out, nil
	}

	farms, err := p.farms.ListFarmsByOwner(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return Context{}, ctx.Err()
		}
		slog.Warn("schema scope unavailable, using catalog only", "user_id", userID, "error", err)
		return out, nil
	}

	refs := make([]FarmRef, len(farms))
	for i, f := range farms {
		refs[i] = FarmRef{ID: f.ID, Name: f.Name, Location: f.Location}
	}

	p.mu.Lock()
	p.scopes[userID] = scopeEntry{farms: refs, cachedAt: p.clock.Now()}
	p.mu.Unlock()

	out.Farms, out.Scoped = refs, true
	return out, nil
}
