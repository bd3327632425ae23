package schema

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/fieldhand/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLister struct {
	farms map[int64][]storage.Farm
	err   error
	calls int
}

func (f *fakeLister) ListFarmsByOwner(_ context.Context, ownerID int64) ([]storage.Farm, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.farms[ownerID], nil
}

func TestLoadCatalog(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	allowed := c.AllowedTables()
	for _, name := range []string{"farms", "plots", "tasks", "health_metrics", "harvests"} {
		if !allowed[name] {
			t.Errorf("%s should be allowed", name)
		}
	}
	restricted := c.RestrictedTables()
	for _, name := range []string{"users", "chat_messages", "generated_queries", "schema_version"} {
		if !restricted[name] {
			t.Errorf("%s should be restricted", name)
		}
		if allowed[name] {
			t.Errorf("%s must not be both allowed and restricted", name)
		}
	}
	if len(c.Relationships) == 0 || len(c.BusinessTerms) == 0 {
		t.Error("catalog should carry relationships and business terms")
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":      "tables: []",
		"not yaml":   "tables: [",
		"no columns": "tables:\n  - name: farms\n",
		"overlap":    "tables:\n  - name: users\n    columns: [{name: id, type: integer}]\nrestricted: [USERS]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseCatalog([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuild_ScopesByUser(t *testing.T) {
	lister := &fakeLister{farms: map[int64][]storage.Farm{
		1: {{ID: 10, Name: "Green Valley", Location: "Kasese"}},
		2: {{ID: 20, Name: "Riverside", Location: "Mbarara"}},
	}}
	p, err := NewProvider(lister, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	c1, _ := p.Build(ctx, 1)
	c2, _ := p.Build(ctx, 2)

	r1, r2 := c1.Render(), c2.Render()
	if !strings.Contains(r1, "id 10: Green Valley (Kasese)") || strings.Contains(r1, "Riverside") {
		t.Errorf("user 1 context wrong:\n%s", r1)
	}
	if !strings.Contains(r2, "id 20: Riverside (Mbarara)") || strings.Contains(r2, "Green Valley") {
		t.Errorf("user 2 context wrong:\n%s", r2)
	}
	if len(c1.Farms) != 1 || c1.Farms[0].ID != 10 {
		t.Errorf("user 1 farms = %+v", c1.Farms)
	}
	for _, tbl := range []string{"farms", "plots", "tasks", "health_metrics", "harvests", "shamba"} {
		if !strings.Contains(r1, tbl) {
			t.Errorf("rendered context missing %q", tbl)
		}
	}
	if strings.Contains(r1, "chat_messages") {
		t.Error("restricted tables must not be described to the model")
	}
}

func TestBuild_CachesScopeUntilTTL(t *testing.T) {
	lister := &fakeLister{farms: map[int64][]storage.Farm{1: {{ID: 1, Name: "A"}}}}
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, _ := NewProviderWithClock(lister, clock, time.Minute)
	ctx := context.Background()

	p.Build(ctx, 1)
	p.Build(ctx, 1)
	if lister.calls != 1 {
		t.Errorf("calls = %d, want 1 within TTL", lister.calls)
	}

	clock.Advance(61 * time.Second)
	p.Build(ctx, 1)
	if lister.calls != 2 {
		t.Errorf("calls = %d, want 2 after TTL", lister.calls)
	}

	p.Build(ctx, 2)
	if lister.calls != 3 {
		t.Errorf("calls = %d, want 3: scopes are cached per user", lister.calls)
	}
}

func TestBuild_ListerFailureDegrades(t *testing.T) {
	p, _ := NewProvider(&fakeLister{err: errors.New("db down")}, time.Minute)

	c, err := p.Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Scoped || len(c.Farms) != 0 {
		t.Errorf("context = %+v, want unscoped catalog", c)
	}
	if r := c.Render(); strings.Contains(r, "The user's farms") || !strings.Contains(r, "Tables:") {
		t.Errorf("degraded render wrong:\n%s", r)
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := NewProvider(&fakeLister{err: context.Canceled}, time.Minute)

	if _, err := p.Build(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRender_NoFarms(t *testing.T) {
	p, _ := NewProvider(&fakeLister{}, time.Minute)
	c, _ := p.Build(context.Background(), 99)
	if !strings.Contains(c.Render(), "- none") {
		t.Error("a scoped user with no farms should be told so")
	}
}
