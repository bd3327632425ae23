// Package dispatch answers a classified question by running the matching
// hand-written lookup against the farm store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/storage"
)

// UnknownIntentMessage is returned for intents outside the closed set.
const UnknownIntentMessage = "I don't understand that question yet. Ask me about upcoming harvests, tasks, plot status, yield forecasts or farm health."

const dateLayout = "2006-01-02"

// Repository is the subset of the farm store the lookups read from.
// Implemented by storage.Store.
type Repository interface {
	GetFarm(ctx context.Context, id int64) (storage.Farm, error)
	ListFarmsByOwner(ctx context.Context, ownerID int64) ([]storage.Farm, error)
	GetPlot(ctx context.Context, id int64) (storage.Plot, error)
	ListPlotsByFarm(ctx context.Context, farmID int64) ([]storage.Plot, error)
	ListTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error)
	CountTasks(ctx context.Context, farmIDs []int64, today time.Time) (storage.TaskCounts, error)
	LatestHealthMetric(ctx context.Context, plotID int64) (storage.HealthMetric, error)
	LastHarvest(ctx context.Context, plotID int64) (storage.Harvest, error)
	AverageHealthScore(ctx context.Context, farmID int64, since time.Time) (float64, int, error)
	AverageHarvestKg(ctx context.Context, farmID int64) (float64, int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Result is the outcome of one lookup. Data is nil whenever Error is set.
type Result struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Config holds the tunables of the lookups.
type Config struct {
	// HarvestOffsetMonths is added to a plot's planted date to estimate its
	// harvest. It is a heuristic, not an agronomic rule.
	HarvestOffsetMonths int
	ForecastMonths      int
	QueryTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.HarvestOffsetMonths <= 0 {
		c.HarvestOffsetMonths = 9
	}
	if c.ForecastMonths <= 0 {
		c.ForecastMonths = 3
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher routes an intent to its lookup.
type Dispatcher struct {
	repo  Repository
	cfg   Config
	clock Clock
}

func New(repo Repository, cfg Config) *Dispatcher {
	return NewWithClock(repo, cfg, realClock{})
}

// NewWithClock creates a Dispatcher with a custom clock (for testing).
func NewWithClock(repo Repository, cfg Config, clock Clock) *Dispatcher {
	return &Dispatcher{repo: repo, cfg: cfg.withDefaults(), clock: clock}
}

type lookup func(ctx context.Context, e intent.EntityMap, userID int64) (Result, error)

// Execute runs the lookup for a.Intent. It never fails: lookup errors and
// panics become an apology with the error recorded in Result.Error.
func (d *Dispatcher) Execute(ctx context.Context, a intent.Analysis, userID int64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lookup panicked", "intent", a.Intent, "panic", r)
			res = Result{Message: apology(a.Intent), Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	var run lookup
	switch a.Intent {
	case intent.NextHarvest:
		run = d.nextHarvest
	case intent.TasksByLocation:
		run = d.tasksByLocation
	case intent.PlotStatus:
		run = d.plotStatus
	case intent.Forecast:
		run = d.forecast
	case intent.FarmHealth:
		run = d.farmHealth
	case intent.TaskSummary:
		run = d.taskSummary
	default:
		return Result{Message: UnknownIntentMessage}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	res, err := run(ctx, a.Entities, userID)
	if err == nil {
		return res
	}

	var cl *clarification
	if errors.As(err, &cl) {
		return Result{Message: cl.msg}
	}

	slog.Warn("lookup failed", "intent", a.Intent, "user_id", userID, "error", err)
	var nf *notFoundError
	if errors.As(err, &nf) {
		return Result{Message: fmt.Sprintf("Sorry, I couldn't find %s.", nf.what), Error: err.Error()}
	}
	return Result{Message: apology(a.Intent), Error: err.Error()}
}

func apology(in intent.Intent) string {
	switch in {
	case intent.NextHarvest:
		return "Sorry, I couldn't work out the next harvest right now."
	case intent.TasksByLocation:
		return "Sorry, I couldn't load those tasks right now."
	case intent.PlotStatus:
		return "Sorry, I couldn't check that plot right now."
	case intent.Forecast:
		return "Sorry, I couldn't build a forecast right now."
	case intent.FarmHealth:
		return "Sorry, I couldn't check the farm's health right now."
	case intent.TaskSummary:
		return "Sorry, I couldn't summarize your tasks right now."
	}
	return "Sorry, I couldn't answer that right now."
}

// clarification is a question back to the user rather than a failure.
type clarification struct{ msg string }

func (c *clarification) Error() string { return c.msg }

type notFoundError struct {
	what string
	err  error
}

func (e *notFoundError) Error() string { return e.what + " not found" }
func (e *notFoundError) Unwrap() error { return e.err }

// notFound converts storage.ErrNotFound into a notFoundError naming what was missing.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &notFoundError{what: fmt.Sprintf(format, args...), err: err}
	}
	return err
}

// resolveFarmID picks the farm a question is about: the explicit id, or the
// user's only farm.
func (d *Dispatcher) resolveFarmID(ctx context.Context, e intent.EntityMap, userID int64) (int64, error) {
	if e.FarmID != nil {
		return *e.FarmID, nil
	}
	farms, err := d.repo.ListFarmsByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing farms: %w", err)
	}
	switch len(farms) {
	case 0:
		return 0, &clarification{msg: "You don't have any farms set up yet."}
	case 1:
		return farms[0].ID, nil
	}
	names := make([]string, len(farms))
	for i, f := range farms {
		names[i] = fmt.Sprintf("%s (farm %d)", f.Name, f.ID)
	}
	return 0, &clarification{msg: "Which farm do you mean? You have " + strings.Join(names, ", ") + "."}
}

// userFarmIDs returns the explicit farm or all of the user's farms.
func (d *Dispatcher) userFarmIDs(ctx context.Context, e intent.EntityMap, userID int64) ([]int64, error) {
	if e.FarmID != nil {
		return []int64{*e.FarmID}, nil
	}
	farms, err := d.repo.ListFarmsByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing farms: %w", err)
	}
	ids := make([]int64, len(farms))
	for i, f := range farms {
		ids[i] = f.ID
	}
	return ids, nil
}

func (d *Dispatcher) today() time.Time {
	now := d.clock.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// estimateHarvest returns planted date plus the configured offset, or nil
// when the plot has no planted date.
func (d *Dispatcher) estimateHarvest(p storage.Plot) *time.Time {
	if p.PlantedDate == nil {
		return nil
	}
	t := p.PlantedDate.AddDate(0, d.cfg.HarvestOffsetMonths, 0)
	return &t
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
