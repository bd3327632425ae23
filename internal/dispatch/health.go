package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/storage"
)

// Canned recommendations keyed on a farm's health status.
const (
	GoodHealthRecommendation = "Keep up the current care routine and continue monitoring the plots regularly."
	FairHealthRecommendation = "Some plots need attention. Review the lowest-scoring plots and deal with any pest or nutrient problems early."
	PoorHealthRecommendation = "Immediate action is needed. Inspect every plot for disease and pests and consider consulting an agronomist."
	NoHealthRecommendation   = "No health status has been recorded for this farm yet."
)

// healthWindow is how far back the average health score looks.
const healthWindow = 30 * 24 * time.Hour

type PlotStatusData struct {
	Plot             storage.Plot          `json:"plot"`
	LatestMetric     *storage.HealthMetric `json:"latestMetric,omitempty"`
	LastHarvest      *storage.Harvest      `json:"lastHarvest,omitempty"`
	EstimatedHarvest *time.Time            `json:"estimatedHarvest,omitempty"`
}

func (d *Dispatcher) plotStatus(ctx context.Context, e intent.EntityMap, _ int64) (Result, error) {
	if e.PlotID == nil {
		return Result{}, &clarification{msg: "Which plot do you mean? Tell me the plot number."}
	}
	plotID := *e.PlotID

	var data PlotStatusData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := d.repo.GetPlot(gctx, plotID)
		if err != nil {
			return notFound(err, "plot %d", plotID)
		}
		data.Plot = p
		return nil
	})
	g.Go(func() error {
		m, err := d.repo.LatestHealthMetric(gctx, plotID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest health metric: %w", err)
		}
		data.LatestMetric = &m
		return nil
	})
	g.Go(func() error {
		h, err := d.repo.LastHarvest(gctx, plotID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("last harvest: %w", err)
		}
		data.LastHarvest = &h
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	data.EstimatedHarvest = d.estimateHarvest(data.Plot)

	p := data.Plot
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plot %s (%s", p.Name, strings.ToLower(p.CropType))
	if p.Variety != "" {
		sb.WriteString(", " + p.Variety)
	}
	fmt.Fprintf(&sb, ") is %s.", strings.ToLower(p.Status))
	if m := data.LatestMetric; m != nil {
		fmt.Fprintf(&sb, " Latest health score is %.1f with %.1f%% disease incidence, recorded %s.",
			m.HealthScore, m.DiseaseIncidence, m.RecordedAt.Format(dateLayout))
	} else {
		sb.WriteString(" No health checks have been recorded.")
	}
	if h := data.LastHarvest; h != nil {
		fmt.Fprintf(&sb, " Last harvest was %.0f kg on %s.", h.QuantityKg, h.HarvestedAt.Format(dateLayout))
	}
	if est := data.EstimatedHarvest; est != nil && est.After(d.clock.Now()) {
		fmt.Fprintf(&sb, " Next harvest expected around %s.", est.Format(dateLayout))
	}
	return Result{Data: data, Message: sb.String()}, nil
}

type FarmHealthData struct {
	Farm           storage.Farm `json:"farm"`
	PlotCount      int          `json:"plotCount"`
	AverageScore   *float64     `json:"averageScore,omitempty"`
	Samples        int          `json:"samples"`
	Recommendation string       `json:"recommendation"`
}

func (d *Dispatcher) farmHealth(ctx context.Context, e intent.EntityMap, userID int64) (Result, error) {
	farmID, err := d.resolveFarmID(ctx, e, userID)
	if err != nil {
		return Result{}, err
	}

	var data FarmHealthData
	since := d.clock.Now().Add(-healthWindow)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := d.repo.GetFarm(gctx, farmID)
		if err != nil {
			return notFound(err, "farm %d", farmID)
		}
		data.Farm = f
		return nil
	})
	g.Go(func() error {
		plots, err := d.repo.ListPlotsByFarm(gctx, farmID)
		if err != nil {
			return fmt.Errorf("listing plots: %w", err)
		}
		data.PlotCount = len(plots)
		return nil
	})
	g.Go(func() error {
		avg, n, err := d.repo.AverageHealthScore(gctx, farmID, since)
		if err != nil {
			return fmt.Errorf("averaging health scores: %w", err)
		}
		if n > 0 {
			data.AverageScore = &avg
		}
		data.Samples = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	data.Recommendation = recommendation(data.Farm.HealthStatus)

	status := strings.ToUpper(strings.TrimSpace(data.Farm.HealthStatus))
	if status == "" {
		status = "not recorded"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s's health status is %s", data.Farm.Name, status)
	if data.AverageScore != nil {
		fmt.Fprintf(&sb, " with an average health score of %.1f across %s over the last 30 days",
			*data.AverageScore, plural(data.Samples, "reading", "readings"))
	}
	sb.WriteString(". " + data.Recommendation)
	return Result{Data: data, Message: sb.String()}, nil
}

func recommendation(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "good":
		return GoodHealthRecommendation
	case "fair":
		return FairHealthRecommendation
	case "poor":
		return PoorHealthRecommendation
	}
	return NoHealthRecommendation
}
