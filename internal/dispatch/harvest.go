package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/storage"
)

// maxUpcoming is how many harvests a farm-wide answer lists.
const maxUpcoming = 3

type HarvestEstimate struct {
	PlotID        int64      `json:"plotId"`
	PlotName      string     `json:"plotName"`
	PlantedDate   *time.Time `json:"plantedDate,omitempty"`
	EstimatedDate *time.Time `json:"estimatedDate,omitempty"`
}

type NextHarvestData struct {
	FarmID   int64             `json:"farmId,omitempty"`
	FarmName string            `json:"farmName,omitempty"`
	Upcoming []HarvestEstimate `json:"upcoming"`
	// Unplanted names plots with no planted date to estimate from.
	Unplanted []string `json:"unplanted,omitempty"`
}

func (d *Dispatcher) nextHarvest(ctx context.Context, e intent.EntityMap, userID int64) (Result, error) {
	if e.PlotID != nil {
		return d.nextHarvestForPlot(ctx, *e.PlotID)
	}

	farmID, err := d.resolveFarmID(ctx, e, userID)
	if err != nil {
		return Result{}, err
	}

	var farm storage.Farm
	var plots []storage.Plot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := d.repo.GetFarm(gctx, farmID)
		if err != nil {
			return notFound(err, "farm %d", farmID)
		}
		farm = f
		return nil
	})
	g.Go(func() error {
		p, err := d.repo.ListPlotsByFarm(gctx, farmID)
		if err != nil {
			return fmt.Errorf("listing plots: %w", err)
		}
		plots = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	now := d.clock.Now()
	data := NextHarvestData{FarmID: farm.ID, FarmName: farm.Name, Upcoming: []HarvestEstimate{}}
	for _, p := range plots {
		est := d.estimateHarvest(p)
		if est == nil {
			data.Unplanted = append(data.Unplanted, p.Name)
			continue
		}
		if est.After(now) {
			data.Upcoming = append(data.Upcoming, HarvestEstimate{PlotID: p.ID, PlotName: p.Name, PlantedDate: p.PlantedDate, EstimatedDate: est})
		}
	}
	sort.SliceStable(data.Upcoming, func(i, j int) bool {
		return data.Upcoming[i].EstimatedDate.Before(*data.Upcoming[j].EstimatedDate)
	})
	if len(data.Upcoming) > maxUpcoming {
		data.Upcoming = data.Upcoming[:maxUpcoming]
	}

	var sb strings.Builder
	if len(data.Upcoming) == 0 {
		fmt.Fprintf(&sb, "No upcoming harvests are expected on %s.", farm.Name)
	} else {
		first := data.Upcoming[0]
		fmt.Fprintf(&sb, "The next harvest on %s is %s, expected around %s.", farm.Name, first.PlotName, first.EstimatedDate.Format(dateLayout))
		if rest := data.Upcoming[1:]; len(rest) > 0 {
			parts := make([]string, len(rest))
			for i, h := range rest {
				parts[i] = fmt.Sprintf("%s on %s", h.PlotName, h.EstimatedDate.Format(dateLayout))
			}
			sb.WriteString(" After that: " + strings.Join(parts, ", ") + ".")
		}
	}
	if n := len(data.Unplanted); n > 0 {
		fmt.Fprintf(&sb, " %s no planted date, so no estimate: %s.", plural(n, "plot has", "plots have"), strings.Join(data.Unplanted, ", "))
	}
	return Result{Data: data, Message: sb.String()}, nil
}

func (d *Dispatcher) nextHarvestForPlot(ctx context.Context, plotID int64) (Result, error) {
	p, err := d.repo.GetPlot(ctx, plotID)
	if err != nil {
		return Result{}, notFound(err, "plot %d", plotID)
	}

	est := d.estimateHarvest(p)
	if est == nil {
		data := NextHarvestData{FarmID: p.FarmID, Upcoming: []HarvestEstimate{}, Unplanted: []string{p.Name}}
		return Result{
			Data:    data,
			Message: fmt.Sprintf("Plot %s has no planted date recorded, so I can't estimate its harvest.", p.Name),
		}, nil
	}

	data := NextHarvestData{
		FarmID:   p.FarmID,
		Upcoming: []HarvestEstimate{{PlotID: p.ID, PlotName: p.Name, PlantedDate: p.PlantedDate, EstimatedDate: est}},
	}
	msg := fmt.Sprintf("Plot %s should be ready for harvest around %s.", p.Name, est.Format(dateLayout))
	if !est.After(d.clock.Now()) {
		msg = fmt.Sprintf("Plot %s was expected to be ready for harvest around %s, so it is due now.", p.Name, est.Format(dateLayout))
	}
	return Result{Data: data, Message: msg}, nil
}

type ForecastPlot struct {
	PlotID        int64     `json:"plotId"`
	PlotName      string    `json:"plotName"`
	EstimatedDate time.Time `json:"estimatedDate"`
	ExpectedKg    float64   `json:"expectedKg"`
	// Basis is "plot" for the plot's own expectation, "farm_average" for the
	// farm's historical average harvest, or "unknown".
	Basis string `json:"basis"`
}

type ForecastData struct {
	FarmID   int64          `json:"farmId"`
	FarmName string         `json:"farmName"`
	Months   int            `json:"months"`
	Until    time.Time      `json:"until"`
	Plots    []ForecastPlot `json:"plots"`
	TotalKg  float64        `json:"totalKg"`
}

func (d *Dispatcher) forecast(ctx context.Context, e intent.EntityMap, userID int64) (Result, error) {
	farmID, err := d.resolveFarmID(ctx, e, userID)
	if err != nil {
		return Result{}, err
	}
	months := d.cfg.ForecastMonths
	if e.Months != nil && *e.Months > 0 {
		months = *e.Months
	}

	var (
		farm    storage.Farm
		plots   []storage.Plot
		avgKg   float64
		samples int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := d.repo.GetFarm(gctx, farmID)
		if err != nil {
			return notFound(err, "farm %d", farmID)
		}
		farm = f
		return nil
	})
	g.Go(func() error {
		p, err := d.repo.ListPlotsByFarm(gctx, farmID)
		if err != nil {
			return fmt.Errorf("listing plots: %w", err)
		}
		plots = p
		return nil
	})
	g.Go(func() error {
		a, n, err := d.repo.AverageHarvestKg(gctx, farmID)
		if err != nil {
			return fmt.Errorf("averaging harvests: %w", err)
		}
		avgKg, samples = a, n
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	now := d.clock.Now()
	data := ForecastData{FarmID: farm.ID, FarmName: farm.Name, Months: months, Until: now.AddDate(0, months, 0), Plots: []ForecastPlot{}}
	unknown := 0
	for _, p := range plots {
		est := d.estimateHarvest(p)
		if est == nil || !est.After(now) || est.After(data.Until) {
			continue
		}
		fp := ForecastPlot{PlotID: p.ID, PlotName: p.Name, EstimatedDate: *est, Basis: "unknown"}
		switch {
		case p.ExpectedYieldKg != nil:
			fp.ExpectedKg, fp.Basis = *p.ExpectedYieldKg, "plot"
		case samples > 0:
			fp.ExpectedKg, fp.Basis = avgKg, "farm_average"
		default:
			unknown++
		}
		data.TotalKg += fp.ExpectedKg
		data.Plots = append(data.Plots, fp)
	}
	sort.SliceStable(data.Plots, func(i, j int) bool { return data.Plots[i].EstimatedDate.Before(data.Plots[j].EstimatedDate) })

	if len(data.Plots) == 0 {
		return Result{Data: data, Message: fmt.Sprintf("No harvests are expected on %s in the next %s.", farm.Name, plural(months, "month", "months"))}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Over the next %s, %s expects %s totalling about %.0f kg: ",
		plural(months, "month", "months"), farm.Name, plural(len(data.Plots), "harvest", "harvests"), data.TotalKg)
	parts := make([]string, len(data.Plots))
	for i, fp := range data.Plots {
		if fp.Basis == "unknown" {
			parts[i] = fmt.Sprintf("%s around %s (yield unknown)", fp.PlotName, fp.EstimatedDate.Format(dateLayout))
			continue
		}
		parts[i] = fmt.Sprintf("%s around %s (%.0f kg)", fp.PlotName, fp.EstimatedDate.Format(dateLayout), fp.ExpectedKg)
	}
	sb.WriteString(strings.Join(parts, ", ") + ".")
	if unknown > 0 {
		fmt.Fprintf(&sb, " %s no yield estimate and no harvest history to go on.", plural(unknown, "plot has", "plots have"))
	}
	return Result{Data: data, Message: sb.String()}, nil
}
