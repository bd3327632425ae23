package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Health metrics ---

func (s *Store) AddHealthMetric(ctx context.Context, m HealthMetric) (int64, error) {
	return s.addHealthMetric(ctx, s.db, m)
}

func (s *Store) addHealthMetric(ctx context.Context, ex execer, m HealthMetric) (int64, error) {
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO health_metrics (plot_id, recorded_at, health_score, disease_incidence, notes) VALUES (?, ?, ?, ?, ?)`,
		m.PlotID, formatTime(m.RecordedAt), m.HealthScore, m.DiseaseIncidence, m.Notes)
	if err != nil {
		return 0, fmt.Errorf("inserting health metric: %w", err)
	}
	return id, nil
}

// LatestHealthMetric returns the most recent metric for a plot, or ErrNotFound.
func (s *Store) LatestHealthMetric(ctx context.Context, plotID int64) (HealthMetric, error) {
	var m HealthMetric
	var recordedAt string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, plot_id, recorded_at, health_score, disease_incidence, notes
		FROM health_metrics WHERE plot_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`), plotID,
	).Scan(&m.ID, &m.PlotID, &recordedAt, &m.HealthScore, &m.DiseaseIncidence, &m.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return HealthMetric{}, ErrNotFound
	}
	if err != nil {
		return HealthMetric{}, fmt.Errorf("getting latest health metric for plot %d: %w", plotID, err)
	}
	if m.RecordedAt, err = parseTime(recordedAt); err != nil {
		return HealthMetric{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return m, nil
}

// AverageHealthScore averages health scores recorded since the given time
// across all plots of a farm. n is the number of samples.
func (s *Store) AverageHealthScore(ctx context.Context, farmID int64, since time.Time) (avg float64, n int, err error) {
	var a sql.NullFloat64
	var count int64
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT AVG(m.health_score), COUNT(m.id)
		FROM health_metrics m JOIN plots p ON p.id = m.plot_id
		WHERE p.farm_id = ? AND m.recorded_at >= ?`), farmID, formatTime(since),
	).Scan(&a, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("averaging health scores for farm %d: %w", farmID, err)
	}
	return a.Float64, int(count), nil
}

// --- Harvests ---

func (s *Store) RecordHarvest(ctx context.Context, h Harvest) (int64, error) {
	return s.recordHarvest(ctx, s.db, h)
}

func (s *Store) recordHarvest(ctx context.Context, ex execer, h Harvest) (int64, error) {
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO harvests (plot_id, harvested_at, quantity_kg, bunches) VALUES (?, ?, ?, ?)`,
		h.PlotID, h.HarvestedAt.Format(dateLayout), h.QuantityKg, h.Bunches)
	if err != nil {
		return 0, fmt.Errorf("inserting harvest: %w", err)
	}
	return id, nil
}

// LastHarvest returns the most recent harvest of a plot, or ErrNotFound.
func (s *Store) LastHarvest(ctx context.Context, plotID int64) (Harvest, error) {
	var h Harvest
	var at string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, plot_id, harvested_at, quantity_kg, bunches
		FROM harvests WHERE plot_id = ? ORDER BY harvested_at DESC, id DESC LIMIT 1`), plotID,
	).Scan(&h.ID, &h.PlotID, &at, &h.QuantityKg, &h.Bunches)
	if errors.Is(err, sql.ErrNoRows) {
		return Harvest{}, ErrNotFound
	}
	if err != nil {
		return Harvest{}, fmt.Errorf("getting last harvest for plot %d: %w", plotID, err)
	}
	if h.HarvestedAt, err = time.Parse(dateLayout, at); err != nil {
		return Harvest{}, fmt.Errorf("parsing harvested_at: %w", err)
	}
	return h, nil
}

// AverageHarvestKg returns the mean harvest quantity across a farm's plots.
func (s *Store) AverageHarvestKg(ctx context.Context, farmID int64) (avg float64, n int, err error) {
	var a sql.NullFloat64
	var count int64
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT AVG(h.quantity_kg), COUNT(h.id)
		FROM harvests h JOIN plots p ON p.id = h.plot_id WHERE p.farm_id = ?`), farmID,
	).Scan(&a, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("averaging harvests for farm %d: %w", farmID, err)
	}
	return a.Float64, int(count), nil
}
