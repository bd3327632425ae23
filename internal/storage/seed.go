package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const demoOwnerEmail = "demo.owner@fieldhand.local"

// SeedResult identifies the demo records created by Seed.
type SeedResult struct {
	OwnerID int64
	FarmIDs []int64
	PlotIDs []int64
	Created bool
}

// Seed loads a small demo plantation owned by a demo user. Planted dates are
// relative to now so harvest estimates stay meaningful. Seeding twice is a
// no-op that returns the existing owner.
func (s *Store) Seed(ctx context.Context, now time.Time) (SeedResult, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM users WHERE email = ?`), demoOwnerEmail).Scan(&existing)
	switch {
	case err == nil:
		farms, err := s.ListFarmsByOwner(ctx, existing)
		if err != nil {
			return SeedResult{}, err
		}
		res := SeedResult{OwnerID: existing}
		for _, f := range farms {
			res.FarmIDs = append(res.FarmIDs, f.ID)
		}
		return res, nil
	case !errors.Is(err, sql.ErrNoRows):
		return SeedResult{}, fmt.Errorf("checking for demo data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	res := SeedResult{Created: true}
	if res.OwnerID, err = s.createUser(ctx, tx, User{Name: "Demo Owner", Email: demoOwnerEmail}); err != nil {
		return SeedResult{}, err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthsAgo := func(m int) *time.Time {
		d := today.AddDate(0, -m, 0)
		return &d
	}
	kg := func(v float64) *float64 { return &v }

	farms := []struct {
		farm  Farm
		plots []Plot
	}{
		{
			farm: Farm{Name: "Green Valley", Location: "Kasese", SizeHectares: 12.5, HealthStatus: "GOOD"},
			plots: []Plot{
				{Name: "Block A", CropType: "BANANA", Variety: "Grand Naine", AreaHectares: 3, RowCount: 20, HoleCount: 400, PlantedDate: monthsAgo(8), ExpectedYieldKg: kg(9000)},
				{Name: "Block B", CropType: "PLANTAIN", Variety: "Horn", AreaHectares: 2.5, RowCount: 16, HoleCount: 320, PlantedDate: monthsAgo(5), ExpectedYieldKg: kg(6500)},
				{Name: "Block C", CropType: "BANANA", Variety: "Williams", AreaHectares: 4, RowCount: 24, HoleCount: 480, PlantedDate: monthsAgo(12)},
			},
		},
		{
			farm: Farm{Name: "Riverside", Location: "Mbarara", SizeHectares: 7, HealthStatus: "POOR"},
			plots: []Plot{
				{Name: "River Plot", CropType: "PLANTAIN", Variety: "French", AreaHectares: 3.5, RowCount: 18, HoleCount: 350, PlantedDate: monthsAgo(7)},
				{Name: "Nursery", CropType: "BANANA", Status: "PREPARING", AreaHectares: 0.5},
			},
		},
	}

	for fi, entry := range farms {
		entry.farm.OwnerID = res.OwnerID
		farmID, err := s.createFarm(ctx, tx, entry.farm)
		if err != nil {
			return SeedResult{}, err
		}
		res.FarmIDs = append(res.FarmIDs, farmID)

		for pi, p := range entry.plots {
			p.FarmID = farmID
			plotID, err := s.createPlot(ctx, tx, p)
			if err != nil {
				return SeedResult{}, err
			}
			res.PlotIDs = append(res.PlotIDs, plotID)

			score := 82.0 - float64(fi*30) - float64(pi*4)
			for w := 3; w >= 0; w-- {
				if _, err := s.addHealthMetric(ctx, tx, HealthMetric{
					PlotID:           plotID,
					RecordedAt:       today.AddDate(0, 0, -7*w),
					HealthScore:      score + float64(3-w),
					DiseaseIncidence: float64(fi*12 + w),
				}); err != nil {
					return SeedResult{}, err
				}
			}

			if p.PlantedDate != nil && p.PlantedDate.Before(today.AddDate(0, -10, 0)) {
				if _, err := s.recordHarvest(ctx, tx, Harvest{
					PlotID: plotID, HarvestedAt: today.AddDate(0, 0, -20), QuantityKg: 7200, Bunches: 410,
				}); err != nil {
					return SeedResult{}, err
				}
			}
		}
	}

	due := func(days int) *time.Time {
		d := today.AddDate(0, 0, days)
		return &d
	}
	plotA, plotRiver := res.PlotIDs[0], res.PlotIDs[3]
	tasks := []Task{
		{FarmID: res.FarmIDs[0], PlotID: &plotA, Title: "De-sucker Block A", Status: TaskPending, Priority: "HIGH", Assignee: "Okello", DueDate: due(3)},
		{FarmID: res.FarmIDs[0], Title: "Apply fertilizer", Status: TaskInProgress, Priority: "MEDIUM", Assignee: "Nakato", DueDate: due(7)},
		{FarmID: res.FarmIDs[0], Title: "Repair irrigation line", Status: TaskCompleted, Priority: "LOW", DueDate: due(-5)},
		{FarmID: res.FarmIDs[1], PlotID: &plotRiver, Title: "Treat black sigatoka", Status: TaskPending, Priority: "HIGH", Assignee: "Mugisha", DueDate: due(-2)},
		{FarmID: res.FarmIDs[1], Title: "Clear drainage channels", Status: TaskPending, Priority: "MEDIUM", DueDate: due(10)},
	}
	for _, t := range tasks {
		if _, err := s.createTask(ctx, tx, t); err != nil {
			return SeedResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("committing seed: %w", err)
	}
	return res, nil
}
