package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func dayPtr(t *testing.T, raw string) *time.Time {
	d := day(t, raw)
	return &d
}

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

// fakeRepo is an in-memory Repository. Any method named in errs fails with
// that error; panicOn makes a method panic.
type fakeRepo struct {
	mu       sync.Mutex
	farms    map[int64]storage.Farm
	plots    map[int64]storage.Plot
	metrics  map[int64]storage.HealthMetric
	harvests map[int64]storage.Harvest
	tasks    []storage.Task
	counts   storage.TaskCounts
	avgScore float64
	scoreN   int
	avgKg    float64
	kgN      int
	errs     map[string]error
	panicOn  string
	delay    time.Duration

	lastFilter storage.TaskFilter
	lastCount  []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		farms:    map[int64]storage.Farm{},
		plots:    map[int64]storage.Plot{},
		metrics:  map[int64]storage.HealthMetric{},
		harvests: map[int64]storage.Harvest{},
		errs:     map[string]error{},
	}
}

func (r *fakeRepo) enter(ctx context.Context, method string) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panicOn == method {
		panic("boom in " + method)
	}
	return r.errs[method]
}

func (r *fakeRepo) GetFarm(ctx context.Context, id int64) (storage.Farm, error) {
	if err := r.enter(ctx, "GetFarm"); err != nil {
		return storage.Farm{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.farms[id]
	if !ok {
		return storage.Farm{}, storage.ErrNotFound
	}
	return f, nil
}

func (r *fakeRepo) ListFarmsByOwner(ctx context.Context, ownerID int64) ([]storage.Farm, error) {
	if err := r.enter(ctx, "ListFarmsByOwner"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Farm
	for id := int64(1); id <= int64(len(r.farms))+10; id++ {
		if f, ok := r.farms[id]; ok && f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetPlot(ctx context.Context, id int64) (storage.Plot, error) {
	if err := r.enter(ctx, "GetPlot"); err != nil {
		return storage.Plot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plots[id]
	if !ok {
		return storage.Plot{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) ListPlotsByFarm(ctx context.Context, farmID int64) ([]storage.Plot, error) {
	if err := r.enter(ctx, "ListPlotsByFarm"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Plot
	for id := int64(1); id <= int64(len(r.plots))+10; id++ {
		if p, ok := r.plots[id]; ok && p.FarmID == farmID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, error) {
	if err := r.enter(ctx, "ListTasks"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = f
	return r.tasks, nil
}

func (r *fakeRepo) CountTasks(ctx context.Context, farmIDs []int64, _ time.Time) (storage.TaskCounts, error) {
	if err := r.enter(ctx, "CountTasks"); err != nil {
		return storage.TaskCounts{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCount = farmIDs
	return r.counts, nil
}

func (r *fakeRepo) LatestHealthMetric(ctx context.Context, plotID int64) (storage.HealthMetric, error) {
	if err := r.enter(ctx, "LatestHealthMetric"); err != nil {
		return storage.HealthMetric{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[plotID]
	if !ok {
		return storage.HealthMetric{}, storage.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) LastHarvest(ctx context.Context, plotID int64) (storage.Harvest, error) {
	if err := r.enter(ctx, "LastHarvest"); err != nil {
		return storage.Harvest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.harvests[plotID]
	if !ok {
		return storage.Harvest{}, storage.ErrNotFound
	}
	return h, nil
}

func (r *fakeRepo) AverageHealthScore(ctx context.Context, _ int64, _ time.Time) (float64, int, error) {
	if err := r.enter(ctx, "AverageHealthScore"); err != nil {
		return 0, 0, err
	}
	return r.avgScore, r.scoreN, nil
}

func (r *fakeRepo) AverageHarvestKg(ctx context.Context, _ int64) (float64, int, error) {
	if err := r.enter(ctx, "AverageHarvestKg"); err != nil {
		return 0, 0, err
	}
	return r.avgKg, r.kgN, nil
}

const owner = int64(7)

func newTestDispatcher(t *testing.T, repo *fakeRepo, now string) *Dispatcher {
	t.Helper()
	return NewWithClock(repo, Config{}, fixedClock{t: day(t, now)})
}

func TestNextHarvest_PlotUsesNineMonthOffset(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[5] = storage.Plot{ID: 5, FarmID: 1, Name: "Block A", PlantedDate: dayPtr(t, "2024-01-01")}
	d := newTestDispatcher(t, repo, "2024-06-15")

	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.NextHarvest, Entities: intent.EntityMap{PlotID: i64(5)}}, owner)
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	data := res.Data.(NextHarvestData)
	if got := data.Upcoming[0].EstimatedDate.Format(dateLayout); got != "2024-10-01" {
		t.Errorf("estimated = %s, want 2024-10-01", got)
	}
	if !strings.Contains(res.Message, "2024-10-01") {
		t.Errorf("message %q should mention 2024-10-01", res.Message)
	}
}

func TestNextHarvest_PlotPastEstimateIsDue(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[5] = storage.Plot{ID: 5, Name: "Block A", PlantedDate: dayPtr(t, "2024-01-01")}
	res := newTestDispatcher(t, repo, "2024-12-01").Execute(context.Background(),
		intent.Analysis{Intent: intent.NextHarvest, Entities: intent.EntityMap{PlotID: i64(5)}}, owner)
	if !strings.Contains(res.Message, "due now") {
		t.Errorf("message = %q, want due-now wording", res.Message)
	}
}

func TestNextHarvest_PlotWithoutPlantedDate(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[9] = storage.Plot{ID: 9, Name: "Nursery"}
	res := newTestDispatcher(t, repo, "2024-06-15").Execute(context.Background(),
		intent.Analysis{Intent: intent.NextHarvest, Entities: intent.EntityMap{PlotID: i64(9)}}, owner)

	if res.Error != "" || !strings.Contains(res.Message, "no planted date") {
		t.Errorf("res = %+v, want explicit no-planted-date message", res)
	}
	if strings.Contains(res.Message, "0001") {
		t.Error("message must not contain a zero date")
	}
}

func TestNextHarvest_FarmFutureOnlySorted(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Green Valley"}
	repo.plots[1] = storage.Plot{ID: 1, FarmID: 1, Name: "Old", PlantedDate: dayPtr(t, "2023-01-01")}
	repo.plots[2] = storage.Plot{ID: 2, FarmID: 1, Name: "Feb", PlantedDate: dayPtr(t, "2024-05-01")}
	repo.plots[3] = storage.Plot{ID: 3, FarmID: 1, Name: "Dec", PlantedDate: dayPtr(t, "2024-03-01")}
	repo.plots[4] = storage.Plot{ID: 4, FarmID: 1, Name: "Jan", PlantedDate: dayPtr(t, "2024-04-01")}
	repo.plots[5] = storage.Plot{ID: 5, FarmID: 1, Name: "Mar", PlantedDate: dayPtr(t, "2024-06-01")}
	repo.plots[6] = storage.Plot{ID: 6, FarmID: 1, Name: "Nursery"}
	repo.plots[7] = storage.Plot{ID: 7, FarmID: 2, Name: "Elsewhere", PlantedDate: dayPtr(t, "2024-03-15")}
	d := newTestDispatcher(t, repo, "2024-07-01")

	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.NextHarvest, Entities: intent.EntityMap{FarmID: i64(1)}}, owner)
	data := res.Data.(NextHarvestData)

	var got []string
	for _, h := range data.Upcoming {
		got = append(got, h.PlotName+"@"+h.EstimatedDate.Format(dateLayout))
	}
	want := []string{"Dec@2024-12-01", "Jan@2025-01-01", "Feb@2025-02-01"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("upcoming mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Nursery"}, data.Unplanted); diff != "" {
		t.Errorf("unplanted mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(res.Message, "The next harvest on Green Valley is Dec") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestNextHarvest_ConfigurableOffset(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[5] = storage.Plot{ID: 5, Name: "Block A", PlantedDate: dayPtr(t, "2024-01-01")}
	d := NewWithClock(repo, Config{HarvestOffsetMonths: 12}, fixedClock{t: day(t, "2024-02-01")})

	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.NextHarvest, Entities: intent.EntityMap{PlotID: i64(5)}}, owner)
	if !strings.Contains(res.Message, "2025-01-01") {
		t.Errorf("message = %q, want 12-month offset", res.Message)
	}
}

func TestNextHarvest_ResolvesOnlyFarm(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[3] = storage.Farm{ID: 3, OwnerID: owner, Name: "Solo"}
	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: intent.NextHarvest}, owner)
	if res.Error != "" || !strings.Contains(res.Message, "Solo") {
		t.Errorf("res = %+v, want answer about the only farm", res)
	}
}

func TestNextHarvest_AmbiguousFarmAsks(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Green Valley"}
	repo.farms[2] = storage.Farm{ID: 2, OwnerID: owner, Name: "Riverside"}

	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: intent.NextHarvest}, owner)
	if res.Error != "" || res.Data != nil {
		t.Errorf("clarification should carry neither data nor error: %+v", res)
	}
	if !strings.Contains(res.Message, "Which farm") || !strings.Contains(res.Message, "Riverside (farm 2)") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestFarmHealth_PoorAnyCase(t *testing.T) {
	for _, status := range []string{"POOR", "poor", "Poor"} {
		t.Run(status, func(t *testing.T) {
			repo := newFakeRepo()
			repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Riverside", HealthStatus: status}
			repo.plots[1] = storage.Plot{ID: 1, FarmID: 1}
			repo.avgScore, repo.scoreN = 41.5, 8

			res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(),
				intent.Analysis{Intent: intent.FarmHealth, Entities: intent.EntityMap{FarmID: i64(1)}}, owner)
			if !strings.Contains(res.Message, PoorHealthRecommendation) {
				t.Errorf("message = %q, want poor recommendation", res.Message)
			}
			data := res.Data.(FarmHealthData)
			if data.PlotCount != 1 || data.AverageScore == nil || *data.AverageScore != 41.5 {
				t.Errorf("data = %+v", data)
			}
		})
	}
}

func TestFarmHealth_AverageCountsReadings(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Riverside", HealthStatus: "GOOD"}
	for id := int64(1); id <= 3; id++ {
		repo.plots[id] = storage.Plot{ID: id, FarmID: 1}
	}
	repo.avgScore, repo.scoreN = 80, 1

	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(),
		intent.Analysis{Intent: intent.FarmHealth, Entities: intent.EntityMap{FarmID: i64(1)}}, owner)
	if !strings.Contains(res.Message, "average health score of 80.0 across 1 reading over the last 30 days") {
		t.Errorf("message = %q, want the average attributed to its readings", res.Message)
	}
	if strings.Contains(res.Message, "3 plots") {
		t.Errorf("message = %q, must not attribute a 1-reading average to every plot", res.Message)
	}
}

func TestRecommendation(t *testing.T) {
	tests := map[string]string{
		"GOOD": GoodHealthRecommendation, "fair": FairHealthRecommendation,
		" Poor ": PoorHealthRecommendation, "": NoHealthRecommendation, "EXCELLENT": NoHealthRecommendation,
	}
	for in, want := range tests {
		if got := recommendation(in); got != want {
			t.Errorf("recommendation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlotStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[5] = storage.Plot{ID: 5, Name: "Block A", CropType: "BANANA", Variety: "Grand Naine", Status: "GROWING", PlantedDate: dayPtr(t, "2024-03-01")}
	repo.metrics[5] = storage.HealthMetric{PlotID: 5, HealthScore: 84, DiseaseIncidence: 2.5, RecordedAt: day(t, "2024-06-28")}
	d := newTestDispatcher(t, repo, "2024-07-01")

	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.PlotStatus, Entities: intent.EntityMap{PlotID: i64(5)}}, owner)
	data := res.Data.(PlotStatusData)
	if data.LatestMetric == nil || data.LastHarvest != nil {
		t.Errorf("metric=%v harvest=%v, want metric only", data.LatestMetric, data.LastHarvest)
	}
	for _, want := range []string{"Block A", "84.0", "2.5%", "2024-12-01"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q missing %q", res.Message, want)
		}
	}
}

func TestPlotStatus_MissingPlot(t *testing.T) {
	res := newTestDispatcher(t, newFakeRepo(), "2024-07-01").Execute(context.Background(),
		intent.Analysis{Intent: intent.PlotStatus, Entities: intent.EntityMap{PlotID: i64(404)}}, owner)
	if res.Data != nil || res.Error == "" || res.Message != "Sorry, I couldn't find plot 404." {
		t.Errorf("res = %+v", res)
	}
}

func TestPlotStatus_NeedsPlot(t *testing.T) {
	res := newTestDispatcher(t, newFakeRepo(), "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: intent.PlotStatus}, owner)
	if res.Error != "" || !strings.Contains(res.Message, "Which plot") {
		t.Errorf("res = %+v", res)
	}
}

func TestForecast(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Green Valley"}
	repo.plots[1] = storage.Plot{ID: 1, FarmID: 1, Name: "A", PlantedDate: dayPtr(t, "2023-11-01"), ExpectedYieldKg: f64(9000)}
	repo.plots[2] = storage.Plot{ID: 2, FarmID: 1, Name: "B", PlantedDate: dayPtr(t, "2023-12-01")}
	repo.plots[3] = storage.Plot{ID: 3, FarmID: 1, Name: "Late", PlantedDate: dayPtr(t, "2024-06-01"), ExpectedYieldKg: f64(5000)}
	repo.avgKg, repo.kgN = 7000, 4
	d := newTestDispatcher(t, repo, "2024-07-15")

	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.Forecast, Entities: intent.EntityMap{FarmID: i64(1), Months: func() *int { m := 2; return &m }()}}, owner)
	data := res.Data.(ForecastData)
	if data.Months != 2 || len(data.Plots) != 2 {
		t.Fatalf("data = %+v, want two plots within 2 months", data)
	}
	if data.Plots[0].Basis != "plot" || data.Plots[1].Basis != "farm_average" {
		t.Errorf("bases = %s, %s", data.Plots[0].Basis, data.Plots[1].Basis)
	}
	if data.TotalKg != 16000 {
		t.Errorf("TotalKg = %v, want 16000", data.TotalKg)
	}
	if !strings.Contains(res.Message, "16000 kg") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestForecast_DefaultHorizonAndNothingDue(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Solo"}
	repo.plots[1] = storage.Plot{ID: 1, FarmID: 1, Name: "A", PlantedDate: dayPtr(t, "2024-07-01")}

	res := newTestDispatcher(t, repo, "2024-07-15").Execute(context.Background(), intent.Analysis{Intent: intent.Forecast}, owner)
	data := res.Data.(ForecastData)
	if data.Months != 3 || len(data.Plots) != 0 {
		t.Errorf("data = %+v, want default 3 months with nothing due", data)
	}
	if !strings.HasPrefix(res.Message, "No harvests are expected on Solo") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestTasksByLocation_RealQuery(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Green Valley", Location: "Kasese"}
	repo.farms[2] = storage.Farm{ID: 2, OwnerID: owner, Name: "Riverside", Location: "Mbarara"}
	repo.tasks = []storage.Task{{ID: 1, Title: "De-sucker Block A", Status: "PENDING", DueDate: dayPtr(t, "2024-07-04")}}
	d := newTestDispatcher(t, repo, "2024-07-01")

	res := d.Execute(context.Background(), intent.Analysis{
		Intent:   intent.TasksByLocation,
		Entities: intent.EntityMap{Location: "Kasese", Status: "PENDING"},
	}, owner)

	want := storage.TaskFilter{FarmIDs: []int64{1, 2}, Location: "Kasese", Status: "PENDING", Limit: maxListedTasks}
	if diff := cmp.Diff(want, repo.lastFilter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	if res.Message != "Found 1 pending tasks in Kasese: De-sucker Block A (pending, due 2024-07-04)." {
		t.Errorf("message = %q", res.Message)
	}
}

func TestTasksByLocation_None(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner}
	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(), intent.Analysis{
		Intent: intent.TasksByLocation, Entities: intent.EntityMap{PlotID: i64(3)},
	}, owner)
	if res.Message != "No tasks for plot 3 found." {
		t.Errorf("message = %q", res.Message)
	}
	if data := res.Data.(TasksData); data.Tasks == nil {
		t.Error("empty result should carry an empty slice, not nil")
	}
}

func TestTaskSummary(t *testing.T) {
	repo := newFakeRepo()
	repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner}
	repo.counts = storage.TaskCounts{Total: 5, Overdue: 1, ByStatus: map[string]int{"PENDING": 3, "IN_PROGRESS": 1, "COMPLETED": 1}}

	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: intent.TaskSummary}, owner)
	want := "You have 5 tasks: 3 pending, 1 in progress and 1 completed. 1 task is overdue."
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	if diff := cmp.Diff([]int64{1}, repo.lastCount); diff != "" {
		t.Errorf("farm ids mismatch:\n%s", diff)
	}
}

func TestExecute_UnknownIntent(t *testing.T) {
	res := newTestDispatcher(t, newFakeRepo(), "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: "WEATHER"}, owner)
	if diff := cmp.Diff(Result{Message: UnknownIntentMessage}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(res.Message, "I don't understand") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestExecute_RepositoryErrorsBecomeApologies(t *testing.T) {
	cases := []struct {
		in     intent.Intent
		e      intent.EntityMap
		method string
	}{
		{intent.NextHarvest, intent.EntityMap{PlotID: i64(1)}, "GetPlot"},
		{intent.NextHarvest, intent.EntityMap{FarmID: i64(1)}, "ListPlotsByFarm"},
		{intent.TasksByLocation, intent.EntityMap{Location: "Kasese"}, "ListTasks"},
		{intent.TasksByLocation, intent.EntityMap{}, "ListFarmsByOwner"},
		{intent.PlotStatus, intent.EntityMap{PlotID: i64(1)}, "LatestHealthMetric"},
		{intent.PlotStatus, intent.EntityMap{PlotID: i64(1)}, "LastHarvest"},
		{intent.Forecast, intent.EntityMap{FarmID: i64(1)}, "AverageHarvestKg"},
		{intent.FarmHealth, intent.EntityMap{FarmID: i64(1)}, "AverageHealthScore"},
		{intent.FarmHealth, intent.EntityMap{FarmID: i64(1)}, "GetFarm"},
		{intent.TaskSummary, intent.EntityMap{FarmID: i64(1)}, "CountTasks"},
	}
	for _, tc := range cases {
		t.Run(string(tc.in)+"/"+tc.method, func(t *testing.T) {
			repo := newFakeRepo()
			repo.farms[1] = storage.Farm{ID: 1, OwnerID: owner, Name: "Green Valley"}
			repo.plots[1] = storage.Plot{ID: 1, FarmID: 1, Name: "A"}
			repo.errs[tc.method] = errors.New("database is locked")

			res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(), intent.Analysis{Intent: tc.in, Entities: tc.e}, owner)
			if res.Data != nil {
				t.Errorf("Data = %v, want nil", res.Data)
			}
			if !strings.Contains(res.Error, "database is locked") {
				t.Errorf("Error = %q, want the repository error", res.Error)
			}
			if !strings.HasPrefix(res.Message, "Sorry, I couldn't") {
				t.Errorf("Message = %q, want apology", res.Message)
			}
		})
	}
}

func TestExecute_RecoversPanics(t *testing.T) {
	repo := newFakeRepo()
	repo.panicOn = "CountTasks"
	res := newTestDispatcher(t, repo, "2024-07-01").Execute(context.Background(),
		intent.Analysis{Intent: intent.TaskSummary, Entities: intent.EntityMap{FarmID: i64(1)}}, owner)
	if res.Data != nil || !strings.Contains(res.Error, "boom") || !strings.HasPrefix(res.Message, "Sorry") {
		t.Errorf("res = %+v", res)
	}
}

func TestExecute_SingleTimeoutCoversJoinedFetches(t *testing.T) {
	repo := newFakeRepo()
	repo.plots[1] = storage.Plot{ID: 1, Name: "A"}
	repo.delay = time.Second
	d := NewWithClock(repo, Config{QueryTimeout: 30 * time.Millisecond}, fixedClock{t: day(t, "2024-07-01")})

	start := time.Now()
	res := d.Execute(context.Background(), intent.Analysis{Intent: intent.PlotStatus, Entities: intent.EntityMap{PlotID: i64(1)}}, owner)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Execute took %v, want the query timeout to cut it short", elapsed)
	}
	if !strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("Error = %q, want deadline exceeded", res.Error)
	}
}
