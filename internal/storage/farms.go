package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insertReturningID(ctx context.Context, ex execer, query string, args ...any) (int64, error) {
	var id int64
	if err := ex.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	return s.createUser(ctx, s.db, u)
}

func (s *Store) createUser(ctx context.Context, ex execer, u User) (int64, error) {
	role := u.Role
	if role == "" {
		role = "OWNER"
	}
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO users (name, email, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Name, u.Email, role, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

// --- Farms ---

func (s *Store) CreateFarm(ctx context.Context, f Farm) (int64, error) {
	return s.createFarm(ctx, s.db, f)
}

func (s *Store) createFarm(ctx context.Context, ex execer, f Farm) (int64, error) {
	status := f.HealthStatus
	if status == "" {
		status = "GOOD"
	}
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO farms (owner_id, name, location, size_hectares, health_status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.OwnerID, f.Name, f.Location, f.SizeHectares, status, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("inserting farm: %w", err)
	}
	return id, nil
}

const farmColumns = `id, owner_id, name, location, size_hectares, health_status, created_at`

func scanFarm(sc interface{ Scan(...any) error }) (Farm, error) {
	var f Farm
	var createdAt string
	if err := sc.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Location, &f.SizeHectares, &f.HealthStatus, &createdAt); err != nil {
		return Farm{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Farm{}, fmt.Errorf("parsing created_at: %w", err)
	}
	f.CreatedAt = t
	return f, nil
}

func (s *Store) GetFarm(ctx context.Context, id int64) (Farm, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+farmColumns+` FROM farms WHERE id = ?`), id)
	f, err := scanFarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Farm{}, ErrNotFound
	}
	if err != nil {
		return Farm{}, fmt.Errorf("getting farm %d: %w", id, err)
	}
	return f, nil
}

func (s *Store) ListFarmsByOwner(ctx context.Context, ownerID int64) ([]Farm, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+farmColumns+` FROM farms WHERE owner_id = ? ORDER BY id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing farms for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var farms []Farm
	for rows.Next() {
		f, err := scanFarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning farm: %w", err)
		}
		farms = append(farms, f)
	}
	return farms, rows.Err()
}

// --- Plots ---

func (s *Store) CreatePlot(ctx context.Context, p Plot) (int64, error) {
	return s.createPlot(ctx, s.db, p)
}

func (s *Store) createPlot(ctx context.Context, ex execer, p Plot) (int64, error) {
	crop := p.CropType
	if crop == "" {
		crop = "BANANA"
	}
	status := p.Status
	if status == "" {
		status = "ACTIVE"
	}
	var expected any
	if p.ExpectedYieldKg != nil {
		expected = *p.ExpectedYieldKg
	}
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO plots (farm_id, name, crop_type, variety, status, area_hectares, row_count, hole_count, planted_date, expected_yield_kg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FarmID, p.Name, crop, p.Variety, status, p.AreaHectares, p.RowCount, p.HoleCount,
		formatDate(p.PlantedDate), expected, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("inserting plot: %w", err)
	}
	return id, nil
}

const plotColumns = `id, farm_id, name, crop_type, variety, status, area_hectares, row_count, hole_count, planted_date, expected_yield_kg`

func scanPlot(sc interface{ Scan(...any) error }) (Plot, error) {
	var p Plot
	var planted sql.NullString
	var expected sql.NullFloat64
	if err := sc.Scan(&p.ID, &p.FarmID, &p.Name, &p.CropType, &p.Variety, &p.Status,
		&p.AreaHectares, &p.RowCount, &p.HoleCount, &planted, &expected); err != nil {
		return Plot{}, err
	}
	d, err := parseDate(planted)
	if err != nil {
		return Plot{}, err
	}
	p.PlantedDate = d
	if expected.Valid {
		v := expected.Float64
		p.ExpectedYieldKg = &v
	}
	return p, nil
}

func (s *Store) GetPlot(ctx context.Context, id int64) (Plot, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+plotColumns+` FROM plots WHERE id = ?`), id)
	p, err := scanPlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Plot{}, ErrNotFound
	}
	if err != nil {
		return Plot{}, fmt.Errorf("getting plot %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListPlotsByFarm(ctx context.Context, farmID int64) ([]Plot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+plotColumns+` FROM plots WHERE farm_id = ? ORDER BY id`), farmID)
	if err != nil {
		return nil, fmt.Errorf("listing plots for farm %d: %w", farmID, err)
	}
	defer rows.Close()

	var plots []Plot
	for rows.Next() {
		p, err := scanPlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plot: %w", err)
		}
		plots = append(plots, p)
	}
	return plots, rows.Err()
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, t Task) (int64, error) {
	return s.createTask(ctx, s.db, t)
}

func (s *Store) createTask(ctx context.Context, ex execer, t Task) (int64, error) {
	status := t.Status
	if status == "" {
		status = TaskPending
	}
	priority := t.Priority
	if priority == "" {
		priority = "MEDIUM"
	}
	var plotID any
	if t.PlotID != nil {
		plotID = *t.PlotID
	}
	id, err := s.insertReturningID(ctx, ex,
		`INSERT INTO tasks (farm_id, plot_id, title, description, status, priority, assignee, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.FarmID, plotID, t.Title, t.Description, status, priority, t.Assignee, formatDate(t.DueDate), formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	return id, nil
}

// ListTasks returns tasks matching the filter, soonest due first. Location
// matches farm location, farm name or plot name, case-insensitively.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var sb strings.Builder
	var args []any
	sb.WriteString(`SELECT t.id, t.farm_id, t.plot_id, t.title, t.description, t.status, t.priority, t.assignee, t.due_date,
		f.name, COALESCE(p.name, '')
		FROM tasks t
		JOIN farms f ON f.id = t.farm_id
		LEFT JOIN plots p ON p.id = t.plot_id
		WHERE 1=1`)

	if len(f.FarmIDs) > 0 {
		sb.WriteString(" AND t.farm_id IN (")
		for i, id := range f.FarmIDs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, id)
		}
		sb.WriteString(")")
	}
	if f.PlotID != nil {
		sb.WriteString(" AND t.plot_id = ?")
		args = append(args, *f.PlotID)
	}
	if f.Status != "" {
		sb.WriteString(" AND UPPER(t.status) = ?")
		args = append(args, strings.ToUpper(f.Status))
	}
	if loc := strings.TrimSpace(f.Location); loc != "" {
		pattern := "%" + escapeLike(strings.ToLower(loc)) + "%"
		sb.WriteString(` AND (LOWER(f.location) LIKE ? ESCAPE '\' OR LOWER(f.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(p.name, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	sb.WriteString(" ORDER BY CASE WHEN t.due_date IS NULL THEN 1 ELSE 0 END, t.due_date, t.id LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var plotID sql.NullInt64
		var due sql.NullString
		if err := rows.Scan(&t.ID, &t.FarmID, &plotID, &t.Title, &t.Description, &t.Status, &t.Priority,
			&t.Assignee, &due, &t.FarmName, &t.PlotName); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		if plotID.Valid {
			v := plotID.Int64
			t.PlotID = &v
		}
		if t.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasks aggregates tasks for the given farms. A task is overdue when it
// is not completed and its due date is before today.
func (s *Store) CountTasks(ctx context.Context, farmIDs []int64, today time.Time) (TaskCounts, error) {
	counts := TaskCounts{ByStatus: map[string]int{}}
	if len(farmIDs) == 0 {
		return counts, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(farmIDs)), ", ")
	args := make([]any, 0, len(farmIDs)+2)
	args = append(args, today.Format(dateLayout), TaskCompleted)
	for _, id := range farmIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT UPPER(status),
		COUNT(*),
		SUM(CASE WHEN due_date IS NOT NULL AND due_date < ? AND UPPER(status) <> ? THEN 1 ELSE 0 END)
		FROM tasks WHERE farm_id IN (`+placeholders+`) GROUP BY UPPER(status)`), args...)
	if err != nil {
		return TaskCounts{}, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n, overdue int64
		if err := rows.Scan(&status, &n, &overdue); err != nil {
			return TaskCounts{}, fmt.Errorf("scanning task counts: %w", err)
		}
		counts.ByStatus[status] = int(n)
		counts.Total += int(n)
		counts.Overdue += int(overdue)
	}
	return counts, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
