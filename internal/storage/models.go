package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Task statuses.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
)

type User struct {
	ID        int64
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
}

type Farm struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	SizeHectares float64   `json:"size_hectares"`
	HealthStatus string    `json:"health_status"`
	CreatedAt    time.Time `json:"created_at"`
}

type Plot struct {
	ID              int64      `json:"id"`
	FarmID          int64      `json:"farm_id"`
	Name            string     `json:"name"`
	CropType        string     `json:"crop_type"`
	Variety         string     `json:"variety,omitempty"`
	Status          string     `json:"status"`
	AreaHectares    float64    `json:"area_hectares"`
	RowCount        int        `json:"row_count"`
	HoleCount       int        `json:"hole_count"`
	PlantedDate     *time.Time `json:"planted_date,omitempty"`
	ExpectedYieldKg *float64   `json:"expected_yield_kg,omitempty"`
}

type Task struct {
	ID          int64      `json:"id"`
	FarmID      int64      `json:"farm_id"`
	PlotID      *int64     `json:"plot_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	FarmName    string     `json:"farm_name,omitempty"`
	PlotName    string     `json:"plot_name,omitempty"`
}

// TaskFilter narrows ListTasks. Zero fields are ignored.
type TaskFilter struct {
	FarmIDs  []int64
	PlotID   *int64
	Location string
	Status   string
	Limit    int
}

// TaskCounts aggregates tasks by status.
type TaskCounts struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Overdue  int            `json:"overdue"`
}

type HealthMetric struct {
	ID               int64     `json:"id"`
	PlotID           int64     `json:"plot_id"`
	RecordedAt       time.Time `json:"recorded_at"`
	HealthScore      float64   `json:"health_score"`
	DiseaseIncidence float64   `json:"disease_incidence"`
	Notes            string    `json:"notes,omitempty"`
}

type Harvest struct {
	ID          int64     `json:"id"`
	PlotID      int64     `json:"plot_id"`
	HarvestedAt time.Time `json:"harvested_at"`
	QuantityKg  float64   `json:"quantity_kg"`
	Bunches     int       `json:"bunches"`
}

type ChatMessage struct {
	ID        string
	UserID    int64
	Role      string
	Content   string
	Intent    string
	CreatedAt time.Time
}

// GeneratedQuery is one audited pass through the SQL generation path.
type GeneratedQuery struct {
	ID        string
	UserID    int64
	Question  string
	SQL       string
	Verdict   string // "accepted", "rejected", "executed", "failed"
	Reason    string
	RowCount  int
	CreatedAt time.Time
}

// ResultSet is the tabular output of a read-only query.
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}
