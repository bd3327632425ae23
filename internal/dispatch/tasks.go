package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/storage"
)

const maxListedTasks = 20

type TasksData struct {
	Location string         `json:"location,omitempty"`
	Status   string         `json:"status,omitempty"`
	Tasks    []storage.Task `json:"tasks"`
}

func (d *Dispatcher) tasksByLocation(ctx context.Context, e intent.EntityMap, userID int64) (Result, error) {
	farmIDs, err := d.userFarmIDs(ctx, e, userID)
	if err != nil {
		return Result{}, err
	}
	if len(farmIDs) == 0 {
		return Result{}, &clarification{msg: "You don't have any farms set up yet."}
	}

	filter := storage.TaskFilter{
		FarmIDs:  farmIDs,
		PlotID:   e.PlotID,
		Location: e.Location,
		Status:   e.Status,
		Limit:    maxListedTasks,
	}
	tasks, err := d.repo.ListTasks(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("listing tasks: %w", err)
	}
	if tasks == nil {
		tasks = []storage.Task{}
	}

	data := TasksData{Location: e.Location, Status: e.Status, Tasks: tasks}
	scope := describeTaskScope(e)
	if len(tasks) == 0 {
		return Result{Data: data, Message: "No " + scope + " found."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s:", len(tasks), scope)
	for _, t := range tasks {
		sb.WriteString(" " + t.Title + " (" + humanStatus(t.Status))
		if t.DueDate != nil {
			sb.WriteString(", due " + t.DueDate.Format(dateLayout))
		}
		sb.WriteString(");")
	}
	msg := strings.TrimSuffix(sb.String(), ";") + "."
	if len(tasks) == maxListedTasks {
		msg += fmt.Sprintf(" Showing the first %d.", maxListedTasks)
	}
	return Result{Data: data, Message: msg}, nil
}

// describeTaskScope renders e.g. "pending tasks in Kasese".
func describeTaskScope(e intent.EntityMap) string {
	s := "tasks"
	if e.Status != "" {
		s = humanStatus(e.Status) + " tasks"
	}
	switch {
	case e.Location != "":
		s += " in " + e.Location
	case e.PlotID != nil:
		s += fmt.Sprintf(" for plot %d", *e.PlotID)
	case e.FarmID != nil:
		s += fmt.Sprintf(" for farm %d", *e.FarmID)
	}
	return s
}

func humanStatus(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

type TaskSummaryData struct {
	FarmIDs []int64            `json:"farmIds"`
	Counts  storage.TaskCounts `json:"counts"`
}

func (d *Dispatcher) taskSummary(ctx context.Context, e intent.EntityMap, userID int64) (Result, error) {
	farmIDs, err := d.userFarmIDs(ctx, e, userID)
	if err != nil {
		return Result{}, err
	}
	if len(farmIDs) == 0 {
		return Result{}, &clarification{msg: "You don't have any farms set up yet, so there are no tasks to summarize."}
	}

	counts, err := d.repo.CountTasks(ctx, farmIDs, d.today())
	if err != nil {
		return Result{}, fmt.Errorf("counting tasks: %w", err)
	}
	data := TaskSummaryData{FarmIDs: farmIDs, Counts: counts}

	if counts.Total == 0 {
		return Result{Data: data, Message: "You have no tasks recorded."}, nil
	}
	msg := fmt.Sprintf("You have %s: %d pending, %d in progress and %d completed.",
		plural(counts.Total, "task", "tasks"),
		counts.ByStatus[storage.TaskPending],
		counts.ByStatus[storage.TaskInProgress],
		counts.ByStatus[storage.TaskCompleted])
	if counts.Overdue > 0 {
		msg += fmt.Sprintf(" %s overdue.", plural(counts.Overdue, "task is", "tasks are"))
	}
	return Result{Data: data, Message: msg}, nil
}
