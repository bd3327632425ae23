// Package intent classifies a farmer's question into one of a closed set of
// intents and extracts the entities the lookup needs.
package intent

import "fmt"

// Intent is the closed set of questions the assistant can answer.
type Intent string

const (
	NextHarvest     Intent = "NEXT_HARVEST"
	TasksByLocation Intent = "TASKS_BY_LOCATION"
	PlotStatus      Intent = "PLOT_STATUS"
	Forecast        Intent = "FORECAST"
	FarmHealth      Intent = "FARM_HEALTH"
	TaskSummary     Intent = "TASK_SUMMARY"
)

// All lists every intent in prompt order.
var All = []Intent{NextHarvest, TasksByLocation, PlotStatus, Forecast, FarmHealth, TaskSummary}

func (i Intent) Valid() bool {
	for _, v := range All {
		if i == v {
			return true
		}
	}
	return false
}

// EntityMap holds the optional parameters extracted from the question.
// Fields are not cross-validated: a plot id is never checked against a farm id.
type EntityMap struct {
	FarmID   *int64 `json:"farmId,omitempty"`
	PlotID   *int64 `json:"plotId,omitempty"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status,omitempty"`
	Months   *int   `json:"months,omitempty"`
}

// Analysis is a successful classification.
type Analysis struct {
	Intent   Intent    `json:"intent"`
	Entities EntityMap `json:"entities"`
}

// ClassificationError reports model output that could not be turned into an
// Analysis. Raw holds the offending model text.
type ClassificationError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("intent classification: %s: %v", e.Reason, e.Err)
	}
	return "intent classification: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }
