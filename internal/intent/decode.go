package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kalambet/fieldhand/internal/llm"
)

func intentNames() []string {
	out := make([]string, len(All))
	for i, v := range All {
		out[i] = string(v)
	}
	return out
}

func nullable(t string) []string { return []string{t, "null"} }

// analysisSchemaDoc is the contract model output must satisfy before it is
// trusted. Unknown keys are rejected at both levels.
var analysisSchemaDoc = map[string]any{
	"type":                 "object",
	"required":             []string{"intent"},
	"additionalProperties": false,
	"properties": map[string]any{
		"intent": map[string]any{"type": "string", "enum": intentNames()},
		"entities": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"farmId":   map[string]any{"type": nullable("integer"), "minimum": 1, "maximum": math.MaxInt32},
				"plotId":   map[string]any{"type": nullable("integer"), "minimum": 1, "maximum": math.MaxInt32},
				"location": map[string]any{"type": nullable("string"), "maxLength": 100},
				"status":   map[string]any{"type": nullable("string"), "maxLength": 32},
				"months":   map[string]any{"type": nullable("integer"), "minimum": 1, "maximum": 36},
			},
		},
	},
}

var analysisSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(analysisSchemaDoc))
	if err != nil {
		panic(fmt.Sprintf("intent: invalid analysis schema: %v", err))
	}
	return s
}()

// wireAnalysis mirrors the model's JSON. Numbers arrive as float64 because a
// schema-valid integer may still be written as 3.0.
type wireAnalysis struct {
	Intent   string `json:"intent"`
	Entities struct {
		FarmID   *float64 `json:"farmId"`
		PlotID   *float64 `json:"plotId"`
		Location *string  `json:"location"`
		Status   *string  `json:"status"`
		Months   *float64 `json:"months"`
	} `json:"entities"`
}

// Decode turns raw model text into an Analysis or a *ClassificationError.
func Decode(raw string) (Analysis, error) {
	obj, err := llm.ExtractJSON(raw)
	if err != nil {
		return Analysis{}, &ClassificationError{Reason: "no JSON object in model output", Raw: raw, Err: err}
	}

	res, err := analysisSchema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return Analysis{}, &ClassificationError{Reason: "unreadable JSON", Raw: raw, Err: err}
	}
	if !res.Valid() {
		msgs := make([]string, len(res.Errors()))
		for i, d := range res.Errors() {
			msgs[i] = d.String()
		}
		return Analysis{}, &ClassificationError{Reason: "schema violation: " + strings.Join(msgs, "; "), Raw: raw}
	}

	var w wireAnalysis
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return Analysis{}, &ClassificationError{Reason: "decoding analysis", Raw: raw, Err: err}
	}

	a := Analysis{Intent: Intent(w.Intent)}
	a.Entities.FarmID = toID(w.Entities.FarmID)
	a.Entities.PlotID = toID(w.Entities.PlotID)
	if w.Entities.Months != nil {
		m := int(math.Round(*w.Entities.Months))
		a.Entities.Months = &m
	}
	if w.Entities.Location != nil {
		a.Entities.Location = strings.TrimSpace(*w.Entities.Location)
	}
	if w.Entities.Status != nil {
		a.Entities.Status = normalizeStatus(*w.Entities.Status)
	}

	if err := screenEntities(a.Entities); err != nil {
		return Analysis{}, &ClassificationError{Reason: err.Error(), Raw: raw}
	}
	return a, nil
}

func toID(f *float64) *int64 {
	if f == nil {
		return nil
	}
	v := int64(math.Round(*f))
	return &v
}

// normalizeStatus maps "in progress" and friends to the stored task status form.
func normalizeStatus(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

var errInjection = errors.New("entity rejected")

// screenEntities rejects free-text entities that look like SQL. They only ever
// reach parameterized queries, but a model echoing injection payloads is a
// signal the classification cannot be trusted.
func screenEntities(e EntityMap) error {
	for name, v := range map[string]string{"location": e.Location, "status": e.Status} {
		if v == "" {
			continue
		}
		if isSQLi, fp := libinjection.IsSQLi(v); isSQLi {
			return fmt.Errorf("%w: %s looks like SQL (fingerprint %s)", errInjection, name, fp)
		}
	}
	return nil
}

// responseSchema is the hint passed to backends that support JSON mode.
func responseSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"intent":   {Type: "string", Enum: intentNames(), Description: "The user's intent"},
			"entities": {Type: "object", Description: "farmId, plotId, location, status, months; omit unknown values"},
		},
		Required: []string{"intent", "entities"},
	}
}
