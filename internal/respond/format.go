// Package respond turns lookup results into the assistant's Markdown reply.
package respond

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/kalambet/fieldhand/internal/dispatch"
	"github.com/kalambet/fieldhand/internal/intent"
)

var funcs = template.FuncMap{
	"date": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			return v.Format("2006-01-02")
		case *time.Time:
			if v == nil {
				return "unknown"
			}
			return v.Format("2006-01-02")
		}
		return fmt.Sprint(t)
	},
	"kg":    func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"score": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"lower": strings.ToLower,
	"human": func(s string) string { return strings.ToLower(strings.ReplaceAll(s, "_", " ")) },
}

// Templates render the structured data below the lookup's message. Every
// figure they print is taken from the data, never computed here.
var templates = map[intent.Intent]string{
	intent.NextHarvest: `{{.Message}}
{{- with .Data.Upcoming}}

| Plot | Planted | Expected harvest |
|---|---|---|
{{- range .}}
| {{.PlotName}} | {{date .PlantedDate}} | {{date .EstimatedDate}} |
{{- end}}
{{- end}}`,

	intent.TasksByLocation: `{{.Message}}
{{- with .Data.Tasks}}

| Task | Farm | Plot | Status | Due |
|---|---|---|---|---|
{{- range .}}
| {{.Title}} | {{.FarmName}} | {{.PlotName}} | {{human .Status}} | {{if .DueDate}}{{date .DueDate}}{{end}} |
{{- end}}
{{- end}}`,

	intent.PlotStatus: `{{.Message}}
{{- with .Data}}

- **Plot:** {{.Plot.Name}} ({{lower .Plot.CropType}})
{{- with .LatestMetric}}
- **Health score:** {{score .HealthScore}}
{{- end}}
{{- with .LastHarvest}}
- **Last harvest:** {{kg .QuantityKg}} kg
{{- end}}
{{- end}}`,

	intent.Forecast: `{{.Message}}
{{- with .Data.Plots}}

| Plot | Expected harvest | Expected kg | Basis |
|---|---|---|---|
{{- range .}}
| {{.PlotName}} | {{date .EstimatedDate}} | {{if eq .Basis "unknown"}}unknown{{else}}{{kg .ExpectedKg}}{{end}} | {{human .Basis}} |
{{- end}}
{{- end}}`,

	intent.FarmHealth: `{{.Message}}`,

	intent.TaskSummary: `{{.Message}}
{{- with .Data.Counts}}{{if .Total}}

| Status | Tasks |
|---|---|
| pending | {{index .ByStatus "PENDING"}} |
| in progress | {{index .ByStatus "IN_PROGRESS"}} |
| completed | {{index .ByStatus "COMPLETED"}} |
| overdue | {{.Overdue}} |
{{- end}}{{end}}`,
}

// Formatter renders results with one template per intent.
type Formatter struct {
	tmpls map[intent.Intent]*template.Template
}

func NewFormatter() (*Formatter, error) {
	f := &Formatter{tmpls: make(map[intent.Intent]*template.Template, len(templates))}
	for in, src := range templates {
		t, err := template.New(string(in)).Funcs(funcs).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", in, err)
		}
		f.tmpls[in] = t
	}
	return f, nil
}

type view struct {
	Message string
	Data    any
	Query   string
}

// Format returns the Markdown reply for a result. Results without data, and
// any template failure, fall back to the plain message.
func (f *Formatter) Format(in intent.Intent, res dispatch.Result, query string) string {
	if res.Data == nil || res.Error != "" {
		return res.Message
	}
	t, ok := f.tmpls[in]
	if !ok {
		return res.Message
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, view{Message: res.Message, Data: res.Data, Query: query}); err != nil {
		slog.Warn("response template failed, using plain message", "intent", in, "error", err)
		return res.Message
	}
	return strings.TrimSpace(buf.String())
}
