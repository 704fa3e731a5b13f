package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"meshsim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Tables names the GreptimeDB tables the dashboard queries.
type Tables struct {
	NodeTable  string
	EventTable string
	StateTable string
}

// DefaultTables returns the table names the simulator writes to.
func DefaultTables() Tables {
	return Tables{
		NodeTable:  telemetry.NodeRow{}.TableName(),
		EventTable: telemetry.EventRow{}.TableName(),
		StateTable: telemetry.NetworkStateRow{}.TableName(),
	}
}

// Render parses the embedded dashboard templates and writes rendered dashboards
// to outDir. Templates may read environment variables with {{ env "NAME" }};
// a missing variable is an error.
func Render(outDir string) error {
	return RenderTables(outDir, DefaultTables())
}

// RenderTables is Render with explicit table names.
func RenderTables(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	names, err := templates.ReadDir("templates")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, entry := range names {
		name := entry.Name()
		t, err := template.New(name).Funcs(funcMap).ParseFS(templates, "templates/"+name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, tables); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
