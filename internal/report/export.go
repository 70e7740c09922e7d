// Package report renders simulation results as tables, charts, structured
// exports and Prometheus metrics.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/pkg/simulation"
)

// Artifact file names written into a run directory
const (
	JSONFile     = "report.json"
	YAMLFile     = "report.yaml"
	CSVFile      = "series.csv"
	ChartFile    = "chart.png"
	TextfileFile = "farmsim.prom"
)

// Report is everything recorded about one batch run
type Report struct {
	ID        string               `json:"id" yaml:"id"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	Seed      int64                `json:"seed" yaml:"seed"`
	Config    *config.Config       `json:"config" yaml:"config"`
	Summary   simulation.Summary   `json:"summary" yaml:"summary"`
	Results   []*simulation.Result `json:"results" yaml:"results"`
}

// WriteJSON encodes r as indented JSON
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

// WriteYAML encodes r as YAML
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return enc.Close()
}

// WriteCSV writes one row per repetition and cycle
func WriteCSV(w io.Writer, results []*simulation.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"repetition", "cycle", "utilization", "completion"}); err != nil {
		return err
	}
	for _, r := range results {
		for i := range r.UtilizationSeries {
			row := []string{
				strconv.Itoa(r.Repetition),
				strconv.Itoa(i + 1),
				strconv.FormatFloat(r.UtilizationSeries[i], 'f', 4, 64),
				strconv.FormatFloat(r.CompletionSeries[i], 'f', 4, 64),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteArtifacts writes the JSON, YAML, CSV and PNG renditions of r into dir
func WriteArtifacts(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{JSONFile, func(w io.Writer) error { return WriteJSON(w, r) }},
		{YAMLFile, func(w io.Writer) error { return WriteYAML(w, r) }},
		{CSVFile, func(w io.Writer) error { return WriteCSV(w, r.Results) }},
		{ChartFile, func(w io.Writer) error { return WriteChartPNG(w, r.Results) }},
	}
	for _, a := range writers {
		if err := writeFile(filepath.Join(dir, a.name), a.write); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
