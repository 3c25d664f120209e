package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landcover-cli/internal/accuracy"
	"github.com/sells-group/landcover-cli/internal/area"
	"github.com/sells-group/landcover-cli/internal/change"
)

// Report summarizes a run. It is stored as the run summary and can be written
// as a standalone YAML document. Undefined statistics are encoded as .nan.
type Report struct {
	RunID        string              `yaml:"run_id"`
	Sensor       string              `yaml:"sensor"`
	Region       string              `yaml:"region"`
	Years        []int               `yaml:"years"`
	SkippedYears []SkippedYear       `yaml:"skipped_years,omitempty"`
	Samples      SampleCounts        `yaml:"samples"`
	Accuracy     *accuracy.Report    `yaml:"accuracy"`
	LossArea     *area.Summary       `yaml:"loss_area,omitempty"`
	Transitions  []change.Transition `yaml:"transitions,omitempty"`
	Warnings     []string            `yaml:"warnings,omitempty"`
	Stages       []StageTiming       `yaml:"stages"`
}

// SkippedYear is a year left out of the composite series.
type SkippedYear struct {
	Year  int    `yaml:"year"`
	Error string `yaml:"error"`
}

// SampleCounts describes the labeled samples of a run.
type SampleCounts struct {
	Year       int         `yaml:"year"` // composite the samples were read from
	Training   int         `yaml:"training"`
	Validation int         `yaml:"validation"`
	Classes    map[int]int `yaml:"classes"`
}

// StageTiming is the wall time of one stage invocation.
type StageTiming struct {
	Stage   string  `yaml:"stage"`
	Seconds float64 `yaml:"seconds"`
}

// YAML encodes the report.
func (r *Report) YAML() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: encode report")
	}
	return data, nil
}

// WriteFile writes the report as YAML to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.YAML()
	if err != nil {
		return err
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "pipeline: write report %s", path)
}

// ReadReport parses a report written by WriteFile.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read report %s", path)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "pipeline: decode report %s", path)
	}
	return &r, nil
}
