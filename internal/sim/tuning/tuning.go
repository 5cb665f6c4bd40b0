package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`
	// StepSeconds is the simulated dt per tick. Zero means 1/TickRateHz,
	// i.e. real time.
	StepSeconds        float64 `yaml:"step_seconds"`
	SnapshotEveryTicks int     `yaml:"snapshot_every_ticks"`

	DefaultSpeed    float64 `yaml:"default_speed"`
	ArriveTolerance float64 `yaml:"arrive_tolerance"`

	ViewerQueue int `yaml:"viewer_queue"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         30,
		SnapshotEveryTicks: 900,
		DefaultSpeed:       0.5,
		ArriveTolerance:    0.05,
		ViewerQueue:        8,
	}
}

// Load reads path over Defaults. Keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.StepSeconds < 0 {
		return fmt.Errorf("step_seconds must not be negative")
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must not be negative")
	}
	if t.DefaultSpeed <= 0 {
		return fmt.Errorf("default_speed must be positive")
	}
	if t.ArriveTolerance < 0 {
		return fmt.Errorf("arrive_tolerance must not be negative")
	}
	return nil
}

func (t Tuning) DT() float64 {
	if t.StepSeconds > 0 {
		return t.StepSeconds
	}
	return 1 / float64(t.TickRateHz)
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}
