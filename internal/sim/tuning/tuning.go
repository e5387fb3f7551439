package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the fixed per-tick magnitudes and timer intervals of the
// movement controller. Distances are in grid cells.
type Tuning struct {
	FrameRateHz int `yaml:"frame_rate_hz"`

	FreeSpeed   float64 `yaml:"free_speed"`
	CommandStep float64 `yaml:"command_step"`
	PathStep    float64 `yaml:"path_step"`

	PathStepIntervalMs int     `yaml:"path_step_interval_ms"`
	ArriveEpsilon      float64 `yaml:"arrive_epsilon"`

	SyncIntervalMs int     `yaml:"sync_interval_ms"`
	SyncEpsilon    float64 `yaml:"sync_epsilon"`

	RemoteTimeoutMs int `yaml:"remote_timeout_ms"`
}

func Defaults() Tuning {
	return Tuning{
		FrameRateHz:        60,
		FreeSpeed:          0.1,
		CommandStep:        0.05,
		PathStep:           0.25,
		PathStepIntervalMs: 50,
		ArriveEpsilon:      1e-3,
		SyncIntervalMs:     500,
		SyncEpsilon:        0.01,
		RemoteTimeoutMs:    5000,
	}
}

// Load reads path over Defaults, so a tuning file only needs the keys it changes.
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

// MaxFrameRateHz bounds the tick rate of the motion loop.
const MaxFrameRateHz = 1000

func (t Tuning) Validate() error {
	if t.FrameRateHz <= 0 || t.FrameRateHz > MaxFrameRateHz {
		return fmt.Errorf("frame_rate_hz must be in 1..%d", MaxFrameRateHz)
	}
	if t.FreeSpeed < 0 || t.CommandStep < 0 {
		return fmt.Errorf("free_speed and command_step must be >= 0")
	}
	if t.PathStep <= 0 {
		return fmt.Errorf("path_step must be > 0")
	}
	if t.PathStepIntervalMs < 0 {
		return fmt.Errorf("path_step_interval_ms must be >= 0")
	}
	if t.ArriveEpsilon < 0 || t.SyncEpsilon < 0 {
		return fmt.Errorf("epsilons must be >= 0")
	}
	if t.SyncIntervalMs <= 0 {
		return fmt.Errorf("sync_interval_ms must be > 0")
	}
	if t.RemoteTimeoutMs <= 0 {
		return fmt.Errorf("remote_timeout_ms must be > 0")
	}
	return nil
}

func (t Tuning) FrameInterval() time.Duration {
	return time.Second / time.Duration(t.FrameRateHz)
}

func (t Tuning) PathStepInterval() time.Duration {
	return time.Duration(t.PathStepIntervalMs) * time.Millisecond
}

func (t Tuning) SyncInterval() time.Duration {
	return time.Duration(t.SyncIntervalMs) * time.Millisecond
}

func (t Tuning) RemoteTimeout() time.Duration {
	return time.Duration(t.RemoteTimeoutMs) * time.Millisecond
}
