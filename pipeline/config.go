package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/TheCacophonyProject/batterylog/anomaly"
	"github.com/TheCacophonyProject/batterylog/resample"
	"github.com/TheCacophonyProject/batterylog/settings"
)

// Config is everything one refresh depends on. It is passed by value and
// captured before the refresh starts, so later UI changes cannot leak into
// a refresh already in flight.
type Config struct {
	Range        string             `json:"range"`
	Day          string             `json:"day,omitempty"`
	TargetPoints int                `json:"target_points"`
	MaxGap       time.Duration      `json:"max_gap"`
	JumpGuard    float64            `json:"jump_guard"`
	Thresholds   anomaly.Thresholds `json:"thresholds"`
	Location     *time.Location     `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Range:        settings.Default().Visualization.TimeRange,
		TargetPoints: resample.DefaultTarget,
		MaxGap:       resample.DefaultMaxGap,
		JumpGuard:    resample.DefaultJumpGuard,
		Thresholds:   anomaly.DefaultThresholds(),
		Location:     time.Local,
	}
}

// Token is the range token to resolve. A selected day wins over the range.
func (c Config) Token() string {
	if strings.TrimSpace(c.Day) != "" {
		return c.Day
	}
	return c.Range
}

func (c Config) WithRange(r string) Config {
	c.Range = r
	c.Day = ""
	return c
}

func (c Config) WithDay(day string) Config {
	c.Day = day
	return c
}

func (c Config) WithTargetPoints(n int) Config {
	if n > 0 {
		c.TargetPoints = n
	}
	return c
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Key identifies the computation for caching.
func (c Config) Key() string {
	return fmt.Sprintf("%s|%d|%s|%g|%s|%+v",
		c.Token(), c.TargetPoints, c.MaxGap, c.JumpGuard, c.location(), c.Thresholds)
}

func (c Config) ResampleOptions() resample.Options {
	opts := resample.DefaultOptions()
	if c.TargetPoints > 0 {
		opts.Target = c.TargetPoints
	}
	if c.MaxGap > 0 {
		opts.MaxGap = c.MaxGap
	}
	if c.JumpGuard > 0 {
		opts.JumpGuard = c.JumpGuard
	}
	return opts
}

// ConfigFromSettings applies persisted visualization settings on top of base.
func ConfigFromSettings(s settings.Settings, base Config) Config {
	cfg := base
	if s.Visualization.TimeRange != "" {
		cfg.Range = s.Visualization.TimeRange
	}
	cfg.Day = s.Visualization.SelectedDay
	return cfg.WithTargetPoints(s.Visualization.TargetPoints)
}
