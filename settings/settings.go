/*
batterylog - battery telemetry viewer
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package settings

import (
	"regexp"
	"strings"
	"time"
)

const (
	LoggingKey       = "logging"
	VisualizationKey = "visualization"
)

type Logging struct {
	LogInterval int `mapstructure:"log_interval" json:"log_interval"` // seconds
}

type Visualization struct {
	TimeRange       string `mapstructure:"time_range" json:"time_range"`
	SelectedDay     string `mapstructure:"selected_day" json:"selected_day,omitempty"`
	AutoRefresh     bool   `mapstructure:"auto_refresh" json:"auto_refresh"`
	RefreshInterval int    `mapstructure:"refresh_interval" json:"refresh_interval"` // milliseconds
	TargetPoints    int    `mapstructure:"target_points" json:"target_points,omitempty"`
}

// Settings is the persisted viewer configuration.
type Settings struct {
	Logging       Logging       `mapstructure:"logging" json:"logging"`
	Visualization Visualization `mapstructure:"visualization" json:"visualization"`
}

func Default() Settings {
	return Settings{
		Logging: Logging{LogInterval: 60},
		Visualization: Visualization{
			TimeRange:       "1h",
			AutoRefresh:     true,
			RefreshInterval: 60000,
			TargetPoints:    200,
		},
	}
}

// RefreshPeriod is the auto-refresh interval, or zero when auto refresh is off.
func (s Settings) RefreshPeriod() time.Duration {
	if !s.Visualization.AutoRefresh || s.Visualization.RefreshInterval <= 0 {
		return 0
	}
	return time.Duration(s.Visualization.RefreshInterval) * time.Millisecond
}

// Store persists settings. Implementations must be safe for concurrent use.
type Store interface {
	Load() (Settings, error)
	// Document returns the whole stored document, including keys this
	// package does not know about.
	Document() (map[string]interface{}, error)
	// UpdateVisualization merges update into the visualization section.
	UpdateVisualization(update map[string]interface{}) error
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func camelToSnake(name string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(name, "${1}_${2}"))
}

// NormalizeKeys converts camelCase map keys to snake_case, recursing into
// nested maps and lists.
func NormalizeKeys(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[camelToSnake(k)] = NormalizeKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = NormalizeKeys(val)
		}
		return out
	}
	return data
}
