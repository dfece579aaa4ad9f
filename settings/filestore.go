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
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// FileStore keeps settings in a JSON file. A missing file reads as the
// defaults and is created on the first update.
type FileStore struct {
	path string
	log  logrus.FieldLogger
	mu   sync.Mutex
}

func NewFileStore(path string, log logrus.FieldLogger) *FileStore {
	return &FileStore{path: path, log: log}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) read() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("json")

	d := Default()
	v.SetDefault(LoggingKey+".log_interval", d.Logging.LogInterval)
	v.SetDefault(VisualizationKey+".time_range", d.Visualization.TimeRange)
	v.SetDefault(VisualizationKey+".auto_refresh", d.Visualization.AutoRefresh)
	v.SetDefault(VisualizationKey+".refresh_interval", d.Visualization.RefreshInterval)
	v.SetDefault(VisualizationKey+".target_points", d.Visualization.TargetPoints)

	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		f.log.Debugf("Settings file '%s' not found, using defaults", f.path)
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read settings from '%s': %w", f.path, err)
	}
	return v, nil
}

func (f *FileStore) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.read()
	if err != nil {
		return Settings{}, err
	}
	s := Settings{}
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func (f *FileStore) Document() (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.read()
	if err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func (f *FileStore) UpdateVisualization(update map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.read()
	if err != nil {
		return err
	}
	normalized, _ := NormalizeKeys(update).(map[string]interface{})
	for k, val := range normalized {
		v.Set(VisualizationKey+"."+k, val)
	}
	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("failed to write settings to '%s': %w", f.path, err)
	}
	f.log.Infof("Updated visualization settings: %v", normalized)
	return nil
}
