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

package viewer

import (
	"encoding/json"
	"errors"
	"runtime"
	"strings"

	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.batterylog"
	dbusPath = "/org/cacophony/batterylog"
)

var errNoResult = errors.New("no refresh has completed yet")

type statusService struct {
	latest func() *pipeline.Result
}

func startStatusService(latest func() *pipeline.Result) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &statusService{latest: latest}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

// Summary returns the summary of the latest applied refresh as JSON.
func (s statusService) Summary() (string, *dbus.Error) {
	summary, err := s.summary()
	if err != nil {
		return "", dbusErr(err)
	}
	return summary, nil
}

// Anomalies returns the anomalies of the latest applied refresh as JSON.
func (s statusService) Anomalies() (string, *dbus.Error) {
	result := s.latest()
	if result == nil {
		return "", dbusErr(errNoResult)
	}
	data, err := json.Marshal(result.Anomalies)
	if err != nil {
		return "", dbusErr(err)
	}
	return string(data), nil
}

func (s statusService) summary() (string, error) {
	result := s.latest()
	if result == nil {
		return "", errNoResult
	}
	data, err := json.Marshal(result.Summary())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
