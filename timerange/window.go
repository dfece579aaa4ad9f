package timerange

import (
	"fmt"
	"strings"
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
)

// All is the token for an unfiltered series.
const All = "all"

// Window is a half-open interval [Start, End). An unbounded window lets
// every sample through.
type Window struct {
	Token   string
	Start   time.Time
	End     time.Time
	Bounded bool
}

func (w Window) Contains(t time.Time) bool {
	if !w.Bounded {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	if !w.Bounded {
		return fmt.Sprintf("%s (unbounded)", w.Token)
	}
	return fmt.Sprintf("%s [%s, %s)", w.Token, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

type relative struct {
	token    string
	duration time.Duration
	aliases  []string
}

var relativeWindows = []relative{
	{"1h", time.Hour, []string{"hour", "1hour", "60m"}},
	{"3h", 3 * time.Hour, []string{"3hours"}},
	{"6h", 6 * time.Hour, []string{"6hours"}},
	{"12h", 12 * time.Hour, []string{"12hours"}},
	{"24h", 24 * time.Hour, []string{"day", "1d", "24hours"}},
	{"3d", 72 * time.Hour, []string{"72h", "3days"}},
	{"7d", 7 * 24 * time.Hour, []string{"week", "7days", "168h"}},
	{"30d", 30 * 24 * time.Hour, []string{"month", "30days"}},
}

// Tokens lists the canonical relative range tokens, shortest first.
func Tokens() []string {
	tokens := make([]string, len(relativeWindows))
	for i, r := range relativeWindows {
		tokens[i] = r.token
	}
	return tokens
}

// normalize folds "Last 24 h", "last-7-days" and "7_days" onto the table keys.
func normalize(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	token = strings.TrimPrefix(token, "last")
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(token)
}

func lookup(token string) (relative, bool) {
	for _, r := range relativeWindows {
		if r.token == token {
			return r, true
		}
		for _, alias := range r.aliases {
			if alias == token {
				return r, true
			}
		}
	}
	return relative{}, false
}

// Resolve maps a range token to an absolute window. A relative token ends
// at now, an ISO date covers that calendar day in now's location. Anything
// else resolves to an unbounded window.
func Resolve(token string, now time.Time) Window {
	raw := strings.TrimSpace(token)
	if day, err := time.ParseInLocation(telemetry.DateLayout, raw, now.Location()); err == nil {
		return Window{
			Token:   day.Format(telemetry.DateLayout),
			Start:   day,
			End:     day.AddDate(0, 0, 1),
			Bounded: true,
		}
	}
	if r, ok := lookup(normalize(token)); ok {
		return Window{
			Token:   r.token,
			Start:   now.Add(-r.duration),
			End:     now,
			Bounded: true,
		}
	}
	return Window{Token: All}
}

// EmptyWindowError means filtering left no samples. It is reported to the
// user as "no data in range".
type EmptyWindowError struct {
	Window Window
	Total  int
}

func (e *EmptyWindowError) Error() string {
	return fmt.Sprintf("no data in range %s (%d samples outside it)", e.Window, e.Total)
}

// Filter keeps the samples inside w, preserving order.
func Filter(series telemetry.Series, w Window) (telemetry.Series, error) {
	if !w.Bounded {
		if len(series) == 0 {
			return nil, &EmptyWindowError{Window: w}
		}
		return series, nil
	}
	out := make(telemetry.Series, 0, len(series))
	for _, s := range series {
		if w.Contains(s.Timestamp) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, &EmptyWindowError{Window: w, Total: len(series)}
	}
	return out, nil
}
