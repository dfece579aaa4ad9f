package timerange

import (
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRelative(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	w := Resolve("last 24h", now)
	require.True(t, w.Bounded)
	assert.Equal(t, "24h", w.Token)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, now, w.End)

	for token, want := range map[string]time.Duration{
		"1h":          time.Hour,
		"Last Hour":   time.Hour,
		"3d":          72 * time.Hour,
		"last 7 days": 7 * 24 * time.Hour,
		"last-week":   7 * 24 * time.Hour,
		"month":       30 * 24 * time.Hour,
	} {
		w := Resolve(token, now)
		require.True(t, w.Bounded, token)
		assert.Equal(t, want, w.End.Sub(w.Start), token)
	}
}

func TestResolveDay(t *testing.T) {
	loc := time.FixedZone("NZDT", 13*3600)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, loc)

	w := Resolve("2024-03-09", now)
	require.True(t, w.Bounded)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, loc), w.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), w.End)

	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End), "end is exclusive")
}

func TestResolveUnknown(t *testing.T) {
	now := time.Now()
	for _, token := range []string{"", "all", "fortnight", "2024-13-01"} {
		w := Resolve(token, now)
		assert.False(t, w.Bounded, token)
		assert.Equal(t, All, w.Token)
		assert.True(t, w.Contains(time.Time{}))
	}
}

func TestFilter(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := telemetry.Series{}
	for i := 0; i < 48; i++ {
		series = append(series, telemetry.Sample{Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}

	w := Resolve("2024-01-02", base)
	filtered, err := Filter(series, w)
	require.NoError(t, err)
	require.Len(t, filtered, 24)
	assert.Equal(t, base.Add(24*time.Hour), filtered[0].Timestamp)

	all, err := Filter(series, Resolve("all", base))
	require.NoError(t, err)
	assert.Len(t, all, 48)

	_, err = Filter(series, Resolve("2023-06-01", base))
	var emptyErr *EmptyWindowError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, 48, emptyErr.Total)

	_, err = Filter(nil, Resolve("all", base))
	require.True(t, errors.As(err, &emptyErr))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"1h", "3h", "6h", "12h", "24h", "3d", "7d", "30d"}, Tokens())
}
