package resources

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	otelog "go.opentelemetry.io/otel/log"
)

func TestToAttributes(t *testing.T) {
	t.Parallel()

	got := toAttributes(map[string]any{
		"component": "broker",
		"total":     float64(3),
		"ratio":     0.5,
		"ok":        true,
		"tags":      []any{"a"},
	})

	kinds := make(map[string]otelog.Kind, len(got))
	values := make(map[string]string, len(got))

	for _, kv := range got {
		kinds[kv.Key] = kv.Value.Kind()
		values[kv.Key] = kv.Value.String()
	}

	assert.Equal(t, map[string]otelog.Kind{
		"component": otelog.KindString,
		"total":     otelog.KindInt64,
		"ratio":     otelog.KindFloat64,
		"ok":        otelog.KindBool,
		"tags":      otelog.KindString,
	}, kinds)
	assert.Equal(t, "broker", values["component"])
	assert.Equal(t, "3", values["total"])
	assert.Equal(t, "[a]", values["tags"])
}

func TestTimestampOf(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

	assert.True(t, ts.Equal(timestampOf(map[string]any{"time": ts.Format(time.RFC3339Nano)})))
	assert.WithinDuration(t, time.Now(), timestampOf(map[string]any{"time": "yesterday"}), time.Minute)
	assert.WithinDuration(t, time.Now(), timestampOf(map[string]any{}), time.Minute)
}

func TestZerologHook_Run(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := zerolog.New(&buf).Hook(NewZerologHook("vuosikello", "test"))

	assert.NotPanics(t, func() {
		logger.Info().Str("component", "test").Msg("hello")
		logger.Log().Msg("no level")
	})
	assert.Contains(t, buf.String(), `"component":"test"`)
}
