package resources

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	otelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

var severities = map[zerolog.Level]struct {
	sev  otelog.Severity
	text string
}{
	zerolog.TraceLevel: {otelog.SeverityTrace, "TRACE"},
	zerolog.DebugLevel: {otelog.SeverityDebug, "DEBUG"},
	zerolog.InfoLevel:  {otelog.SeverityInfo, "INFO"},
	zerolog.WarnLevel:  {otelog.SeverityWarn, "WARN"},
	zerolog.ErrorLevel: {otelog.SeverityError, "ERROR"},
	zerolog.FatalLevel: {otelog.SeverityFatal, "FATAL"},
	zerolog.PanicLevel: {otelog.SeverityFatal4, "FATAL"},
}

// ZerologHook re-emits every zerolog event as an OpenTelemetry log record, so
// stdout logs also reach the collector.
type ZerologHook struct {
	logger  otelog.Logger
	service []otelog.KeyValue
}

func NewZerologHook(serviceName string, serviceVersion string) *ZerologHook {
	return &ZerologHook{
		logger: global.GetLoggerProvider().Logger(serviceName, otelog.WithInstrumentationVersion(serviceVersion)),
		service: []otelog.KeyValue{
			otelog.String("service.name", serviceName),
			otelog.String("service.version", serviceVersion),
		},
	}
}

func (h *ZerologHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	fields, ok := eventFields(e)
	if !ok {
		return
	}

	sev, ok := severities[level]
	if !ok {
		sev = severities[zerolog.InfoLevel]
	}

	var rec otelog.Record

	rec.SetTimestamp(timestampOf(fields))
	rec.SetSeverity(sev.sev)
	rec.SetSeverityText(sev.text)
	rec.SetBody(otelog.StringValue(msg))
	rec.AddAttributes(h.service...)
	rec.AddAttributes(toAttributes(fields)...)

	h.logger.Emit(e.GetCtx(), rec)
}

// eventFields decodes the fields written so far; zerolog keeps them in an
// unexported, still unterminated JSON buffer.
func eventFields(e *zerolog.Event) (map[string]any, bool) {
	if e == nil {
		return nil, false
	}

	f := reflect.ValueOf(e).Elem().FieldByName("buf")
	if !f.IsValid() || f.Kind() != reflect.Slice || f.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}

	b := append([]byte(nil), f.Bytes()...)
	if len(b) == 0 {
		return nil, false
	}

	if b[len(b)-1] != '}' {
		b = append(b, '}')
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}

	return m, true
}

func toAttributes(m map[string]any) []otelog.KeyValue {
	kvs := make([]otelog.KeyValue, 0, len(m))

	for k, v := range m {
		switch x := v.(type) {
		case string:
			kvs = append(kvs, otelog.String(k, x))
		case bool:
			kvs = append(kvs, otelog.Bool(k, x))
		case float64:
			if x == float64(int64(x)) {
				kvs = append(kvs, otelog.Int64(k, int64(x)))
			} else {
				kvs = append(kvs, otelog.Float64(k, x))
			}
		default:
			kvs = append(kvs, otelog.String(k, fmt.Sprintf("%v", x)))
		}
	}

	return kvs
}

func timestampOf(m map[string]any) time.Time {
	s, ok := m[zerolog.TimestampFieldName].(string)
	if !ok {
		return time.Now()
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}

	return time.Now()
}
