package resources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TIMEZONE", "Europe/Helsinki")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MAX_OCCURRENCES", "250")
	t.Setenv("SHUTDOWN_GRACE", "5s")

	settings, err := Load("vuosikello", "test")
	require.NoError(t, err)

	assert.Equal(t, "vuosikello", settings.Name)
	assert.Equal(t, "Europe/Helsinki", settings.Location.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, settings.CORSOrigins)
	assert.Equal(t, 250, settings.MaxOccurrences)
	assert.Equal(t, 5*time.Second, settings.ShutdownGrace)
	assert.Equal(t, "0 7 * * *", settings.ReminderCron)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "bad timezone", env: map[string]string{"JWT_SECRET": "s", "TIMEZONE": "Mars/Olympus"}},
		{name: "bad grace", env: map[string]string{"JWT_SECRET": "s", "SHUTDOWN_GRACE": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("vuosikello", "test")
			require.Error(t, err)
		})
	}
}
