package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/logging"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		env       string
		wantDebug bool
	}{
		{logging.EnvDev, true},
		{logging.EnvProd, false},
		{"", false},
		{"staging", false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.New(&buf, tt.env)

			log.Debug("debug line")
			log.Info("info line", "component", "test")

			lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
			if tt.wantDebug {
				require.Len(t, lines, 2)
			} else {
				require.Len(t, lines, 1)
			}

			var rec map[string]any
			require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
			assert.Equal(t, "info line", rec["msg"])
			assert.Equal(t, "test", rec["component"])
		})
	}
}
