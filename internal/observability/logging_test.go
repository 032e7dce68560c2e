package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name:    "default config",
			cfg:     DefaultLogConfig(),
			wantErr: false,
		},
		{
			name:    "console format",
			cfg:     LogConfig{Level: "debug", Format: "console", Output: "stderr"},
			wantErr: false,
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "verbose", Format: "json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	require.NotNil(t, logger)

	// All operations must be safe no-ops.
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	assert.NoError(t, logger.Sync())
	assert.Equal(t, logger, logger.With(String("k", "v")))
}

func TestLoggerWith(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(DefaultLogConfig())
	require.NoError(t, err)

	child := logger.With(String("component", "test"), Int("n", 1))
	assert.NotNil(t, child)
	child.Info("message with fields")
}

func TestNewTracerDisabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{ServiceName: "avaccess-test", Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, tracer.Tracer())
	assert.NoError(t, tracer.Shutdown(t.Context()))
}

func TestGlobalLogger(t *testing.T) {
	// Not parallel: mutates package-level state.
	defer SetGlobalLogger(nil)

	assert.NotNil(t, GetGlobalLogger())

	nop := NopLogger()
	SetGlobalLogger(nop)
	assert.Equal(t, nop, GetGlobalLogger())
}
