package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: Config{}},
		{name: "debug console", config: Config{Level: "debug", Format: "console"}},
		{name: "unknown level", config: Config{Level: "loud"}, wantErr: true},
		{name: "unknown format", config: Config{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplyDefaults()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "warn", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "nope"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
