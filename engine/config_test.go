package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDefaultsExtentSize(t *testing.T) {
	cfg := &StoreConfig{}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, int64(DefaultExtentSize), cfg.ExtentSize)
}

func TestValidateAcceptsMultipleOf4MiB(t *testing.T) {
	cfg := &StoreConfig{ExtentSize: 8 << 20}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonMultiple(t *testing.T) {
	cfg := &StoreConfig{ExtentSize: (4 << 20) + 1}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegative(t *testing.T) {
	cfg := &StoreConfig{ExtentSize: -1}
	assert.Error(t, cfg.Validate())
}
