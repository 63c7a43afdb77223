package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilnforge/kiln-controller/internal/config"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

func TestFaultPolicy_OnlyIgnoresFlaggedClasses(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.IgnoreTCColdJunctionHigh = true
	cfg.IgnoreTCVoltage = true

	policy := cfg.FaultPolicy()

	assert.True(t, policy[sensor.FaultColdJunctionHigh])
	assert.True(t, policy[sensor.FaultVoltage])
	assert.False(t, policy[sensor.FaultShortCircuit])
	assert.False(t, policy[sensor.FaultNotConnected])
}
