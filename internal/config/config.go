// Package config loads the kiln daemon's full option surface: the
// engine's control-loop knobs plus the transport, GPIO, and storage
// settings the engine itself doesn't need to know about.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kilnforge/kiln-controller/pkg/engine"
	"github.com/kilnforge/kiln-controller/pkg/pid"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

// Configuration is the full daemon option surface, loaded from a config
// file (if present), environment variables (KILN_* prefix), and a .env
// file for local development.
type Configuration struct {
	HTTPAddr string

	GPIOChip       string
	GPIOHeatLine   int
	GPIOHeatInvert bool

	ProfileDir      string
	FiringLogDir    string
	LastFiringPath  string
	RestartStateFile string

	TempScale string

	Kp, Ki, Kd         float64
	PIDWindow          float64
	ThrottleBelowTemp  float64
	ThrottlePercent    float64

	EmergencyShutoffTemp float64
	IgnoreTempTooHigh    bool
	IgnoreSensorErrors   bool

	IgnoreTCNotConnected       bool
	IgnoreTCShortCircuit      bool
	IgnoreTCColdJunctionRange bool
	IgnoreTCThermocoupleRange bool
	IgnoreTCColdJunctionHigh  bool
	IgnoreTCColdJunctionLow   bool
	IgnoreTCTooHigh           bool
	IgnoreTCTooLow            bool
	IgnoreTCVoltage           bool
	IgnoreTCUnknown           bool

	SensorTimeWait time.Duration
	AverageSamples int

	KwhRate      float64
	KwElements   float64
	CurrencyType string

	SeekStart       bool
	KilnMustCatchUp bool

	AutomaticRestarts      bool
	AutomaticRestartWindow time.Duration
	StateSaveInterval      time.Duration

	CoolingAmbientTemp float64
	CoolingTargetTemp  float64
	CoolingMinSamples  int

	UseRateBasedControl      bool
	SegmentCompleteTolerance float64
	RateLookaheadSeconds     float64
	MaxTargetDivergence      float64

	EstimatedMaxHeatingRate     float64
	EstimatedNaturalCoolingRate float64

	HeatRateWindowSeconds float64
	RateDeviationWarning  float64

	StallDetectTime    time.Duration
	StallMinTempRise   float64
	RunawayDetectTime  time.Duration
	RunawayMinTempRise float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("gpio_chip", "gpiochip0")
	v.SetDefault("gpio_heat_line", 17)
	v.SetDefault("gpio_heat_invert", false)

	v.SetDefault("profile_dir", "./storage/profiles")
	v.SetDefault("firing_log_dir", "./storage/logs")
	v.SetDefault("last_firing_path", "./storage/last_firing.json")
	v.SetDefault("restart_state_file", "./storage/state.json")

	v.SetDefault("temp_scale", "F")

	v.SetDefault("kp", 2.0)
	v.SetDefault("ki", 400.0)
	v.SetDefault("kd", 450.0)
	v.SetDefault("pid_window", pid.Window)
	v.SetDefault("throttle_below_temp", 0.0)
	v.SetDefault("throttle_percent", 0.0)

	v.SetDefault("emergency_shutoff_temp", 2300.0)
	v.SetDefault("ignore_temp_too_high", false)
	v.SetDefault("ignore_sensor_errors", false)

	v.SetDefault("ignore_tc_not_connected", false)
	v.SetDefault("ignore_tc_short_circuit", false)
	v.SetDefault("ignore_tc_cold_junction_range", false)
	v.SetDefault("ignore_tc_thermocouple_range", false)
	v.SetDefault("ignore_tc_cold_junction_high", false)
	v.SetDefault("ignore_tc_cold_junction_low", false)
	v.SetDefault("ignore_tc_too_high", false)
	v.SetDefault("ignore_tc_too_low", false)
	v.SetDefault("ignore_tc_voltage", false)
	v.SetDefault("ignore_tc_unknown", false)

	v.SetDefault("sensor_time_wait", "2s")
	v.SetDefault("average_samples", 5)

	v.SetDefault("kwh_rate", 0.12)
	v.SetDefault("kw_elements", 9.0)
	v.SetDefault("currency_type", "$")

	v.SetDefault("seek_start", true)
	v.SetDefault("kiln_must_catch_up", true)

	v.SetDefault("automatic_restarts", false)
	v.SetDefault("automatic_restart_window", "5m")
	v.SetDefault("state_save_interval", "60s")

	v.SetDefault("cooling_ambient_temp", 72.0)
	v.SetDefault("cooling_target_temp", 150.0)
	v.SetDefault("cooling_min_samples", 5)

	v.SetDefault("use_rate_based_control", false)
	v.SetDefault("segment_complete_tolerance", 5.0)
	v.SetDefault("rate_lookahead_seconds", 60.0)
	v.SetDefault("max_target_divergence", 50.0)

	v.SetDefault("estimated_max_heating_rate", 500.0)
	v.SetDefault("estimated_natural_cooling_rate", 100.0)

	v.SetDefault("heat_rate_window_seconds", 300.0)
	v.SetDefault("rate_deviation_warning", 50.0)

	v.SetDefault("stall_detect_time", "30m")
	v.SetDefault("stall_min_temp_rise", 2.0)
	v.SetDefault("runaway_detect_time", "5m")
	v.SetDefault("runaway_min_temp_rise", 10.0)
}

// Load reads a .env file (if present, silently ignored otherwise), then
// builds a Configuration from a config file (configPath, optional) and
// KILN_*-prefixed environment variables, environment taking precedence.
func Load(configPath string) (*Configuration, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KILN")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &Configuration{
		HTTPAddr:         v.GetString("http_addr"),
		GPIOChip:         v.GetString("gpio_chip"),
		GPIOHeatLine:     v.GetInt("gpio_heat_line"),
		GPIOHeatInvert:   v.GetBool("gpio_heat_invert"),
		ProfileDir:       v.GetString("profile_dir"),
		FiringLogDir:     v.GetString("firing_log_dir"),
		LastFiringPath:   v.GetString("last_firing_path"),
		RestartStateFile: v.GetString("restart_state_file"),
		TempScale:        v.GetString("temp_scale"),

		Kp:                v.GetFloat64("kp"),
		Ki:                v.GetFloat64("ki"),
		Kd:                v.GetFloat64("kd"),
		PIDWindow:         v.GetFloat64("pid_window"),
		ThrottleBelowTemp: v.GetFloat64("throttle_below_temp"),
		ThrottlePercent:   v.GetFloat64("throttle_percent"),

		EmergencyShutoffTemp: v.GetFloat64("emergency_shutoff_temp"),
		IgnoreTempTooHigh:    v.GetBool("ignore_temp_too_high"),
		IgnoreSensorErrors:   v.GetBool("ignore_sensor_errors"),

		IgnoreTCNotConnected:      v.GetBool("ignore_tc_not_connected"),
		IgnoreTCShortCircuit:      v.GetBool("ignore_tc_short_circuit"),
		IgnoreTCColdJunctionRange: v.GetBool("ignore_tc_cold_junction_range"),
		IgnoreTCThermocoupleRange: v.GetBool("ignore_tc_thermocouple_range"),
		IgnoreTCColdJunctionHigh:  v.GetBool("ignore_tc_cold_junction_high"),
		IgnoreTCColdJunctionLow:   v.GetBool("ignore_tc_cold_junction_low"),
		IgnoreTCTooHigh:           v.GetBool("ignore_tc_too_high"),
		IgnoreTCTooLow:            v.GetBool("ignore_tc_too_low"),
		IgnoreTCVoltage:           v.GetBool("ignore_tc_voltage"),
		IgnoreTCUnknown:           v.GetBool("ignore_tc_unknown"),

		SensorTimeWait: v.GetDuration("sensor_time_wait"),
		AverageSamples: v.GetInt("average_samples"),

		KwhRate:      v.GetFloat64("kwh_rate"),
		KwElements:   v.GetFloat64("kw_elements"),
		CurrencyType: v.GetString("currency_type"),

		SeekStart:       v.GetBool("seek_start"),
		KilnMustCatchUp: v.GetBool("kiln_must_catch_up"),

		AutomaticRestarts:      v.GetBool("automatic_restarts"),
		AutomaticRestartWindow: v.GetDuration("automatic_restart_window"),
		StateSaveInterval:      v.GetDuration("state_save_interval"),

		CoolingAmbientTemp: v.GetFloat64("cooling_ambient_temp"),
		CoolingTargetTemp:  v.GetFloat64("cooling_target_temp"),
		CoolingMinSamples:  v.GetInt("cooling_min_samples"),

		UseRateBasedControl:      v.GetBool("use_rate_based_control"),
		SegmentCompleteTolerance: v.GetFloat64("segment_complete_tolerance"),
		RateLookaheadSeconds:     v.GetFloat64("rate_lookahead_seconds"),
		MaxTargetDivergence:      v.GetFloat64("max_target_divergence"),

		EstimatedMaxHeatingRate:     v.GetFloat64("estimated_max_heating_rate"),
		EstimatedNaturalCoolingRate: v.GetFloat64("estimated_natural_cooling_rate"),

		HeatRateWindowSeconds: v.GetFloat64("heat_rate_window_seconds"),
		RateDeviationWarning:  v.GetFloat64("rate_deviation_warning"),

		StallDetectTime:    v.GetDuration("stall_detect_time"),
		StallMinTempRise:   v.GetFloat64("stall_min_temp_rise"),
		RunawayDetectTime:  v.GetDuration("runaway_detect_time"),
		RunawayMinTempRise: v.GetFloat64("runaway_min_temp_rise"),
	}
	return cfg, nil
}

// FaultPolicy is the ignore-list applied to thermocouple faults, one flag
// per FaultClass. None are ignored by default; a deployment with a
// known-flaky amplifier can widen this per-class via config/env.
func (c *Configuration) FaultPolicy() sensor.FaultPolicy {
	policy := sensor.FaultPolicy{}
	if c.IgnoreTCNotConnected {
		policy[sensor.FaultNotConnected] = true
	}
	if c.IgnoreTCShortCircuit {
		policy[sensor.FaultShortCircuit] = true
	}
	if c.IgnoreTCColdJunctionRange {
		policy[sensor.FaultColdJunctionRange] = true
	}
	if c.IgnoreTCThermocoupleRange {
		policy[sensor.FaultThermocoupleRange] = true
	}
	if c.IgnoreTCColdJunctionHigh {
		policy[sensor.FaultColdJunctionHigh] = true
	}
	if c.IgnoreTCColdJunctionLow {
		policy[sensor.FaultColdJunctionLow] = true
	}
	if c.IgnoreTCTooHigh {
		policy[sensor.FaultTcTooHigh] = true
	}
	if c.IgnoreTCTooLow {
		policy[sensor.FaultTcTooLow] = true
	}
	if c.IgnoreTCVoltage {
		policy[sensor.FaultVoltage] = true
	}
	if c.IgnoreTCUnknown {
		policy[sensor.FaultUnknown] = true
	}
	return policy
}

// EngineConfig projects the full configuration down to the engine's own
// option surface.
func (c *Configuration) EngineConfig() engine.Config {
	return engine.Config{
		TempScale: c.TempScale,
		PID: pid.Config{
			Kp:                c.Kp,
			Ki:                c.Ki,
			Kd:                c.Kd,
			Window:            c.PIDWindow,
			ThrottleBelowTemp: c.ThrottleBelowTemp,
			ThrottlePercent:   c.ThrottlePercent,
		},
		EmergencyShutoffTemp: c.EmergencyShutoffTemp,
		IgnoreTempTooHigh:    c.IgnoreTempTooHigh,
		IgnoreSensorErrors:   c.IgnoreSensorErrors,
		SensorTimeWait:       c.SensorTimeWait,
		AverageSamples:       c.AverageSamples,
		FaultPolicy:          c.FaultPolicy(),
		KwhRate:              c.KwhRate,
		KwElements:           c.KwElements,
		CurrencyType:         c.CurrencyType,
		SeekStart:            c.SeekStart,
		KilnMustCatchUp:      c.KilnMustCatchUp,
		AutomaticRestarts:    c.AutomaticRestarts,
		AutomaticRestartWindow: c.AutomaticRestartWindow,
		StateSaveInterval:    c.StateSaveInterval,
		CoolingAmbientTemp:   c.CoolingAmbientTemp,
		CoolingTargetTemp:    c.CoolingTargetTemp,
		CoolingMinSamples:    c.CoolingMinSamples,
		UseRateBasedControl:      c.UseRateBasedControl,
		SegmentCompleteTolerance: c.SegmentCompleteTolerance,
		RateLookaheadSeconds:     c.RateLookaheadSeconds,
		MaxTargetDivergence:      c.MaxTargetDivergence,
		EstimatedMaxHeatingRate:     c.EstimatedMaxHeatingRate,
		EstimatedNaturalCoolingRate: c.EstimatedNaturalCoolingRate,
		HeatRateWindowSeconds: c.HeatRateWindowSeconds,
		RateDeviationWarning:  c.RateDeviationWarning,
		StallDetectTime:    c.StallDetectTime,
		StallMinTempRise:   c.StallMinTempRise,
		RunawayDetectTime:  c.RunawayDetectTime,
		RunawayMinTempRise: c.RunawayMinTempRise,
	}
}
