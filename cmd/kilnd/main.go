// kilnd is the kiln controller daemon: it owns the thermocouple sensor,
// the relay, the firing engine, and the HTTP/websocket front end.
//
// Environment Variables (KILN_* prefixed, see internal/config):
// KILN_HTTP_ADDR - address to serve HTTP/websocket traffic on
// KILN_GPIO_CHIP, KILN_GPIO_HEAT_LINE, KILN_GPIO_HEAT_INVERT - relay wiring
// KILN_PROFILE_DIR, KILN_FIRING_LOG_DIR, KILN_RESTART_STATE_FILE - storage
// KILN_KP, KILN_KI, KILN_KD - PID tuning
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kilnforge/kiln-controller/internal/broadcast"
	"github.com/kilnforge/kiln-controller/internal/config"
	"github.com/kilnforge/kiln-controller/internal/httpserver"
	"github.com/kilnforge/kiln-controller/pkg/engine"
	"github.com/kilnforge/kiln-controller/pkg/persistence"
	"github.com/kilnforge/kiln-controller/pkg/profile"
	"github.com/kilnforge/kiln-controller/pkg/relay"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

func main() {
	var configPath string
	var simulate bool
	flag.StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file (optional)")
	flag.BoolVar(&simulate, "simulate", runtime.GOOS != "linux", "use the simulated thermal model and relay instead of real GPIO")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var reader sensor.RawReader
	var relayDev relay.Driver
	if simulate {
		simReader := sensor.NewSimulatedReader(cfg.CoolingAmbientTemp, cfg.CoolingAmbientTemp, 600, 4)
		reader = simReader
		relayDev = sensor.NewSimulatedDriver(simReader)
		log.Info().Msg("using simulated thermal model and relay")
	} else {
		gpio, err := relay.NewGPIODriver(cfg.GPIOChip, cfg.GPIOHeatLine, cfg.GPIOHeatInvert)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open GPIO relay line")
		}
		defer gpio.Close()
		relayDev = gpio
		reader = sensor.NewDevFileReader(os.Getenv("KILN_TEMP_DEV_FILE"))
	}

	sensorDev := sensor.New(reader, cfg.FaultPolicy(), cfg.SensorTimeWait, cfg.AverageSamples, log)

	store := persistence.NewStore(cfg.RestartStateFile)

	loadProfile := func(name string) (*profile.Profile, error) {
		data, err := os.ReadFile(cfg.ProfileDir + "/" + name + ".json")
		if err != nil {
			return nil, err
		}
		return profile.Load(data, cfg.TempScale)
	}

	eng := engine.New(cfg.EngineConfig(), sensorDev, relayDev, store, loadProfile, cfg.FiringLogDir, cfg.LastFiringPath, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sensorDev.Run(ctx)
	go eng.Run(ctx)

	hub := broadcast.NewHub(log)
	hubStop := make(chan struct{})
	go hub.Run(eng.Broadcast(), hubStop)

	srv := httpserver.New(eng, hub, cfg.ProfileDir, cfg.TempScale, log)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: srv}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	close(hubStop)
	cancel()
	_ = server.Close()
}
