// pkg/sensors/runner.go
package sensors

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/aegis/pkg/config"
	"github.com/lucid-vigil/aegis/pkg/events"
	"github.com/lucid-vigil/aegis/pkg/logger"
)

// Sensor defines the interface for anything that can observe the
// environment and produce security events.
type Sensor interface {
	Name() string
	Sample(ctx context.Context) ([]events.Event, error)
}

// Submitter receives the events a sensor produces. Satisfied by the agent.
type Submitter interface {
	Submit(event events.Event) error
}

// Runner manages the registration and execution of sensors. Each enabled
// sensor samples on its own ticker and feeds the agent's intake.
type Runner struct {
	sensors   []Sensor
	config    *config.Config
	submitter Submitter
	logger    zerolog.Logger
}

// NewRunner creates and returns a new Runner instance.
func NewRunner(cfg *config.Config, submitter Submitter) *Runner {
	return &Runner{
		config:    cfg,
		submitter: submitter,
		logger:    logger.Component("sensor_runner"),
	}
}

// Register adds a sensor to the runner's list.
func (r *Runner) Register(s Sensor) {
	r.sensors = append(r.sensors, s)
	r.logger.Info().Msgf("Sensor '%s' registered.", s.Name())
}

// Start launches all enabled sensors with their configured intervals.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info().Msg("Sensor runner starting...")

	for _, s := range r.sensors {
		sensorConfig := r.getSensorConfig(s.Name())
		if sensorConfig == nil || !sensorConfig.Enabled {
			r.logger.Info().Msgf("Sensor '%s' is disabled or not configured, skipping.", s.Name())
			continue
		}

		duration, err := time.ParseDuration(sensorConfig.Interval)
		if err != nil {
			r.logger.Error().Err(err).Msgf("Invalid interval for sensor '%s', skipping.", s.Name())
			continue
		}

		r.logger.Info().Msgf("Starting sensor '%s' with interval %s", s.Name(), duration)
		go r.runSensor(ctx, s, duration)
	}

	r.logger.Info().Msg("All configured sensors started.")
}

func (r *Runner) runSensor(ctx context.Context, s Sensor, interval time.Duration) {
	// Sample immediately on start
	r.sampleOnce(ctx, s)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sampleOnce(ctx, s)
		case <-ctx.Done():
			r.logger.Info().Msgf("Sensor '%s' received shutdown signal.", s.Name())
			return
		}
	}
}

func (r *Runner) sampleOnce(ctx context.Context, s Sensor) {
	sampled, err := s.Sample(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msgf("Sensor '%s' sample failed.", s.Name())
		return
	}
	for _, event := range sampled {
		if err := r.submitter.Submit(event); err != nil {
			r.logger.Warn().Err(err).Msgf("Sensor '%s' event dropped.", s.Name())
		}
	}
}

func (r *Runner) getSensorConfig(name string) *config.SensorConfig {
	for i := range r.config.Sensors {
		if r.config.Sensors[i].Name == name {
			return &r.config.Sensors[i]
		}
	}
	return nil
}
