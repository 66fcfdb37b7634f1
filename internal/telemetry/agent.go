// Package telemetry runs the read-publish-sleep cycle.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/wxnode/internal/broker"
	"github.com/nugget/wxnode/internal/reset"
	"github.com/nugget/wxnode/internal/sensor"
	"github.com/nugget/wxnode/internal/watchdog"
)

// statsEvery is how many cycles pass between debug stats lines.
const statsEvery = 100

// Publisher is the broker session as seen by the agent.
type Publisher interface {
	// Publish sends one message. It returns nil, a recoverable
	// *broker.PublishError, an escalation, or ctx.Err().
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Config holds the agent's settings.
type Config struct {
	Topic             string
	CalibrationOffset float64
	Interval          time.Duration
}

// Stats counts cycle outcomes since the agent started.
type Stats struct {
	Cycles         int
	Published      int
	SensorFailures int
	Dropped        int
}

// Agent samples the sensor and publishes each reading.
type Agent struct {
	sensor sensor.Sensor
	pub    Publisher
	wd     *watchdog.Discipline
	cfg    Config
	logger *slog.Logger

	stats Stats
}

// NewAgent creates an Agent.
func NewAgent(s sensor.Sensor, pub Publisher, wd *watchdog.Discipline, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		sensor: s,
		pub:    pub,
		wd:     wd,
		cfg:    cfg,
		logger: logger,
	}
}

// Stats returns a snapshot of the counters.
func (a *Agent) Stats() Stats {
	return a.stats
}

// Run repeats [Agent.Cycle] until ctx is cancelled or an escalation
// occurs. On cancellation the broker session is closed and Run returns
// nil. An escalation is returned untouched and nothing is closed: the
// device is about to reset.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("telemetry started",
		"sensor", a.sensor.Name(),
		"topic", a.cfg.Topic,
		"interval", a.cfg.Interval,
	)

	for {
		err := a.Cycle(ctx)
		if err == nil {
			continue
		}
		if reset.IsEscalation(err) {
			return err
		}
		if ctx.Err() != nil {
			if cerr := a.pub.Close(); cerr != nil {
				a.logger.Warn("broker close failed", "error", cerr)
			}
			a.logStats(slog.LevelInfo, "telemetry stopped")
			return nil
		}
		return err
	}
}

// Cycle runs one iteration: feed, read, publish, feed, sleep. A sensor
// failure skips the publish and a dropped publish is counted; neither
// is returned. The only errors are an escalation and ctx.Err().
func (a *Agent) Cycle(ctx context.Context) error {
	a.stats.Cycles++

	a.wd.Feed()
	if err := a.sample(ctx); err != nil {
		return err
	}
	a.wd.Feed()

	if a.stats.Cycles%statsEvery == 0 {
		a.logStats(slog.LevelDebug, "telemetry stats")
	}
	return a.wd.Sleep(ctx, a.cfg.Interval)
}

func (a *Agent) sample(ctx context.Context) error {
	reading, err := a.sensor.Measure()
	if err != nil {
		a.stats.SensorFailures++
		a.logger.Warn("sensor read failed, skipping publish", "error", err)
		return nil
	}
	reading = reading.Calibrated(a.cfg.CalibrationOffset)

	err = a.pub.Publish(ctx, a.cfg.Topic, FormatPayload(reading))

	var perr *broker.PublishError
	switch {
	case err == nil:
		a.stats.Published++
		a.logger.Info("published reading",
			"topic", a.cfg.Topic,
			"temperature", reading.Temperature,
			"humidity", reading.Humidity,
		)
		return nil
	case errors.As(err, &perr):
		a.stats.Dropped++
		a.logger.Warn("reading dropped", "topic", a.cfg.Topic, "error", err)
		return nil
	default:
		return err
	}
}

func (a *Agent) logStats(level slog.Level, msg string) {
	a.logger.Log(context.Background(), level, msg,
		"cycles", a.stats.Cycles,
		"published", a.stats.Published,
		"sensor_failures", a.stats.SensorFailures,
		"dropped", a.stats.Dropped,
	)
}

// FormatPayload renders a reading as the JSON object subscribers
// expect, with two decimal places and temperature first:
//
//	{"temperature": 21.50, "humidity": 47.30}
func FormatPayload(r sensor.Reading) []byte {
	return fmt.Appendf(nil, `{"temperature": %.2f, "humidity": %.2f}`, r.Temperature, r.Humidity)
}
