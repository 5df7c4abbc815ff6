package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/api"
	"github.com/machinehealth/cci/pkg/history"
	"github.com/machinehealth/cci/pkg/ingest"
	"github.com/machinehealth/cci/pkg/logx"
	"github.com/machinehealth/cci/pkg/metrics"
	"github.com/machinehealth/cci/pkg/pipeline"
)

// Daemon wires the ingestion adapters, per-component scoring streams,
// history stores, and the consumer surface into one long-running process.
type Daemon struct {
	config   *Config
	logger   *logx.Logger
	pipeline *pipeline.Pipeline
	profile  *pkg.CalibrationProfile

	mu      sync.RWMutex
	streams map[string]*pipeline.Stream

	recent  *history.RecentBuffer
	archive *history.Archive
	metrics *metrics.Metrics
	mqtt    *ingest.MQTTAdapter
	kafka   *ingest.KafkaConsumer
	server  *api.Server
}

// New assembles a daemon around a loaded calibration profile.
func New(config *Config, profile *pkg.CalibrationProfile, logger *logx.Logger) (*Daemon, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	p := pipeline.New(pipeline.DefaultConfig(), logger.WithComponent("pipeline"))
	d := &Daemon{
		config:   config,
		logger:   logger,
		pipeline: p,
		profile:  profile,
		streams:  make(map[string]*pipeline.Stream),
		recent:   history.NewRecentBuffer(config.RecentCapacity, config.RecentRetention),
		metrics:  metrics.NewMetrics(),
		mqtt:     ingest.NewMQTTAdapter(config.MQTTConfig(), logger.WithComponent("mqtt")),
		kafka:    ingest.NewKafkaConsumer(config.KafkaConfig(), logger.WithComponent("kafka")),
	}

	archive, err := history.OpenArchive(config.ArchiveConfig(), logger.WithComponent("archive"))
	if err != nil {
		return nil, err
	}
	d.archive = archive

	d.server = api.NewServer(config.APIConfig(), logger.WithComponent("api"),
		d.recent, d.archive, d, d, d.metrics.Handler())
	return d, nil
}

// HandleReading consumes one sensor reading from any ingestion adapter.
func (d *Daemon) HandleReading(r pkg.SensorReading) {
	d.metrics.ReadingIngested(r.ComponentID)

	st, err := d.stream(r.ComponentID)
	if err != nil {
		d.logger.Error("Failed to create stream", "component_id", r.ComponentID, "error", err)
		return
	}

	start := time.Now()
	sr, err := st.Push(r)
	if err != nil {
		d.metrics.ReadingInvalid(r.ComponentID)
		d.logger.Debug("Reading rejected", "component_id", r.ComponentID, "error", err)
		return
	}
	if sr == nil {
		return
	}

	d.metrics.Scored(sr, time.Since(start))
	d.recent.Add(*sr)
	if err := d.archive.Insert(sr); err != nil {
		d.logger.Warn("Failed to archive score", "component_id", sr.ComponentID, "error", err)
	}
	if err := d.mqtt.PublishScore(sr); err != nil {
		d.logger.Warn("Failed to publish score", "component_id", sr.ComponentID, "error", err)
	}
	if sr.Zone >= pkg.ZoneOrange {
		d.logger.Warn("Component in elevated risk zone",
			"component_id", sr.ComponentID, "zone", sr.Zone.String(), "cci", sr.CCI)
	}
}

func (d *Daemon) stream(componentID string) (*pipeline.Stream, error) {
	d.mu.RLock()
	st := d.streams[componentID]
	d.mu.RUnlock()
	if st != nil {
		return st, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if st = d.streams[componentID]; st != nil {
		return st, nil
	}
	st, err := d.pipeline.NewStream(componentID, d.profile)
	if err != nil {
		return nil, err
	}
	d.streams[componentID] = st
	d.logger.Info("Tracking new component", "component_id", componentID)
	return st, nil
}

// Project satisfies the API server's projector: it fits the component's
// recent CCI history and returns the trend projection.
func (d *Daemon) Project(componentID string) (*pkg.TrendProjection, error) {
	d.mu.RLock()
	st := d.streams[componentID]
	d.mu.RUnlock()

	var hist []float64
	if st != nil {
		hist = st.History()
	} else {
		hist = d.recent.CCIHistory(componentID)
	}
	if len(hist) == 0 {
		return nil, fmt.Errorf("no score history for component %q", componentID)
	}
	return d.pipeline.Project(hist, d.profile)
}

// Diagnostics reports per-component ingestion counters.
func (d *Daemon) Diagnostics() map[string]pkg.Diagnostics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]pkg.Diagnostics, len(d.streams))
	for id, st := range d.streams {
		out[id] = st.Diagnostics()
	}
	return out
}

// Run starts the adapters and the API server and blocks until the context
// is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Daemon starting",
		"asset_class", d.config.AssetClass,
		"profile_id", d.profile.ID,
		"thresholds", d.profile.Thresholds)

	if err := d.mqtt.Connect(); err != nil {
		return err
	}
	if err := d.mqtt.SubscribeReadings(d.HandleReading); err != nil {
		return err
	}
	if err := d.server.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.kafka.Run(ctx, d.HandleReading)
	}()

	// Hourly housekeeping: retention on the in-RAM buffer and the archive.
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.shutdown(errCh)
		case err := <-errCh:
			if err != nil {
				d.logger.Error("Kafka consumer failed", "error", err)
				return err
			}
		case now := <-ticker.C:
			d.recent.Cleanup(now)
			if err := d.archive.Prune(now); err != nil {
				d.logger.Warn("Archive prune failed", "error", err)
			}
		}
	}
}

func (d *Daemon) shutdown(errCh <-chan error) error {
	d.logger.Info("Daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("API shutdown failed", "error", err)
	}
	if err := d.kafka.Close(); err != nil {
		d.logger.Warn("Kafka close failed", "error", err)
	}
	<-errCh
	d.mqtt.Disconnect()
	if err := d.archive.Close(); err != nil {
		d.logger.Warn("Archive close failed", "error", err)
	}
	d.logger.Info("Daemon stopped")
	return nil
}
