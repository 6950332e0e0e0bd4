package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prudhvinik1/moonbattery/internal/config"
	"go.uber.org/zap"
)

const (
	measurementDeviceEvents = "device_events"
	influxPingTimeout       = 5 * time.Second
)

var ErrInfluxConnect = errors.New("influxdb connection failed")

// InfluxRecorder writes one point per event. Writes are batched and
// non-blocking; failures are reported through the logger.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func ConnectInflux(ctx context.Context, cfg config.InfluxConfig, logger *zap.Logger) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrInfluxConnect, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxConnect)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", zap.Error(err))
		}
	}()

	logger.Info("influxdb connected", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))

	return &InfluxRecorder{client: client, writeAPI: writeAPI}, nil
}

func (r *InfluxRecorder) Publish(_ context.Context, event Event) error {
	r.writeAPI.WritePoint(eventPoint(event))
	return nil
}

// Close flushes pending points.
func (r *InfluxRecorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}

func eventPoint(event Event) *write.Point {
	fields := map[string]interface{}{
		"count": 1,
	}
	if event.Type == TypeConfigurationsUpdated {
		fields["keys"] = len(event.Keys)
	}

	return write.NewPoint(
		measurementDeviceEvents,
		map[string]string{
			"serial_number": event.SerialNumber,
			"type":          string(event.Type),
		},
		fields,
		event.OccurredAt,
	)
}
