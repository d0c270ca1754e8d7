package metrics

import (
	"context"

	json "github.com/goccy/go-json"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meterName scopes the instruments registered by Instrument.
const meterName = "tcpsock"

// Exporter reads back the OpenTelemetry instruments of a Collector
// through an in-process SDK meter provider.
type Exporter struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// Instrument mirrors c into a fresh SDK meter provider and returns the
// exporter that collects it.  Callers running their own provider should
// use WithMeter instead.
func Instrument(c *Collector) (*Exporter, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	if _, err := c.WithMeter(provider.Meter(meterName)); err != nil {
		provider.Shutdown(context.Background()) //nolint:errcheck
		return nil, err
	}
	return &Exporter{reader: reader, provider: provider}, nil
}

// Totals collects every instrument and sums its int64 data points
// across attribute sets, keyed by instrument name.
func (e *Exporter) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	return totals(rm), nil
}

// JSON renders Totals as an indented JSON object.
func (e *Exporter) JSON(ctx context.Context) (string, error) {
	t, err := e.Totals(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Shutdown stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func totals(rm metricdata.ResourceMetrics) map[string]int64 {
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[m.Name] = total
		}
	}
	return out
}
