package otel

import (
	"context"
	"sort"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is one collected int64 data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
}

// Collect runs one collection on reader and flattens the int64 sums and gauges
// into points ordered by name.
func Collect(ctx context.Context, reader sdkmetric.Reader) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, point(m.Name, dp))
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, point(m.Name, dp))
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func point(name string, dp metricdata.DataPoint[int64]) Point {
	p := Point{Name: name, Value: dp.Value}
	if dp.Attributes.Len() > 0 {
		p.Attributes = make(map[string]string, dp.Attributes.Len())
		iter := dp.Attributes.Iter()
		for iter.Next() {
			kv := iter.Attribute()
			p.Attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return p
}
