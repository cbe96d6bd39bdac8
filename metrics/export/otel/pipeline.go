package otel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// ScopeName is the instrumentation scope of the engine meter.
const ScopeName = "github.com/yyupcompany/kyyupgame-sub117"

// Point is one collected data point.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
}

// Pipeline owns an SDK MeterProvider with a single manual reader. Nothing
// is pushed; every Collect pulls a fresh engine snapshot.
type Pipeline struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
	exporter *Exporter
}

// NewPipeline binds engine to a private MeterProvider.
func NewPipeline(engine *schoolauth.Engine) (*Pipeline, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return newPipeline(engine)
}

func newPipeline(source snapshotter) (*Pipeline, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewExporterFromSource(provider.Meter(ScopeName), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &Pipeline{reader: reader, provider: provider, exporter: exp}, nil
}

// Collect gathers every engine instrument, sorted by name then value.
func (p *Pipeline) Collect(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// Handler serves the current collection as JSON.
func (p *Pipeline) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points, err := p.Collect(r.Context())
		if err != nil {
			http.Error(w, "metrics collection failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"scope": ScopeName, "metrics": points})
	})
}

// Shutdown unregisters the exporter and stops the provider.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.exporter.Close(), p.provider.Shutdown(ctx))
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for iter := set.Iter(); iter.Next(); {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
