package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vhorizon/authstate"
	"github.com/vhorizon/authstate/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on each collection. *authstate.Resolver
// satisfies it.
type Source interface {
	MetricsSnapshot() authstate.MetricsSnapshot
	Snapshot() authstate.Snapshot
	AuditDropped() uint64
}

// labelled is one attribute value of a counter split by a single key.
type labelled struct {
	attrs metric.MeasurementOption
	value func(c map[authstate.MetricID]uint64) uint64
}

type splitCounter struct {
	instrument metric.Int64ObservableCounter
	parts      []labelled
}

type plainCounter struct {
	id         authstate.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter publishes a resolver's counters, init latency and live session
// state through observable instruments.
type Exporter struct {
	source       Source
	registration metric.Registration

	split   []splitCounter
	plain   []plainCounter
	latency metric.Int64ObservableGauge
	samples metric.Int64ObservableGauge
	bounds  []metric.MeasurementOption

	authenticated metric.Int64ObservableGauge
	admin         metric.Int64ObservableGauge
	loading       metric.Int64ObservableGauge
	version       metric.Int64ObservableGauge
	auditDropped  metric.Int64ObservableCounter
}

// NewForResolver registers instruments on meter that read r on every collection.
func NewForResolver(meter metric.Meter, r *authstate.Resolver) (*Exporter, error) {
	if r == nil {
		return nil, ErrNilSource
	}
	return New(meter, r)
}

// New registers the exporter's instruments and its collection callback.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	e := &Exporter{source: source}
	var observables []metric.Observable

	for _, def := range splitDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help), metric.WithUnit("{call}"))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.name, err)
		}
		sc := splitCounter{instrument: ins}
		for _, p := range def.parts {
			sc.parts = append(sc.parts, labelled{
				attrs: metric.WithAttributeSet(attribute.NewSet(attribute.String(def.key, p.label))),
				value: p.value,
			})
		}
		e.split = append(e.split, sc)
		observables = append(observables, ins)
	}

	for _, def := range plainDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help), metric.WithUnit("{call}"))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.name, err)
		}
		e.plain = append(e.plain, plainCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	var err error
	gauge := func(name, help string) metric.Int64ObservableGauge {
		if err != nil {
			return nil
		}
		var g metric.Int64ObservableGauge
		g, err = meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			err = fmt.Errorf("create gauge %s: %w", name, err)
			return nil
		}
		observables = append(observables, g)
		return g
	}
	e.latency = gauge("authstate.init.latency.bucket", "Initializations finished within the le bound, cumulative.")
	e.samples = gauge("authstate.init.latency.count", "Initializations timed.")
	e.authenticated = gauge("authstate.session.authenticated", "1 while a user is signed in.")
	e.admin = gauge("authstate.session.admin", "1 while the signed-in user holds the admin role.")
	e.loading = gauge("authstate.session.loading", "1 until initialization has committed.")
	e.version = gauge("authstate.session.version", "Snapshot version, advanced on every commit.")
	if err != nil {
		return nil, err
	}

	e.auditDropped, err = meter.Int64ObservableCounter("authstate.audit.dropped",
		metric.WithDescription(internaldefs.AuditDroppedHelp), metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	for _, b := range internaldefs.HistogramBoundSeconds {
		e.bounds = append(e.bounds, leAttr(strconv.FormatFloat(b, 'f', -1, 64)))
	}
	e.bounds = append(e.bounds, leAttr("+Inf"))

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func leAttr(v string) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(attribute.String("le", v)))
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	m := e.source.MetricsSnapshot()

	for _, sc := range e.split {
		for _, p := range sc.parts {
			o.ObserveInt64(sc.instrument, int64(p.value(m.Counters)), p.attrs)
		}
	}
	for _, pc := range e.plain {
		o.ObserveInt64(pc.instrument, int64(m.Counters[pc.id]))
	}

	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(m.Histograms[authstate.MetricInitLatency]))
	for i, attrs := range e.bounds {
		o.ObserveInt64(e.latency, int64(cumulative[i]), attrs)
	}
	o.ObserveInt64(e.samples, int64(cumulative[len(cumulative)-1]))

	s := e.source.Snapshot()
	o.ObserveInt64(e.authenticated, flag(s.User != nil))
	o.ObserveInt64(e.admin, flag(s.IsAdmin))
	o.ObserveInt64(e.loading, flag(s.Loading))
	o.ObserveInt64(e.version, int64(s.Version))
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
