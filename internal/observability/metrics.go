package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficeditor.app/internal/sim"
)

// SimCollector bundles Prometheus metrics for the simulation loop. It
// satisfies controller.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks        prometheus.Counter
	StepDuration prometheus.Histogram
	ActiveModels prometheus.Gauge
	Events       *prometheus.CounterVec
	Resets       prometheus.Counter
	Viewers      prometheus.Gauge
}

// NewSimCollector registers simulation metrics against reg, defaulting to
// the global registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Total number of simulation ticks stepped.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}
	step, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall time spent stepping one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	models, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_models",
		Help: "Number of active models after the last tick.",
	}), "sim_active_models")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_total",
		Help: "Behavior events emitted, labeled by kind.",
	}, []string{"kind"}), "sim_events_total")
	if err != nil {
		return nil, err
	}
	resets, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_resets_total",
		Help: "Total number of simulation resets.",
	}), "sim_resets_total")
	if err != nil {
		return nil, err
	}
	viewers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_viewers",
		Help: "Connected viewer sessions.",
	}), "sim_viewers")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:     gatherer,
		Ticks:        ticks,
		StepDuration: step,
		ActiveModels: models,
		Events:       events,
		Resets:       resets,
		Viewers:      viewers,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *SimCollector) ObserveStep(d time.Duration, models int, events []sim.Event) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.StepDuration.Observe(d.Seconds())
	c.ActiveModels.Set(float64(models))
	for _, ev := range events {
		c.Events.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func (c *SimCollector) ObserveReset() {
	if c == nil {
		return
	}
	c.Resets.Inc()
}

func (c *SimCollector) SetViewers(n int) {
	if c == nil {
		return
	}
	c.Viewers.Set(float64(n))
}

// GaugeFunc is a metric read on scrape, e.g. a queue depth owned by
// another component.
type GaugeFunc struct {
	Name string
	Help string
	Fn   func() float64
}

// RegisterGaugeFuncs registers fns against reg. A name that is already
// registered keeps its first function.
func RegisterGaugeFuncs(reg prometheus.Registerer, fns ...GaugeFunc) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, f := range fns {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: f.Name, Help: f.Help}, f.Fn)
		if err := reg.Register(g); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return fmt.Errorf("register %s: %w", f.Name, err)
		}
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
