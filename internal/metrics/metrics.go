package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine's Prometheus instruments on a private
// registry. It satisfies both assign.Metrics and publisher.PublisherMetrics.
type Collector struct {
	reg *prometheus.Registry

	PositionsReceived prometheus.Counter
	PositionsDropped  prometheus.Counter

	AssignmentsCommitted prometheus.Counter
	AssignmentsRemoved   *prometheus.CounterVec // reason label: stale|inaccurate|backtracked|end_of_block
	StopEvents           *prometheus.CounterVec // type label: arrival|departure

	VehiclesTracked    prometheus.Gauge
	VehiclesAssigned   prometheus.Gauge
	AssignmentAccuracy prometheus.Gauge

	EvalDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PositionsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assigner_positions_received_total",
			Help: "Total raw vehicle positions received.",
		}),
		PositionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assigner_positions_dropped_total",
			Help: "Total positions dropped (missing coordinates or duplicate timestamp).",
		}),
		AssignmentsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assigner_assignments_committed_total",
			Help: "Total trip assignments committed.",
		}),
		AssignmentsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_assignments_removed_total",
			Help: "Total trip assignments removed.",
		}, []string{"reason"}),
		StopEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assigner_stop_events_total",
			Help: "Total stop passage events emitted.",
		}, []string{"type"}),
		VehiclesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_vehicles_tracked",
			Help: "Number of vehicles with buffered positions.",
		}),
		VehiclesAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_vehicles_assigned",
			Help: "Number of vehicles with a live trip assignment.",
		}),
		AssignmentAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_assignment_accuracy",
			Help: "Fraction of assigned vehicles whose block is still a scoring candidate.",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assigner_evaluation_duration_seconds",
			Help:    "Duration of periodic scoring and assignment passes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assigner_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assigner_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assigner_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assigner_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.PositionsReceived, c.PositionsDropped,
		c.AssignmentsCommitted, c.AssignmentsRemoved, c.StopEvents,
		c.VehiclesTracked, c.VehiclesAssigned, c.AssignmentAccuracy,
		c.EvalDuration, c.PublishDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
	)

	return c
}

// assign.Metrics

func (c *Collector) PositionReceived()    { c.PositionsReceived.Inc() }
func (c *Collector) PositionDropped()     { c.PositionsDropped.Inc() }
func (c *Collector) AssignmentCommitted() { c.AssignmentsCommitted.Inc() }

func (c *Collector) AssignmentRemoved(reason string) {
	c.AssignmentsRemoved.WithLabelValues(reason).Inc()
}

func (c *Collector) StopEventEmitted(eventType string) {
	c.StopEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) EvaluationObserve(seconds float64) { c.EvalDuration.Observe(seconds) }

func (c *Collector) SetVehicles(tracked, assigned int) {
	c.VehiclesTracked.Set(float64(tracked))
	c.VehiclesAssigned.Set(float64(assigned))
}

func (c *Collector) SetAccuracy(fraction float64) { c.AssignmentAccuracy.Set(fraction) }

// publisher.PublisherMetrics

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
