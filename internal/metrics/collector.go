package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tenantdb"

// Collector is a prometheus.Collector for tenant provisioning, routing and
// aggregation. A nil *Collector is valid and records nothing.
type Collector struct {
	provisionTotal    *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec
	aggregateTenant   *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
	routingFailures   *prometheus.CounterVec
	reconcilePasses   *prometheus.CounterVec
	registeredTenants *prometheus.GaugeVec
}

func NewCollector() *Collector {
	return &Collector{
		provisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_total",
				Help:      "Tenant provisioning attempts by outcome and failing stage.",
			}, []string{"outcome", "stage"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Time spent provisioning a tenant database.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			}, []string{"outcome"},
		),
		aggregateTenant: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_tenant_total",
				Help:      "Per-tenant results of cross-tenant aggregations.",
			}, []string{"outcome"},
		),
		aggregateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_duration_seconds",
				Help:      "Wall time of cross-tenant aggregations.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		routingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_resolution_failures_total",
				Help:      "Requests rejected while resolving the active tenant.",
			}, []string{"reason"},
		),
		reconcilePasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_tenants_total",
				Help:      "Tenants retried by the provisioning reconciler.",
			}, []string{"outcome"},
		),
		registeredTenants: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_tenants",
				Help:      "Registry entries by state.",
			}, []string{"state"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.provisionTotal.Describe(ch)
	c.provisionDuration.Describe(ch)
	c.aggregateTenant.Describe(ch)
	c.aggregateDuration.Describe(ch)
	c.routingFailures.Describe(ch)
	c.reconcilePasses.Describe(ch)
	c.registeredTenants.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.provisionTotal.Collect(ch)
	c.provisionDuration.Collect(ch)
	c.aggregateTenant.Collect(ch)
	c.aggregateDuration.Collect(ch)
	c.routingFailures.Collect(ch)
	c.reconcilePasses.Collect(ch)
	c.registeredTenants.Collect(ch)
}

func (c *Collector) ProvisionSucceeded(d time.Duration) {
	if c == nil {
		return
	}
	c.provisionTotal.WithLabelValues("success", "").Inc()
	c.provisionDuration.WithLabelValues("success").Observe(d.Seconds())
}

func (c *Collector) ProvisionFailed(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.provisionTotal.WithLabelValues("failure", stage).Inc()
	c.provisionDuration.WithLabelValues("failure").Observe(d.Seconds())
}

func (c *Collector) AggregateTenant(ok bool) {
	if c == nil {
		return
	}
	c.aggregateTenant.WithLabelValues(outcome(ok)).Inc()
}

func (c *Collector) AggregateDone(d time.Duration) {
	if c == nil {
		return
	}
	c.aggregateDuration.Observe(d.Seconds())
}

func (c *Collector) ResolutionFailed(reason string) {
	if c == nil {
		return
	}
	c.routingFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) Reconciled(ok bool) {
	if c == nil {
		return
	}
	c.reconcilePasses.WithLabelValues(outcome(ok)).Inc()
}

// SetRegistered replaces the registry gauge with the given per-state counts.
func (c *Collector) SetRegistered(counts map[string]int) {
	if c == nil {
		return
	}
	c.registeredTenants.Reset()
	for state, n := range counts {
		c.registeredTenants.WithLabelValues(state).Set(float64(n))
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
