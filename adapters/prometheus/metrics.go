// Package mcprometheus implements mobileconnect.MetricsCollector with
// Prometheus counters.
package mcprometheus

import (
	"errors"
	"strconv"

	"github.com/keksclan/goMobileConnect/mobileconnect"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts flow outcomes. Labels carry only result names and error
// codes.
//
// Concurrency: safe for concurrent use.
type Collector struct {
	validations *prometheus.CounterVec
	discoveries *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

var _ mobileconnect.MetricsCollector = (*Collector)(nil)

// New registers the counters with reg, or prometheus.DefaultRegisterer when
// reg is nil. Counters that are already registered are reused, so New may
// be called more than once against the same registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mobileconnect",
		Name:      "id_token_validations_total",
		Help:      "ID token validations by result.",
	}, []string{"result"})
	discoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mobileconnect",
		Name:      "discovery_results_total",
		Help:      "Discovery calls by resulting status kind and cache use.",
	}, []string{"kind", "cached"})
	flowErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mobileconnect",
		Name:      "flow_errors_total",
		Help:      "Flow steps that ended in an error status, by code.",
	}, []string{"code"})

	c := &Collector{}
	var err error
	if c.validations, err = register(reg, validations); err != nil {
		return nil, err
	}
	if c.discoveries, err = register(reg, discoveries); err != nil {
		return nil, err
	}
	if c.errors, err = register(reg, flowErrors); err != nil {
		return nil, err
	}
	return c, nil
}

func register(reg prometheus.Registerer, cv *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return cv, nil
}

func (c *Collector) ValidationOK() {
	c.validations.WithLabelValues("valid").Inc()
}

func (c *Collector) ValidationFailed(reason string) {
	c.validations.WithLabelValues(reason).Inc()
}

func (c *Collector) DiscoveryResult(kind mobileconnect.Kind, cached bool) {
	c.discoveries.WithLabelValues(string(kind), strconv.FormatBool(cached)).Inc()
}

func (c *Collector) FlowError(code string) {
	c.errors.WithLabelValues(code).Inc()
}
