package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while a protocol runs.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with every pipette action.
type Collector interface {
	IncHotReload(file string)
	IncTipPickup(instrument string)
	AddAspirated(reagent string, microliters float64)
	IncDispense(reagent string)
	IncFault(kind string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)          {}
func (noopCollector) IncTipPickup(string)          {}
func (noopCollector) AddAspirated(string, float64) {}
func (noopCollector) IncDispense(string)           {}
func (noopCollector) IncFault(string)              {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads *prometheus.CounterVec
	tipPickups *prometheus.CounterVec
	aspirated  *prometheus.CounterVec
	dispenses  *prometheus.CounterVec
	faults     *prometheus.CounterVec
}

var (
	countersLock sync.Mutex
	counters     = make(map[string]*prometheus.CounterVec)
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
// Metrics already registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	countersLock.Lock()
	defer countersLock.Unlock()

	hotReloads, err := counterVec(reg, "artbot_config_hot_reload_total",
		"Number of hot reload operations triggered per configuration source file.", "file")
	if err != nil {
		return nil, err
	}
	tipPickups, err := counterVec(reg, "artbot_tip_pickups_total",
		"Number of tips picked up per instrument.", "instrument")
	if err != nil {
		return nil, err
	}
	aspirated, err := counterVec(reg, "artbot_aspirated_microliters_total",
		"Volume aspirated per reagent in microlitres.", "reagent")
	if err != nil {
		return nil, err
	}
	dispenses, err := counterVec(reg, "artbot_dispenses_total",
		"Number of pixel doses dispensed per reagent.", "reagent")
	if err != nil {
		return nil, err
	}
	faults, err := counterVec(reg, "artbot_faults_total",
		"Number of aborted distributions per fault kind.", "kind")
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		hotReloads: hotReloads,
		tipPickups: tipPickups,
		aspirated:  aspirated,
		dispenses:  dispenses,
		faults:     faults,
	}, nil
}

func counterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	if existing, ok := counters[name]; ok {
		return existing, nil
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	counters[name] = counter
	return counter, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncTipPickup counts a tip pickup.
func (p *PrometheusCollector) IncTipPickup(instrument string) {
	if p == nil || p.tipPickups == nil {
		return
	}
	p.tipPickups.WithLabelValues(instrument).Inc()
}

// AddAspirated adds an aspirated volume.
func (p *PrometheusCollector) AddAspirated(reagent string, microliters float64) {
	if p == nil || p.aspirated == nil || microliters <= 0 {
		return
	}
	p.aspirated.WithLabelValues(reagent).Add(microliters)
}

// IncDispense counts one dispensed dose.
func (p *PrometheusCollector) IncDispense(reagent string) {
	if p == nil || p.dispenses == nil {
		return
	}
	p.dispenses.WithLabelValues(reagent).Inc()
}

// IncFault counts an aborted distribution.
func (p *PrometheusCollector) IncFault(kind string) {
	if p == nil || p.faults == nil {
		return
	}
	p.faults.WithLabelValues(kind).Inc()
}
