package fit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bestfit"
	trackerSubsystem = "tracker"
)

// Instruments exposes tracker state as Prometheus metrics. Every series
// carries a constant "metric" label naming the monitored metric.
type Instruments struct {
	EpochsTotal            prometheus.Counter
	SavesTotal             prometheus.Counter
	SnifftestFailuresTotal prometheus.Counter
	MissingMetricTotal     prometheus.Counter
	Current                prometheus.Gauge
	RunBest                prometheus.Gauge
	BestSoFar              prometheus.Gauge
	RunBestEpoch           prometheus.Gauge
}

// NewInstruments creates the tracker metrics and registers them with reg.
// A nil reg yields working but unregistered metrics.
func NewInstruments(reg prometheus.Registerer, metric string) *Instruments {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"metric": metric}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: trackerSubsystem,
			Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: trackerSubsystem,
			Name: name, Help: help, ConstLabels: labels,
		})
	}
	return &Instruments{
		EpochsTotal:            counter("epochs_total", "Completed epochs observed by the tracker."),
		SavesTotal:             counter("saves_total", "Model snapshots persisted on a new best-so-far."),
		SnifftestFailuresTotal: counter("snifftest_failures_total", "Epochs at which the sniff test failed."),
		MissingMetricTotal:     counter("missing_metric_total", "Epochs whose logs lacked the monitored metric."),
		Current:                gauge("current", "Monitored metric value of the latest epoch."),
		RunBest:                gauge("run_best", "Best monitored metric value of this run."),
		BestSoFar:              gauge("best_so_far", "Best monitored metric value across this and prior runs."),
		RunBestEpoch:           gauge("run_best_epoch", "Epoch at which the run-best occurred."),
	}
}

func (in *Instruments) observe(s TrackerState) {
	in.EpochsTotal.Inc()
	if s.Current != nil {
		in.Current.Set(*s.Current)
	} else {
		in.MissingMetricTotal.Inc()
	}
	in.RunBest.Set(s.RunBest)
	in.BestSoFar.Set(s.BestSoFar)
	in.RunBestEpoch.Set(float64(s.RunBestEpoch))
	if s.SavedThisEpoch {
		in.SavesTotal.Inc()
	}
	if s.SnifftestFailed {
		in.SnifftestFailuresTotal.Inc()
	}
}
