// Package metrics exposes frostwatch counters in the Prometheus text format.
// Values are read from the components at scrape time, so nothing has to be
// incremented on the hot path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frostwatch"

// Sources are the value readers behind each metric. Nil readers are not
// registered.
type Sources struct {
	FilesScanned func() int64
	Findings     func() int64
	QueueDepth   func() int

	// NotifyStats reports the kernel event pump's delivered and dropped
	// counts in passive and inotify mode.
	NotifyStats func() (delivered, dropped int64)

	RelayDelivered func() int64
	RelayFailures  func() int64

	StreamClients func() int
}

// NewRegistry returns a registry holding the Go runtime and process
// collectors plus one metric per non-nil source.
func NewRegistry(src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(subsystem, name, help string, f func() int64) {
		if f == nil {
			return
		}
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f()) }))
	}
	gauge := func(subsystem, name, help string, f func() int) {
		if f == nil {
			return
		}
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f()) }))
	}

	counter("scanner", "files_scanned_total", "Files read and scored.", src.FilesScanned)
	counter("scanner", "findings_total", "Files that matched at least one signature.", src.Findings)
	gauge("queue", "depth", "Findings not yet relayed to central storage.", src.QueueDepth)
	counter("relay", "delivered_total", "Findings stored centrally and acknowledged.", src.RelayDelivered)
	counter("relay", "failures_total", "Failed central store calls.", src.RelayFailures)
	gauge("stream", "clients", "Connected live finding stream clients.", src.StreamClients)

	if src.NotifyStats != nil {
		counter("notify", "events_delivered_total", "Kernel events handed to the watcher.",
			func() int64 { d, _ := src.NotifyStats(); return d })
		counter("notify", "events_dropped_total", "Kernel events dropped because the watcher fell behind.",
			func() int64 { _, d := src.NotifyStats(); return d })
	}
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
