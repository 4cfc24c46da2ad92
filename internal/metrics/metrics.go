// Package metrics exposes the latest collection pass to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portscope/internal/adapter"
	"portscope/internal/domain"
)

const namespace = "portscope"

// Source is what the exporter reads on every scrape
type Source interface {
	Last() *domain.CollectionResult
	Detection() *adapter.Detection
}

// Exporter is a prometheus.Collector over the orchestrator's latest pass
type Exporter struct {
	src Source

	portsDesc    *prometheus.Desc
	appsDesc     *prometheus.Desc
	vmsDesc      *prometheus.Desc
	facetDesc    *prometheus.Desc
	degradedDesc *prometheus.Desc
	scoreDesc    *prometheus.Desc
	lastDesc     *prometheus.Desc

	duration *prometheus.HistogramVec
	passes   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates an exporter and registers it on a private registry
func New(src Source) *Exporter {
	e := &Exporter{
		src: src,
		portsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "ports"),
			"Listening ports in the latest pass",
			[]string{"source", "protocol"}, nil,
		),
		appsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "applications"),
			"Applications in the latest pass",
			[]string{"status"}, nil,
		),
		vmsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vms"),
			"Virtual machines in the latest pass",
			[]string{"status"}, nil,
		),
		facetDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "facet", "error"),
			"1 when the facet failed in the latest pass",
			[]string{"facet"}, nil,
		),
		degradedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "feature", "degraded"),
			"Optional features degraded in the latest pass",
			[]string{"feature"}, nil,
		),
		scoreDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "adapter", "score"),
			"Compatibility score of each adapter in the last detection",
			[]string{"platform", "kind", "selected"}, nil,
		),
		lastDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "last_collection", "timestamp_seconds"),
			"Unix time of the latest pass",
			[]string{"platform"}, nil,
		),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Time taken by a collection pass",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 90},
		}, []string{"platform"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Collection passes by outcome",
		}, []string{"platform", "outcome"}),
		registry: prometheus.NewRegistry(),
	}
	e.registry.MustRegister(e, e.duration, e.passes)
	return e
}

// Observe records one finished pass. It has the collector.Observer shape.
func (e *Exporter) Observe(res *domain.CollectionResult, took time.Duration) {
	platform := res.Platform
	if platform == "" {
		platform = "none"
	}
	e.duration.WithLabelValues(platform).Observe(took.Seconds())

	outcome := "ok"
	if res.Errors.Any() {
		outcome = "partial"
	}
	e.passes.WithLabelValues(platform, outcome).Inc()
}

// Handler serves the exporter's registry
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry, for tests and embedding
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.portsDesc
	ch <- e.appsDesc
	ch <- e.vmsDesc
	ch <- e.facetDesc
	ch <- e.degradedDesc
	ch <- e.scoreDesc
	ch <- e.lastDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if det := e.src.Detection(); det != nil {
		for _, c := range det.Candidates {
			ch <- prometheus.MustNewConstMetric(e.scoreDesc, prometheus.GaugeValue,
				float64(c.Score.Score), c.Platform, string(c.Kind), strconv.FormatBool(c.Platform == det.Selected))
		}
	}

	res := e.src.Last()
	if res == nil {
		return
	}

	ports := make(map[[2]string]int)
	for _, p := range res.Ports {
		ports[[2]string{string(p.Source), string(p.Protocol)}]++
	}
	for k, n := range ports {
		ch <- prometheus.MustNewConstMetric(e.portsDesc, prometheus.GaugeValue, float64(n), k[0], k[1])
	}

	apps := make(map[string]int)
	for _, a := range res.Applications {
		apps[a.Status]++
	}
	for status, n := range apps {
		ch <- prometheus.MustNewConstMetric(e.appsDesc, prometheus.GaugeValue, float64(n), status)
	}

	vms := make(map[string]int)
	for _, v := range res.VMs {
		vms[v.Status]++
	}
	for status, n := range vms {
		ch <- prometheus.MustNewConstMetric(e.vmsDesc, prometheus.GaugeValue, float64(n), status)
	}

	for _, f := range domain.Facets {
		failed := 0.0
		if res.Errors.Get(f) != "" {
			failed = 1
		}
		ch <- prometheus.MustNewConstMetric(e.facetDesc, prometheus.GaugeValue, failed, string(f))
	}

	for feature := range res.Degraded {
		ch <- prometheus.MustNewConstMetric(e.degradedDesc, prometheus.GaugeValue, 1, feature)
	}

	ch <- prometheus.MustNewConstMetric(e.lastDesc, prometheus.GaugeValue,
		float64(res.Timestamp.Unix()), res.Platform)
}
