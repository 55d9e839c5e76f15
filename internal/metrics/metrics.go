package metrics

import (
	"fmt"
	"strconv"

	"github.com/castmedia/castmedia_server/internal/avatar"
	"github.com/castmedia/castmedia_server/internal/probe"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const defaultNamespace = "castmedia"

// Observer exports resolution, probe, proxy and upload counters.
type Observer struct {
	resolutions     *prometheus.CounterVec
	probes          *prometheus.CounterVec
	proxyResponses  *prometheus.CounterVec
	uploadRejection *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

var (
	_ avatar.Observer = (*Observer)(nil)
	_ probe.Observer  = (*Observer)(nil)
	_ proxy.Observer  = (*Observer)(nil)
	_ upload.Observer = (*Observer)(nil)
)

// NewObserver registers the counters with reg. Counters already registered
// by an earlier observer are reused.
func NewObserver(namespace string, reg *prometheus.Registry) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	o := &Observer{gatherer: gatherer}
	var err error
	if o.resolutions, err = registerCounterVec(registerer, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "avatar_resolutions_total",
		Help:      "Avatar resolutions by the source that answered.",
	}, "source"); err != nil {
		return nil, err
	}
	if o.probes, err = registerCounterVec(registerer, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_cache_lookups_total",
		Help:      "Existence probe cache lookups by outcome.",
	}, "outcome"); err != nil {
		return nil, err
	}
	if o.proxyResponses, err = registerCounterVec(registerer, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_responses_total",
		Help:      "Media proxy responses by status class.",
	}, "class"); err != nil {
		return nil, err
	}
	if o.uploadRejection, err = registerCounterVec(registerer, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_rejections_total",
		Help:      "Rejected uploads by error kind.",
	}, "kind"); err != nil {
		return nil, err
	}
	return o, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register %s: %w", opts.Name, err)
	}
	return counter, nil
}

func (o *Observer) ObserveResolution(source string) {
	if o == nil {
		return
	}
	o.resolutions.WithLabelValues(source).Inc()
}

func (o *Observer) ObserveProbe(outcome string) {
	if o == nil {
		return
	}
	o.probes.WithLabelValues(outcome).Inc()
}

func (o *Observer) ObserveProxy(status int) {
	if o == nil {
		return
	}
	o.proxyResponses.WithLabelValues(statusClass(status)).Inc()
}

func (o *Observer) ObserveUploadRejected(kind string) {
	if o == nil {
		return
	}
	o.uploadRejection.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (o *Observer) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
