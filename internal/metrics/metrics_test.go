package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestObserver_ShouldCountByLabel(t *testing.T) {
	// given
	observer, err := NewObserver("test", prometheus.NewRegistry())
	require.NoError(t, err)

	// when
	observer.ObserveResolution("pointer")
	observer.ObserveResolution("pointer")
	observer.ObserveProbe("hit_ok")
	observer.ObserveProxy(404)
	observer.ObserveProxy(403)
	observer.ObserveProxy(200)
	observer.ObserveUploadRejected("QuotaExceeded")

	// then
	assert.Equal(t, 2.0, testutil.ToFloat64(observer.resolutions.WithLabelValues("pointer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(observer.probes.WithLabelValues("hit_ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(observer.proxyResponses.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(observer.proxyResponses.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(observer.uploadRejection.WithLabelValues("QuotaExceeded")))
}

func TestNewObserver_ShouldReuseRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewObserver("test", reg)
	require.NoError(t, err)
	second, err := NewObserver("test", reg)
	require.NoError(t, err)

	first.ObserveResolution("placeholder")
	second.ObserveResolution("placeholder")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.resolutions.WithLabelValues("placeholder")))
}

func TestHandler_ShouldExposeCounters(t *testing.T) {
	observer, err := NewObserver("test", prometheus.NewRegistry())
	require.NoError(t, err)
	observer.ObserveResolution("public")

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	observer.Handler()(&ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), `test_avatar_resolutions_total{source="public"} 1`))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "5xx", statusClass(502))
	assert.Equal(t, "other", statusClass(0))
}
