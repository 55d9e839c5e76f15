package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestHealth(t *testing.T) {
	var ctx fasthttp.RequestCtx

	NewEndpoints("1.2.3").Health(&ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, string(ctx.Response.Body()))
}
