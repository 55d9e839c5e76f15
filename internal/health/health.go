package health

import (
	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/valyala/fasthttp"
)

type HealthEndpoints struct {
	version string
}

func NewEndpoints(version string) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
	}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health is public and does not touch storage or the identity provider.
func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	apperr.WriteJSON(ctx, fasthttp.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}
