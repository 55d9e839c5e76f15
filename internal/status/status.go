package status

import (
	"time"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/valyala/fasthttp"
)

type CacheSizer interface {
	Len() int
}

type CredentialExpiry interface {
	ExpiresAt() time.Time
}

type StatusEndpoints struct {
	version       string
	storageType   string
	pointerDriver string
	probes        CacheSizer
	credentials   CredentialExpiry
}

// NewEndpoints reports on the running instance. credentials may be nil when
// the storage backend does not use a service credential.
func NewEndpoints(version, storageType, pointerDriver string, probes CacheSizer, credentials CredentialExpiry) *StatusEndpoints {
	return &StatusEndpoints{
		version:       version,
		storageType:   storageType,
		pointerDriver: pointerDriver,
		probes:        probes,
		credentials:   credentials,
	}
}

type StatusResponse struct {
	Health              string     `json:"health"`
	Version             string     `json:"version"`
	Storage             string     `json:"storage"`
	PointerStore        string     `json:"pointerStore"`
	ProbeCacheEntries   int        `json:"probeCacheEntries"`
	CredentialExpiresAt *time.Time `json:"credentialExpiresAt,omitempty"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	response := StatusResponse{
		Health:       "OK",
		Version:      se.version,
		Storage:      se.storageType,
		PointerStore: se.pointerDriver,
	}
	if se.probes != nil {
		response.ProbeCacheEntries = se.probes.Len()
	}
	if se.credentials != nil {
		if expiresAt := se.credentials.ExpiresAt(); !expiresAt.IsZero() {
			response.CredentialExpiresAt = &expiresAt
		}
	}

	apperr.WriteJSON(ctx, fasthttp.StatusOK, response)
}
