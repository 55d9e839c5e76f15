package internal

import (
	"strings"

	"github.com/castmedia/castmedia_server/internal/avatar"
	"github.com/castmedia/castmedia_server/internal/health"
	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/middleware"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/status"
	"github.com/castmedia/castmedia_server/internal/upload"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	Health  *health.HealthEndpoints
	Status  *status.StatusEndpoints
	Avatar  *avatar.Endpoints
	Media   *media.Endpoints
	Proxy   *proxy.Endpoints
	Upload  *upload.Endpoints
	Metrics fasthttp.RequestHandler
}

func NewRequestHandler(config *Config, endpoints Endpoints, validator middleware.RequestValidator) fasthttp.RequestHandler {
	authMiddleware := middleware.NewAuthMiddleware(validator)
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())
		readOnly := method == fasthttp.MethodGet || method == fasthttp.MethodHead

		switch {
		case path == "/health":
			endpoints.Health.Health(ctx)
		case path == "/status":
			authMiddleware.RequireAuth(endpoints.Status.Status)(ctx)
		case path == "/metrics" && endpoints.Metrics != nil:
			endpoints.Metrics(ctx)

		case path == proxy.Route:
			if readOnly {
				authMiddleware.OptionalAuth(endpoints.Proxy.Proxy)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case strings.HasPrefix(path, "/avatar/"):
			if !readOnly {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				return
			}
			parts := strings.Split(path, "/")
			switch {
			case len(parts) == 4 && parts[2] == "placeholder" && strings.HasSuffix(parts[3], ".png"):
				ctx.SetUserValue("seed", parts[3])
				endpoints.Avatar.Placeholder(ctx)
			case len(parts) == 4 && parts[2] == "safe" && parts[3] != "":
				ctx.SetUserValue("ownerID", parts[3])
				endpoints.Avatar.SafeAvatar(ctx)
			case len(parts) == 3 && parts[2] != "":
				ctx.SetUserValue("ownerID", parts[2])
				endpoints.Avatar.Avatar(ctx)
			default:
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case strings.HasPrefix(path, "/headshots/tiles/"), strings.HasPrefix(path, "/gallery/tiles/"):
			parts := strings.Split(path, "/")
			if len(parts) != 4 || parts[3] == "" || !readOnly {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("ownerID", parts[3])
			if parts[1] == "headshots" {
				endpoints.Media.HeadshotTiles(ctx)
			} else {
				endpoints.Media.GalleryTiles(ctx)
			}

		case path == "/upload":
			if method == fasthttp.MethodPost {
				authMiddleware.RequireAuth(endpoints.Upload.Upload)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/files/"):
			// file ids may contain slashes, so everything after the owner is the id
			parts := strings.SplitN(path, "/", 4)
			if len(parts) == 4 && parts[2] != "" && parts[3] != "" {
				ctx.SetUserValue("ownerID", parts[2])
				ctx.SetUserValue("fileID", parts[3])
				if method == fasthttp.MethodDelete {
					authMiddleware.RequireAuth(endpoints.Upload.Delete)(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case strings.HasPrefix(path, "/quota/"):
			parts := strings.Split(path, "/")
			if len(parts) == 3 && parts[2] != "" && readOnly {
				ctx.SetUserValue("ownerID", parts[2])
				authMiddleware.RequireAuth(endpoints.Upload.Quota)(ctx)
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
