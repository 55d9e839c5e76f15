package apperr

import (
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

type errorResponse struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
}

// Write renders err as a JSON error body with the matching status code.
func Write(ctx *fasthttp.RequestCtx, err error) {
	kind := KindOf(err)
	body, marshalErr := json.Marshal(errorResponse{Error: kind, Message: PublicMessage(err)})
	if marshalErr != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(HTTPStatus(err))
	ctx.SetBody(body)
}

// WriteJSON renders v with the given status code.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
