package httpapi

import "net/http"

// status implements GET / and GET /status: the Info snapshot.
func (router *Router) status(r *http.Request, params map[string]string, ctx *Context) Response {
	return JSON(http.StatusOK, ctx.Info)
}
