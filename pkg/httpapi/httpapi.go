// Package httpapi is the control plane: a small regex-routed HTTP/1.1
// request/response pipeline, built directly on net/http's connection
// handling but with its own routing table, so every handler sees the
// same (method, path-regex, handler) dispatch shape documented for
// this system regardless of which HTTP server actually terminates the
// socket.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kurvproject/kurv/pkg/info"
	"github.com/kurvproject/kurv/pkg/state"
)

// Context is the shared, read-mostly dependency bundle every handler
// receives.
type Context struct {
	Store *state.Store
	Info  *info.Info
	Log   logrus.FieldLogger
}

// Response is a structured payload a handler produces; the router
// serializes Body as JSON and writes Status plus the shared default
// headers.
type Response struct {
	Status int
	Body   interface{}
}

// ErrorBody is the wire shape of every non-2xx response.
type ErrorBody struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JSON builds a 2xx-or-whatever structured response.
func JSON(status int, body interface{}) Response {
	return Response{Status: status, Body: body}
}

// Err builds a structured error response with the standard
// {code, status, message} wire shape.
func Err(status int, format string, args ...interface{}) Response {
	return Response{
		Status: status,
		Body: ErrorBody{
			Code:    status,
			Status:  http.StatusText(status),
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// Handler is the signature every route target implements.
type Handler func(r *http.Request, params map[string]string, ctx *Context) Response

type route struct {
	method  string
	re      *regexp.Regexp
	handler Handler
}

// Router dispatches requests via an ordered table of (method,
// path-regex, handler) tuples compiled with the template
// "^PATH/?$"; the first match wins. Capture groups in the path regex
// populate the params map passed to the handler.
type Router struct {
	ctx           *Context
	routes        []route
	registry      *prometheus.Registry
	eggsByStatus  *prometheus.GaugeVec
	respawnsTotal prometheus.Counter
}

// NewRouter builds the control-plane router and its supplemental
// metrics, wired into ctx. Each Router owns its own metrics registry
// rather than the global default one, so constructing more than one
// (e.g. across test cases) never panics on duplicate registration.
func NewRouter(ctx *Context) *Router {
	registry := prometheus.NewRegistry()
	eggsByStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kurv_eggs_by_status",
		Help: "Number of eggs currently in each status.",
	}, []string{"status"})
	respawnsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kurv_respawns_total",
		Help: "Total number of egg respawn attempts observed by the supervisor.",
	})
	registry.MustRegister(eggsByStatus, respawnsTotal)

	router := &Router{ctx: ctx, registry: registry, eggsByStatus: eggsByStatus, respawnsTotal: respawnsTotal}
	router.routes = router.buildRoutes()
	return router
}

// RespawnObserved increments the respawn counter; called by the
// reconcile loop whenever Phase A spawns an egg.
func (router *Router) RespawnObserved() {
	router.respawnsTotal.Inc()
}

// RefreshStatusGauges recomputes the per-status gauge from the current
// store contents; called by the reconcile loop at the end of a tick.
func (router *Router) RefreshStatusGauges() {
	router.ctx.Store.Lock()
	counts := map[string]float64{}
	for _, e := range router.ctx.Store.All() {
		status := "Pending"
		if e.State != nil {
			status = string(e.State.Status)
		}
		counts[status]++
	}
	router.ctx.Store.Unlock()

	router.eggsByStatus.Reset()
	for status, count := range counts {
		router.eggsByStatus.WithLabelValues(status).Set(count)
	}
}

func compile(method, pathRegex string) *regexp.Regexp {
	return regexp.MustCompile("^" + pathRegex + "/?$")
}

func (router *Router) buildRoutes() []route {
	return []route{
		{"GET", compile("GET", `/`), router.status},
		{"GET", compile("GET", `/status`), router.status},
		{"GET", compile("GET", `/eggs`), router.eggsSummary},
		{"POST", compile("POST", `/eggs`), router.eggsCollect},
		{"GET", compile("GET", `/eggs/(?P<egg_id>[^/]+)`), router.eggsGet},
		{"POST", compile("POST", `/eggs/(?P<egg_id>[^/]+)/start`), router.eggsStart},
		{"POST", compile("POST", `/eggs/(?P<egg_id>[^/]+)/stop`), router.eggsStop},
		{"POST", compile("POST", `/eggs/(?P<egg_id>[^/]+)/restart`), router.eggsRestart},
		{"POST", compile("POST", `/eggs/(?P<egg_id>[^/]+)/remove`), router.eggsRemove},
		{"PATCH", compile("PATCH", `/eggs/(?P<egg_id>[^/]+)/env`), router.eggsEnvMerge},
		{"PUT", compile("PUT", `/eggs/(?P<egg_id>[^/]+)/env`), router.eggsEnvReplace},
	}
}

// ServeHTTP implements http.Handler: it matches the request against
// the routing table, dispatches the first match, and writes the
// response with the default headers (Server, Content-Length, Date,
// permissive CORS). A miss yields 405 Method Not Allowed.
func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// GET /metrics is supplemental and never shadows a documented route;
	// it's the one endpoint whose body is Prometheus text exposition
	// format rather than this API's JSON envelope, so it bypasses the
	// regex routing table and talks to promhttp directly.
	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		writeDefaultHeaders(w)
		promhttp.HandlerFor(router.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		return
	}

	for _, rt := range router.routes {
		if rt.method != r.Method {
			continue
		}
		match := rt.re.FindStringSubmatch(r.URL.Path)
		if match == nil {
			continue
		}

		params := map[string]string{}
		for i, name := range rt.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			params[name] = match[i]
		}

		resp := rt.handler(r, params, router.ctx)
		writeResponse(w, resp)
		return
	}

	writeResponse(w, Err(http.StatusMethodNotAllowed,
		"The method specified in the Request-Line is not allowed for the resource identified by the Request-URI."))
}

func writeDefaultHeaders(w http.ResponseWriter) {
	w.Header().Set("Server", "kurv")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeResponse(w http.ResponseWriter, resp Response) {
	writeDefaultHeaders(w)
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(resp.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":500,"status":"Internal Server Error","message":"failed to serialize response"}`))
		return
	}

	w.WriteHeader(resp.Status)
	_, _ = w.Write(body)
}
