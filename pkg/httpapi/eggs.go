package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	validator "github.com/go-playground/validator/v10"

	"github.com/kurvproject/kurv/pkg/egg"
)

var validate = validator.New()

const (
	wrongIDMsg      = "missing or invalid egg id"
	notFoundMsg     = "egg not found"
	cannotRemoveMsg = "plugins cannot be removed via API"
)

// jsonLocked marshals body to JSON immediately, while the caller still
// holds the store's lock, and wraps the resulting bytes in a
// json.RawMessage so the router's later write reproduces exactly this
// snapshot. A handler that instead returned the live *egg.Egg pointer
// and let the router marshal it after Unlock would race the egg's
// fields against a reconcile phase or another handler running between
// the handler's return and the router's json.Marshal call.
func jsonLocked(status int, body interface{}) Response {
	raw, err := json.Marshal(body)
	if err != nil {
		return Err(http.StatusInternalServerError, "failed to serialize response: %v", err)
	}
	return Response{Status: status, Body: json.RawMessage(raw)}
}

// summary is the per-egg projection served by GET /eggs.
type summary struct {
	ID         int        `json:"id"`
	Pid        int        `json:"pid"`
	Name       string     `json:"name"`
	Status     egg.Status `json:"status"`
	Uptime     string     `json:"uptime"`
	RetryCount int        `json:"retry_count"`
}

func toSummary(e *egg.Egg) summary {
	s := summary{Name: e.Name, Status: egg.StatusPending, Uptime: "-"}
	if e.ID != nil {
		s.ID = *e.ID
	}
	if e.State != nil {
		s.Pid = e.State.Pid
		s.Status = e.State.Status
		s.RetryCount = e.State.TryCount
		if e.State.StartTime != nil {
			s.Uptime = humanizeDuration(time.Since(*e.State.StartTime))
		}
	}
	return s
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d.Hours() >= 24*30:
		months := int(d.Hours() / (24 * 30))
		if months > 1 {
			return fmt.Sprintf("%d months", months)
		}
		return fmt.Sprintf("%d month", months)
	case d.Hours() >= 24:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d.Hours() >= 1:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d.Minutes() >= 1:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d.Seconds() >= 1:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return "< 1 second"
	}
}

// eggsSummary implements GET /eggs. Query kind=plugins filters to
// plugins only; kind=eggs (the default) filters to non-plugins.
func (router *Router) eggsSummary(r *http.Request, params map[string]string, ctx *Context) Response {
	kind := r.URL.Query().Get("kind")

	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	var eggs []*egg.Egg
	if kind == "plugins" {
		eggs = ctx.Store.Plugins()
	} else {
		eggs = ctx.Store.NonPlugins()
	}

	list := make([]summary, 0, len(eggs))
	for _, e := range eggs {
		list = append(list, toSummary(e))
	}
	return JSON(http.StatusOK, list)
}

// eggsCollect implements POST /eggs: register a new egg, forcing its
// status to Pending, and return it with its assigned id. Rejects 409
// on a duplicate name.
func (router *Router) eggsCollect(r *http.Request, params map[string]string, ctx *Context) Response {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Err(http.StatusBadRequest, "failed to read request body: %v", err)
	}

	var e egg.Egg
	if err := json.Unmarshal(body, &e); err != nil {
		return Err(http.StatusBadRequest, "invalid egg: %v", err)
	}
	if err := validate.Struct(&e); err != nil {
		return Err(http.StatusBadRequest, "invalid egg: %v", err)
	}

	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	if ctx.Store.Contains(e.Name) {
		return Err(http.StatusConflict, "An egg with name %s already exists", e.Name)
	}

	e.SetStatus(egg.StatusPending)
	id := ctx.Store.Collect(&e)
	e.ID = &id

	return jsonLocked(http.StatusOK, &e)
}

// eggsGet implements GET /eggs/{egg_id}: resolve token (id|pid|name).
func (router *Router) eggsGet(r *http.Request, params map[string]string, ctx *Context) Response {
	token := params["egg_id"]
	if token == "" {
		return Err(http.StatusBadRequest, wrongIDMsg)
	}

	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	id, ok := ctx.Store.GetIDByToken(token)
	if !ok {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}
	e := ctx.Store.Get(id)
	if e == nil {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}
	return jsonLocked(http.StatusOK, e)
}

func (router *Router) eggsStart(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.setStatus(params, ctx, egg.StatusPending)
}

func (router *Router) eggsStop(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.setStatus(params, ctx, egg.StatusStopped)
}

func (router *Router) eggsRestart(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.setStatus(params, ctx, egg.StatusRestarting)
}

func (router *Router) eggsRemove(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.setStatus(params, ctx, egg.StatusPendingRemoval)
}

// setStatus implements the shared transition logic behind start, stop,
// restart and remove: resolve the token, validate the requested
// transition, and apply it.
func (router *Router) setStatus(params map[string]string, ctx *Context, status egg.Status) Response {
	token := params["egg_id"]
	if token == "" {
		return Err(http.StatusBadRequest, wrongIDMsg)
	}

	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	id, ok := ctx.Store.GetIDByToken(token)
	if !ok {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}
	e := ctx.Store.Get(id)
	if e == nil {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}

	switch status {
	case egg.StatusPending:
		if e.State != nil && e.State.Status != egg.StatusStopped {
			return Err(http.StatusBadRequest, "egg %s is already running", e.Name)
		}
	case egg.StatusPendingRemoval:
		if e.IsPlugin() {
			return Err(http.StatusForbidden, cannotRemoveMsg)
		}
	case egg.StatusStopped, egg.StatusRestarting:
		// always allowed
	default:
		return Err(http.StatusBadRequest, "can't change status to '%s'", status)
	}

	e.SetStatus(status)
	return jsonLocked(http.StatusOK, e)
}

// eggsEnvMerge implements PATCH /eggs/{egg_id}/env: the request body
// is applied as an RFC 7396 JSON Merge Patch over the egg's existing
// env object — overlapping keys take the request body's value, new
// keys are added, and a null value deletes a key.
func (router *Router) eggsEnvMerge(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.updateEnv(r, params, ctx, false)
}

// eggsEnvReplace implements PUT /eggs/{egg_id}/env: replace the env
// object wholesale.
func (router *Router) eggsEnvReplace(r *http.Request, params map[string]string, ctx *Context) Response {
	return router.updateEnv(r, params, ctx, true)
}

func (router *Router) updateEnv(r *http.Request, params map[string]string, ctx *Context, replace bool) Response {
	token := params["egg_id"]
	if token == "" {
		return Err(http.StatusBadRequest, wrongIDMsg)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Err(http.StatusBadRequest, "failed to read request body: %v", err)
	}

	var requested map[string]string
	if err := json.Unmarshal(body, &requested); err != nil {
		return Err(http.StatusBadRequest, "invalid env payload: %v", err)
	}

	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	id, ok := ctx.Store.GetIDByToken(token)
	if !ok {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}
	e := ctx.Store.Get(id)
	if e == nil {
		return Err(http.StatusNotFound, "%s: %s", notFoundMsg, token)
	}

	if replace {
		e.Env = requested
	} else {
		existing, err := json.Marshal(e.Env)
		if err != nil {
			return Err(http.StatusInternalServerError, "failed to serialize existing env: %v", err)
		}
		merged, err := jsonpatch.MergePatch(existing, body)
		if err != nil {
			return Err(http.StatusBadRequest, "failed to merge env: %v", err)
		}
		var mergedEnv map[string]string
		if err := json.Unmarshal(merged, &mergedEnv); err != nil {
			return Err(http.StatusInternalServerError, "failed to decode merged env: %v", err)
		}
		e.Env = mergedEnv
	}

	e.SetSynced(false)
	return jsonLocked(http.StatusOK, e)
}
