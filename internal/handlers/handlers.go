package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
	xhttp "github.com/nimasrn/drone-dispatch/pkg/http"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeMessage(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, errorResponse{Error: msg})
}

func errMissing(fields string) error {
	return errors.New(fields + " required")
}

func writeInvalidJSON(ctx *xhttp.RequestCtx, err error) {
	writeMessage(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
}

// writeError maps a service error onto its HTTP status. Errors without a
// domain kind are logged and hidden behind a 500.
func writeError(ctx *xhttp.RequestCtx, err error) {
	var se *services.Error
	if !errors.As(err, &se) {
		logger.Error("[handlers] unexpected error", "error", err, "path", string(ctx.Path()), "method", string(ctx.Method()))
		writeMessage(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	status := statusOf(se.Kind)
	if status >= 500 {
		logger.Warn("[handlers] request failed", "error", err, "code", se.Code, "path", string(ctx.Path()))
	}
	writeJSON(ctx, status, errorResponse{Error: se.Error(), Code: se.Code})
}

func statusOf(k services.Kind) int {
	switch k {
	case services.KindValidation:
		return xhttp.StatusBadRequest
	case services.KindUnauthenticated:
		return xhttp.StatusUnauthorized
	case services.KindForbidden:
		return xhttp.StatusForbidden
	case services.KindNotFound:
		return xhttp.StatusNotFound
	case services.KindConflict:
		return xhttp.StatusConflict
	case services.KindInvalidState:
		return xhttp.StatusUnprocessableEntity
	case services.KindUnavailable:
		return xhttp.StatusServiceUnavailable
	case services.KindUpstreamDegraded:
		return xhttp.StatusBadGateway
	}
	return xhttp.StatusInternalServerError
}

// requestContext is the request with the authenticated actor attached.
func requestContext(ctx *xhttp.RequestCtx) context.Context {
	if a, ok := ctx.UserValue(actorValueKey).(auth.Actor); ok {
		return auth.WithActor(ctx, a)
	}
	return ctx
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, bool) {
	v, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeMessage(ctx, xhttp.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func pathString(ctx *xhttp.RequestCtx, name string) (string, bool) {
	v, _ := ctx.UserValue(name).(string)
	if strings.TrimSpace(v) == "" {
		writeMessage(ctx, xhttp.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return v, true
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func splitQuery(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func droneFilter(ctx *xhttp.RequestCtx) model.DroneFilter {
	var f model.DroneFilter
	for _, s := range splitQuery(query(ctx, "status")) {
		f.Statuses = append(f.Statuses, model.DroneStatus(s))
	}
	if v := query(ctx, "min_battery"); v != "" {
		if b, e := strconv.ParseFloat(v, 64); e == nil {
			f.MinBattery = &b
		}
	}
	f.Limit, f.Offset = page(ctx)
	return f
}

func droneOrderFilter(ctx *xhttp.RequestCtx) model.DroneOrderFilter {
	var f model.DroneOrderFilter
	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "seller_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.SellerID = &id
		}
	}
	if v := query(ctx, "drone_id"); v != "" {
		f.DroneID = &v
	}
	for _, s := range splitQuery(query(ctx, "status")) {
		f.Statuses = append(f.Statuses, model.DroneOrderStatus(s))
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	f.Limit, f.Offset = page(ctx)
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}
	return f
}

func page(ctx *xhttp.RequestCtx) (limit, offset int) {
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			offset = n
		}
	}
	return limit, offset
}
