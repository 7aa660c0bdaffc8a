package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/oscquery/addrspace"
	"pkt.systems/oscquery/api"
	"pkt.systems/oscquery/internal/correlation"
	"pkt.systems/oscquery/internal/svcfields"
	"pkt.systems/pslog"
)

// AddressSpace resolves a path and encodes the node found there.
type AddressSpace interface {
	Serialize(path string) (api.Node, bool)
}

// Decision is the outcome of a Filter.
type Decision struct {
	// Deny rejects the request as if the path did not exist.
	Deny bool
	// Space, when set, replaces the configured address space for this request.
	Space AddressSpace
}

// Filter inspects a request before its path is resolved.
type Filter func(r *http.Request) Decision

// Config groups the dependencies required by the query handler.
type Config struct {
	Space              AddressSpace
	HostInfo           func() api.HostInfo
	Filter             Filter
	Logger             pslog.Logger
	DisableHTTPTracing bool
}

// Handler serves OSCQuery GET requests.
type Handler struct {
	space              AddressSpace
	hostInfo           func() api.HostInfo
	filter             Filter
	logger             pslog.Logger
	tracer             trace.Tracer
	httpTracingEnabled bool
	metrics            *queryMetrics
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// New constructs a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	hostInfo := cfg.HostInfo
	if hostInfo == nil {
		hostInfo = func() api.HostInfo {
			return api.HostInfo{Extensions: api.DefaultExtensions(), OSCTransport: api.TransportUDP}
		}
	}
	return &Handler{
		space:              cfg.Space,
		hostInfo:           hostInfo,
		filter:             cfg.Filter,
		logger:             logger,
		tracer:             otel.Tracer("pkt.systems/oscquery/httpapi"),
		httpTracingEnabled: !cfg.DisableHTTPTracing,
		metrics:            newQueryMetrics(logger),
	}
}

// Register wires the query endpoint into mux. Every path is part of the
// address space, so the handler is mounted at the root.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/", h.wrap("query", h.handleQuery))
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "oscquery.http." + operation
	txSpanName := "oscquery.tx." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := correlation.Ensure(r.Context())
		reqID := correlation.Generate()
		var span trace.Span
		if h.httpTracingEnabled {
			ctx, span = h.tracer.Start(ctx, txSpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("oscquery.sys", sys)),
			)
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}
		span.SetAttributes(
			attribute.String("oscquery.operation", operation),
			attribute.String("oscquery.path", r.URL.Path),
			attribute.String("oscquery.query", r.URL.RawQuery),
		)

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		if attr := r.URL.RawQuery; attr != "" {
			logger = logger.With("attr", attr)
		}
		ctx = pslog.ContextWithLogger(ctx, logger)
		if corr := strings.TrimSpace(r.Header.Get(api.HeaderCorrelationID)); corr != "" {
			ctx = correlation.Set(ctx, corr)
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		ctx, logger = applyCorrelation(ctx, logger, span)
		w.Header().Set(api.HeaderCorrelationID, correlation.ID(ctx))

		r = r.WithContext(ctx)
		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if err := fn(rec, r); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler_error")
			var httpErr httpError
			if errors.As(err, &httpErr) {
				span.SetAttributes(attribute.String("oscquery.error_code", httpErr.Code))
			}
			h.handleError(ctx, rec, err)
		}
		h.metrics.recordRequest(ctx, operation, rec.status)
		logger.Trace("http.request.complete", "status", rec.status, "elapsed", time.Since(start))
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: fmt.Sprintf("method %s is not supported", r.Method),
		}
	}
	attr := queryAttribute(r)
	if attr != "" && !api.ValidAttribute(attr) {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_attribute",
			Detail: fmt.Sprintf("unknown attribute %q", attr),
		}
	}
	if attr == api.AttrHostInfo {
		h.writeJSON(w, http.StatusOK, h.hostInfo(), nil)
		return nil
	}

	space := h.space
	if h.filter != nil {
		decision := h.filter(r)
		if decision.Deny {
			h.loggerFrom(r.Context()).Debug("http.query.denied")
			return errNotFound(r.URL.Path)
		}
		if decision.Space != nil {
			space = decision.Space
		}
	}
	if space == nil {
		return errNotFound(r.URL.Path)
	}
	doc, ok := space.Serialize(r.URL.Path)
	if !ok {
		return errNotFound(r.URL.Path)
	}
	if attr == "" {
		h.writeJSON(w, http.StatusOK, &doc, nil)
		return nil
	}
	if attr == api.AttrValue && !addrspace.AccessFromCode(doc.Access).Readable() {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	resp := map[string]any{}
	if value, ok := doc.Attribute(attr); ok {
		resp[attr] = value
	}
	h.writeJSON(w, http.StatusOK, resp, nil)
	return nil
}

// queryAttribute extracts the attribute selector from "?ATTR". A trailing
// "=" is tolerated; anything else is returned verbatim so validation can
// reject it.
func queryAttribute(r *http.Request) string {
	return strings.TrimSuffix(r.URL.RawQuery, "=")
}

func errNotFound(path string) error {
	return httpError{
		Status: http.StatusNotFound,
		Code:   "not_found",
		Detail: fmt.Sprintf("no node at %q", path),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func (h *Handler) loggerFrom(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return h.logger
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := h.loggerFrom(ctx)
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{ErrorCode: httpErr.Code, Detail: httpErr.Detail}, nil)
		return
	}
	logger.Error("http.request.error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}
