package main

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrtronium/warden/blocklist"
)

func (w *Warden) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	w.routes(mux, metrics)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (w *Warden) routes(mux *http.ServeMux, metrics []prometheus.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/goal:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	if w.secrets == nil {
		slog.Warn("no secret key; block list API disabled")
		return
	}
	mux.HandleFunc("GET /api/blocklist", w.authed(w.apiBlockList))
	mux.HandleFunc("PUT /api/blocklist/{kind}/{id}", w.authed(w.apiBlock))
	mux.HandleFunc("DELETE /api/blocklist/{id}", w.authed(w.apiUnblock))
	mux.HandleFunc("GET /api/usage/top", w.authed(w.apiTop))
}

// authed wraps a handler to require the API bearer token.
func (w *Warden) authed(h http.HandlerFunc) http.HandlerFunc {
	want := []byte(hex.EncodeToString(w.secrets.api))
	return func(rw http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(tok), want) != 1 {
			slog.WarnContext(r.Context(), "unauthorized API request", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
			rw.Header().Set("Content-Type", "application/json")
			jsonerror(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(rw, r)
	}
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

type apiEntry struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitzero"`
}

func (w *Warden) apiBlockList(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "blocklist"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	rw.Header().Set("Content-Type", "application/json")
	l, err := w.robo.Blocks.Entries(ctx)
	if err != nil {
		log.ErrorContext(ctx, "couldn't list block list", slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, "internal error")
		return
	}
	u := struct {
		Data   []apiEntry `json:"data"`
		Status int        `json:"status"`
	}{
		Data:   make([]apiEntry, len(l)),
		Status: http.StatusOK,
	}
	for i, e := range l {
		u.Data[i] = apiEntry{ID: strconv.FormatUint(e.ID, 10), Kind: e.Kind.String(), Reason: e.Reason}
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := rw.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

func (w *Warden) apiBlock(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "block"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	rw.Header().Set("Content-Type", "application/json")
	kind, err := blocklist.ParseKind(r.PathValue("kind"))
	if err != nil {
		log.WarnContext(ctx, "bad request", slog.String("kind", r.PathValue("kind")), slog.Any("err", err))
		jsonerror(rw, http.StatusBadRequest, "invalid kind")
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		log.WarnContext(ctx, "bad request", slog.String("id", r.PathValue("id")), slog.Any("err", err))
		jsonerror(rw, http.StatusBadRequest, "invalid id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		log.ErrorContext(ctx, "read body", slog.Any("err", err))
		jsonerror(rw, http.StatusBadRequest, "body read failed")
		return
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &body); err != nil {
			log.WarnContext(ctx, "bad request body", slog.Any("err", err))
			jsonerror(rw, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	err = w.robo.Blocks.Block(ctx, id, kind, strings.TrimSpace(body.Reason))
	switch {
	case err == nil:
		rw.WriteHeader(http.StatusCreated)
		rw.Write([]byte(`{"status":201}`))
	case errors.Is(err, blocklist.ErrAlreadyBlocked):
		jsonerror(rw, http.StatusConflict, "already blocked")
	default:
		log.ErrorContext(ctx, "block failed", slog.Uint64("id", id), slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, "internal error")
	}
}

func (w *Warden) apiUnblock(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "unblock"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	rw.Header().Set("Content-Type", "application/json")
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		log.WarnContext(ctx, "bad request", slog.String("id", r.PathValue("id")), slog.Any("err", err))
		jsonerror(rw, http.StatusBadRequest, "invalid id")
		return
	}
	if k := r.FormValue("kind"); k != "" {
		kind, perr := blocklist.ParseKind(k)
		if perr != nil {
			jsonerror(rw, http.StatusBadRequest, "invalid kind")
			return
		}
		err = w.robo.Blocks.UnblockKind(ctx, id, kind)
	} else {
		_, err = w.robo.Blocks.Unblock(ctx, id)
	}
	switch {
	case err == nil:
		rw.WriteHeader(http.StatusNoContent)
	case errors.Is(err, blocklist.ErrNotBlocked):
		jsonerror(rw, http.StatusNotFound, "not blocked")
	case errors.Is(err, blocklist.ErrAmbiguous):
		jsonerror(rw, http.StatusConflict, "blocked as both user and guild; specify kind")
	default:
		log.ErrorContext(ctx, "unblock failed", slog.Uint64("id", id), slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, "internal error")
	}
}

type apiCount struct {
	Command string `json:"command"`
	Count   int64  `json:"count"`
}

func (w *Warden) apiTop(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "top"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	rw.Header().Set("Content-Type", "application/json")
	counts, err := w.robo.Usage.Counts(ctx)
	if err != nil {
		log.ErrorContext(ctx, "couldn't get command usage", slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, "internal error")
		return
	}
	total, err := w.robo.Usage.Total(ctx)
	if err != nil {
		log.ErrorContext(ctx, "couldn't count commands", slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, "internal error")
		return
	}
	u := struct {
		Total  int64      `json:"total"`
		Data   []apiCount `json:"data"`
		Status int        `json:"status"`
	}{
		Total:  total,
		Data:   make([]apiCount, len(counts)),
		Status: http.StatusOK,
	}
	for i, c := range counts {
		u.Data[i] = apiCount{Command: c.Command, Count: c.N}
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := rw.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}
