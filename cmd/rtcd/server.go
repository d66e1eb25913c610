package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	openrtm "github.com/n-ando/OpenRTM-aist-sub001"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection/mermaid"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
)

// newRouter serves metrics, the introspection report and component control.
func newRouter(m *openrtm.Manager, reg *metric.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if reg != nil {
		r.Handle("/metrics", reg.Handler())
	}
	graph := mermaid.NewGraphHandler(m.Name(), m.Report)
	r.Handle("/introspection", http.RedirectHandler("/introspection/", http.StatusMovedPermanently))
	r.Handle("/introspection/", graph)
	r.Get("/introspection.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Report())
	})
	r.Get("/introspection.yaml", func(w http.ResponseWriter, _ *http.Request) {
		data, err := yaml.Marshal(m.Report().Normalize())
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
	})

	r.Route("/components/{name}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			c, err := m.Component(chi.URLParam(req, "name"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, c.Describe())
		})
		r.Post("/activate", controlHandler(m, (*rtc.Component).Activate))
		r.Post("/deactivate", controlHandler(m, (*rtc.Component).Deactivate))
		r.Post("/reset", controlHandler(m, (*rtc.Component).Reset))
		r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
			if err := m.DestroyComponent(req.Context(), chi.URLParam(req, "name")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

// controlHandler applies op to the component in the URL for the context id
// given by the "ec" query parameter, zero by default.
func controlHandler(m *openrtm.Manager, op func(*rtc.Component, context.Context, ec.ID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		c, err := m.Component(chi.URLParam(req, "name"))
		if err != nil {
			writeError(w, err)
			return
		}
		id := ec.ID(0)
		if raw := req.URL.Query().Get("ec"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, rterr.BadParameter("control", raw, "bad context id"))
				return
			}
			id = ec.ID(n)
		}
		if err := op(c, req.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := rterr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case rterr.KindNotFound:
		status = http.StatusNotFound
	case rterr.KindBadParameter:
		status = http.StatusBadRequest
	case rterr.KindPreconditionNotMet:
		status = http.StatusConflict
	case rterr.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Kind: kind.String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpServer hosts the router as a manager runnable.
type httpServer struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
	bound   atomic.Pointer[string]
}

func newHTTPServer(addr string, handler http.Handler, logger *slog.Logger) *httpServer {
	return &httpServer{addr: addr, handler: handler, logger: logger}
}

func (h *httpServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()
	h.bound.Store(&addr)
	h.logger.Info("http server listening", "addr", addr)

	server := &http.Server{Handler: h.handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *httpServer) IsReady(ctx context.Context) error {
	addr := h.Addr()
	if addr == "" {
		return errors.New("not listening")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Addr returns the bound address, or "" before Run listens.
func (h *httpServer) Addr() string {
	if p := h.bound.Load(); p != nil {
		return *p
	}
	return ""
}
