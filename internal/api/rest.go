package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/miradorstack/report-viewer/internal/actions"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/services"
	"github.com/miradorstack/report-viewer/internal/utils"
)

const (
	maxParseBody = 4 << 20

	streamPingInterval = 30 * time.Second
	streamWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebAPI serves the REST surface of the viewer.
type WebAPI struct {
	router *chi.Mux
	logger *slog.Logger
	server *http.Server
	// closes hijacked stream connections, which http.Server.Shutdown does not track
	closeStreams context.CancelFunc
}

// NewWebAPI wires the REST routes onto a chi router.
func NewWebAPI(addr string, svc *services.ViewerService, logger *slog.Logger) *WebAPI {
	if logger == nil {
		logger = slog.Default()
	}
	h := &restHandler{svc: svc, logger: logger}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.healthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/parse", h.parse)
		r.Post("/sessions", h.openSession)
		r.Route("/sessions/{session}", func(r chi.Router) {
			r.Delete("/", h.closeSession)
			r.Get("/sites/{site}/report", h.getReport)
			r.Post("/sites/{site}/report/regenerate", h.regenerate)
			r.Post("/sites/{site}/anomalies/{anomaly}/actions", h.runAction)
			r.Get("/actions", h.listActions)
			r.Get("/notifications", h.notifications)
			r.Get("/notifications/stream", h.streamNotifications)
		})
	})

	baseCtx, closeStreams := context.WithCancel(context.Background())
	return &WebAPI{
		router: router,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		closeStreams: closeStreams,
	}
}

// Handler exposes the router for tests and embedding.
func (w *WebAPI) Handler() http.Handler {
	return w.router
}

// Start serves until Shutdown is called.
func (w *WebAPI) Start() error {
	w.logger.Info("http server listening", slog.String("address", w.server.Addr))
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains outstanding requests, closing the server if ctx expires first.
func (w *WebAPI) Shutdown(ctx context.Context) error {
	w.closeStreams()
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("graceful shutdown failed", slog.Any("error", err))
		return w.server.Close()
	}
	return nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("http request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("remote_ip", req.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type restHandler struct {
	svc    *services.ViewerService
	logger *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *restHandler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *restHandler) parse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxParseBody))
	if err != nil {
		h.writeError(w, "read body", fmt.Errorf("%w: %v", services.ErrInvalidArgument, err))
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.ParseRaw(string(body)))
}

func (h *restHandler) openSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusCreated, h.svc.OpenSession())
}

func (h *restHandler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseSession(chi.URLParam(r, "session")); err != nil {
		h.writeError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) getReport(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetReport(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "site"))
	if err != nil {
		h.writeError(w, "get report", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *restHandler) regenerate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Regenerate(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "site")); err != nil {
		h.writeError(w, "regenerate report", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *restHandler) runAction(w http.ResponseWriter, r *http.Request) {
	id := models.AnomalyID(chi.URLParam(r, "anomaly"))
	if err := h.svc.RunAction(r.Context(), chi.URLParam(r, "session"), chi.URLParam(r, "site"), id); err != nil {
		h.writeError(w, "run action", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, RunActionResponse{AnomalyID: id, State: models.ActionRunning})
}

func (h *restHandler) listActions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListActions(chi.URLParam(r, "session"))
	if err != nil {
		h.writeError(w, "list actions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func parseSince(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: since must be a non-negative integer", services.ErrInvalidArgument)
	}
	return since, nil
}

func (h *restHandler) notifications(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, "list notifications", err)
		return
	}
	notes, err := h.svc.Notifications(chi.URLParam(r, "session"), since)
	if err != nil {
		h.writeError(w, "list notifications", err)
		return
	}
	h.writeJSON(w, http.StatusOK, notes)
}

// streamNotifications pushes notification batches over a websocket as they are
// published. Unknown sessions are rejected before the upgrade.
func (h *restHandler) streamNotifications(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	since, err := parseSince(r)
	if err != nil {
		h.writeError(w, "stream notifications", err)
		return
	}
	if _, err := h.svc.Notifications(sessionID, since); err != nil {
		h.writeError(w, "stream notifications", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only sends control frames; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = h.svc.StreamNotifications(ctx, sessionID, since, func(notes []actions.Notification) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(notes)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("notification stream closed", slog.String("session", sessionID), slog.Any("error", err))
	}
}

func (h *restHandler) writeError(w http.ResponseWriter, op string, err error) {
	_, httpStatus := classify(err)
	msg := err.Error()
	if httpStatus >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
		msg = utils.UserMessage(err, op+" failed")
	}
	h.writeJSON(w, httpStatus, errorBody{Error: msg})
}

func (h *restHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}
