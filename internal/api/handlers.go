package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/repo"
	"github.com/miradorstack/report-viewer/internal/services"
	"github.com/miradorstack/report-viewer/internal/utils"
)

// GRPCHandlers adapts ViewerService to the ReportViewer gRPC API.
type GRPCHandlers struct {
	svc    *services.ViewerService
	logger *slog.Logger
}

// NewGRPCHandlers constructs the gRPC facade.
func NewGRPCHandlers(svc *services.ViewerService, logger *slog.Logger) *GRPCHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandlers{svc: svc, logger: logger}
}

func (h *GRPCHandlers) OpenSession(ctx context.Context, req *OpenSessionRequest) (*OpenSessionResponse, error) {
	sess := h.svc.OpenSession()
	return &OpenSessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt}, nil
}

func (h *GRPCHandlers) CloseSession(ctx context.Context, req *CloseSessionRequest) (*CloseSessionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := h.svc.CloseSession(req.SessionID); err != nil {
		return nil, h.toStatus("close session", err)
	}
	return &CloseSessionResponse{SessionID: req.SessionID}, nil
}

func (h *GRPCHandlers) GetReport(ctx context.Context, req *GetReportRequest) (*services.ReportView, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if req.Regenerate {
		if err := h.svc.Regenerate(ctx, req.SessionID, req.SiteID); err != nil {
			return nil, h.toStatus("regenerate report", err)
		}
	}
	view, err := h.svc.GetReport(ctx, req.SessionID, req.SiteID)
	if err != nil {
		return nil, h.toStatus("get report", err)
	}
	return &view, nil
}

func (h *GRPCHandlers) RunAction(ctx context.Context, req *RunActionRequest) (*RunActionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := h.svc.RunAction(ctx, req.SessionID, req.SiteID, req.AnomalyID); err != nil {
		return nil, h.toStatus("run action", err)
	}
	return &RunActionResponse{AnomalyID: req.AnomalyID, State: models.ActionRunning}, nil
}

func (h *GRPCHandlers) ListActions(ctx context.Context, req *ListActionsRequest) (*ListActionsResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	entries, err := h.svc.ListActions(req.SessionID)
	if err != nil {
		return nil, h.toStatus("list actions", err)
	}
	notes, err := h.svc.Notifications(req.SessionID, req.Since)
	if err != nil {
		return nil, h.toStatus("list notifications", err)
	}
	return &ListActionsResponse{Actions: entries, Notifications: notes}, nil
}

func (h *GRPCHandlers) ParseReport(ctx context.Context, req *ParseReportRequest) (*services.ParseResult, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	result := h.svc.ParseRaw(req.Content)
	return &result, nil
}

func (h *GRPCHandlers) toStatus(op string, err error) error {
	code, _ := classify(err)
	if code == codes.Internal || code == codes.Unavailable {
		h.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(code, utils.UserMessage(err, op+" failed"))
	}
	return status.Error(code, err.Error())
}

// classify maps domain errors onto gRPC codes and HTTP statuses.
func classify(err error) (codes.Code, int) {
	var appErr *utils.AppError
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return codes.InvalidArgument, http.StatusBadRequest
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrAnomalyNotFound):
		return codes.NotFound, http.StatusNotFound
	case errors.Is(err, services.ErrReportNotLoaded), errors.Is(err, services.ErrActionInFlight):
		return codes.FailedPrecondition, http.StatusConflict
	case errors.Is(err, repo.ErrRegenerationInProgress):
		return codes.Aborted, http.StatusConflict
	case errors.As(err, &appErr):
		return codes.Unavailable, http.StatusBadGateway
	default:
		return codes.Internal, http.StatusInternalServerError
	}
}
