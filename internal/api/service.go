package api

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/miradorstack/report-viewer/internal/actions"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/services"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "reportviewer.v1.ReportViewer"

// OpenSessionRequest starts a viewer session.
type OpenSessionRequest struct{}

// OpenSessionResponse returns the new session id.
type OpenSessionResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CloseSessionRequest releases a viewer session once its in-flight runs finish.
type CloseSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CloseSessionResponse acknowledges a closed session.
type CloseSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// GetReportRequest loads a site's report into a session. Regenerate asks the
// backend for a fresh report first.
type GetReportRequest struct {
	SessionID  string `json:"sessionId"`
	SiteID     string `json:"siteId"`
	Regenerate bool   `json:"regenerate"`
}

// RunActionRequest triggers a remediation run for one anomaly.
type RunActionRequest struct {
	SessionID string           `json:"sessionId"`
	SiteID    string           `json:"siteId"`
	AnomalyID models.AnomalyID `json:"anomalyId"`
}

// RunActionResponse acknowledges a dispatched run.
type RunActionResponse struct {
	AnomalyID models.AnomalyID   `json:"anomalyId"`
	State     models.ActionState `json:"state"`
}

// ListActionsRequest reads a session's action state and notifications newer than Since.
type ListActionsRequest struct {
	SessionID string `json:"sessionId"`
	Since     uint64 `json:"since"`
}

// ListActionsResponse lists tracked actions and pending notifications.
type ListActionsResponse struct {
	Actions       []services.ActionEntry `json:"actions"`
	Notifications []actions.Notification `json:"notifications"`
}

// ParseReportRequest carries a raw report payload.
type ParseReportRequest struct {
	Content string `json:"content"`
}

// ReportViewerServer is the server API for the ReportViewer service.
type ReportViewerServer interface {
	OpenSession(context.Context, *OpenSessionRequest) (*OpenSessionResponse, error)
	CloseSession(context.Context, *CloseSessionRequest) (*CloseSessionResponse, error)
	GetReport(context.Context, *GetReportRequest) (*services.ReportView, error)
	RunAction(context.Context, *RunActionRequest) (*RunActionResponse, error)
	ListActions(context.Context, *ListActionsRequest) (*ListActionsResponse, error)
	ParseReport(context.Context, *ParseReportRequest) (*services.ParseResult, error)
}

// RegisterReportViewerServer attaches srv to the gRPC registrar.
func RegisterReportViewerServer(s grpc.ServiceRegistrar, srv ReportViewerServer) {
	s.RegisterService(&ReportViewerServiceDesc, srv)
}

// ReportViewerServiceDesc describes the ReportViewer service. Messages are JSON
// encoded, so clients must call with grpc.CallContentSubtype(CodecName).
var ReportViewerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportViewerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *OpenSessionRequest) (any, error) { return s.OpenSession(ctx, in) }, "OpenSession")},
		{MethodName: "CloseSession", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *CloseSessionRequest) (any, error) { return s.CloseSession(ctx, in) }, "CloseSession")},
		{MethodName: "GetReport", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *GetReportRequest) (any, error) { return s.GetReport(ctx, in) }, "GetReport")},
		{MethodName: "RunAction", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *RunActionRequest) (any, error) { return s.RunAction(ctx, in) }, "RunAction")},
		{MethodName: "ListActions", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *ListActionsRequest) (any, error) { return s.ListActions(ctx, in) }, "ListActions")},
		{MethodName: "ParseReport", Handler: unaryHandler(func(s ReportViewerServer, ctx context.Context, in *ParseReportRequest) (any, error) { return s.ParseReport(ctx, in) }, "ParseReport")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reportviewer/v1/report_viewer.json",
}

func unaryHandler[Req any](call func(ReportViewerServer, context.Context, *Req) (any, error), method string) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReportViewerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReportViewerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ReportViewerClient is a thin client for the ReportViewer service.
type ReportViewerClient struct {
	cc grpc.ClientConnInterface
}

// NewReportViewerClient wraps an established connection.
func NewReportViewerClient(cc grpc.ClientConnInterface) *ReportViewerClient {
	return &ReportViewerClient{cc: cc}
}

func (c *ReportViewerClient) OpenSession(ctx context.Context, in *OpenSessionRequest, opts ...grpc.CallOption) (*OpenSessionResponse, error) {
	return invoke[OpenSessionResponse](ctx, c.cc, "OpenSession", in, opts)
}

func (c *ReportViewerClient) CloseSession(ctx context.Context, in *CloseSessionRequest, opts ...grpc.CallOption) (*CloseSessionResponse, error) {
	return invoke[CloseSessionResponse](ctx, c.cc, "CloseSession", in, opts)
}

func (c *ReportViewerClient) GetReport(ctx context.Context, in *GetReportRequest, opts ...grpc.CallOption) (*services.ReportView, error) {
	return invoke[services.ReportView](ctx, c.cc, "GetReport", in, opts)
}

func (c *ReportViewerClient) RunAction(ctx context.Context, in *RunActionRequest, opts ...grpc.CallOption) (*RunActionResponse, error) {
	return invoke[RunActionResponse](ctx, c.cc, "RunAction", in, opts)
}

func (c *ReportViewerClient) ListActions(ctx context.Context, in *ListActionsRequest, opts ...grpc.CallOption) (*ListActionsResponse, error) {
	return invoke[ListActionsResponse](ctx, c.cc, "ListActions", in, opts)
}

func (c *ReportViewerClient) ParseReport(ctx context.Context, in *ParseReportRequest, opts ...grpc.CallOption) (*services.ParseResult, error) {
	return invoke[services.ParseResult](ctx, c.cc, "ParseReport", in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
