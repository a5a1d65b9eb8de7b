package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/report-viewer/internal/actions"
	"github.com/miradorstack/report-viewer/internal/engine"
	"github.com/miradorstack/report-viewer/internal/metrics"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/parser"
	"github.com/miradorstack/report-viewer/internal/utils"
)

var (
	// ErrSessionNotFound is returned for unknown or closed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrReportNotLoaded is returned when an action targets a site whose report the session has not loaded.
	ErrReportNotLoaded = errors.New("report not loaded for site")
	// ErrAnomalyNotFound is returned when the identity is absent from the session's latest report.
	ErrAnomalyNotFound = errors.New("anomaly not found in report")
	// ErrActionInFlight is returned when a run for the same anomaly has not finished yet.
	ErrActionInFlight = errors.New("action already running for anomaly")
	// ErrInvalidArgument is returned for missing ids.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ReportSource fetches and regenerates raw diagnostic reports.
type ReportSource interface {
	FetchReport(ctx context.Context, siteID string) (models.RawReport, error)
	RegenerateReport(ctx context.Context, siteID string) error
}

// AnomalyState is an anomaly view merged with its action lifecycle.
type AnomalyState struct {
	models.AnomalyView
	State models.ActionState `json:"state"`
	Run   *models.ActionRun  `json:"run,omitempty"`
}

// ReportView is the parsed report for one site as seen from a session.
type ReportView struct {
	SessionID   string                  `json:"sessionId"`
	SiteID      string                  `json:"siteId"`
	Report      models.DiagnosticReport `json:"report"`
	Anomalies   []AnomalyState          `json:"anomalies"`
	SkippedRows int                     `json:"skippedRows"`
	GeneratedAt time.Time               `json:"generatedAt"`
	FetchedAt   time.Time               `json:"fetchedAt"`
}

// ActionEntry summarises one tracked anomaly identity within a session.
type ActionEntry struct {
	AnomalyID models.AnomalyID   `json:"anomalyId"`
	State     models.ActionState `json:"state"`
	Run       *models.ActionRun  `json:"run,omitempty"`
}

// ParseResult is the stateless output of ParseRaw.
type ParseResult struct {
	Report    models.DiagnosticReport `json:"report"`
	Anomalies []models.AnomalyView    `json:"anomalies"`
	Stats     parser.ParseStats       `json:"stats"`
}

// Session is the public description of an open viewer session.
type Session struct {
	ID        string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

type session struct {
	Session
	orchestrator *actions.Orchestrator
	feed         *actions.Feed

	// unix nanos of the last request that resolved this session
	lastSeen atomic.Int64
	streams  atomic.Int32
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	reports map[string]models.DiagnosticReport
}

func (sess *session) touch(now time.Time) {
	sess.lastSeen.Store(now.UnixNano())
}

func (sess *session) idleSince(cutoff time.Time) bool {
	return sess.lastSeen.Load() <= cutoff.UnixNano() &&
		sess.streams.Load() == 0 &&
		len(sess.orchestrator.Running()) == 0
}

// ViewerService owns viewer sessions and ties parsing, interpretation and action tracking together.
type ViewerService struct {
	logger      *slog.Logger
	source      ReportSource
	executor    actions.Executor
	interpreter engine.Source
	feedSize    int
	latencies   *utils.LatencyTracker
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewViewerService constructs the service facade. A nil interpreter uses the built-in rules.
func NewViewerService(logger *slog.Logger, source ReportSource, executor actions.Executor, interpreter engine.Source, feedSize int) *ViewerService {
	if logger == nil {
		logger = slog.Default()
	}
	if interpreter == nil {
		interpreter = engine.DefaultInterpreter()
	}
	return &ViewerService{
		logger:      logger,
		source:      source,
		executor:    executor,
		interpreter: interpreter,
		feedSize:    feedSize,
		latencies:   utils.NewLatencyTracker(1024),
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

// OpenSession creates a session with its own orchestrator and notification feed.
func (s *ViewerService) OpenSession() Session {
	feed := actions.NewFeed(s.feedSize)
	sess := &session{
		Session:      Session{ID: uuid.NewString(), CreatedAt: s.now().UTC()},
		feed:         feed,
		orchestrator: actions.NewOrchestrator(s.executor, feed, s.logger),
		reports:      make(map[string]models.DiagnosticReport),
		done:         make(chan struct{}),
	}
	sess.touch(s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Debug("session opened", slog.String("session_id", sess.ID))
	return sess.Session
}

// CloseSession waits for the session's in-flight runs and discards its state.
func (s *ViewerService) CloseSession(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.release(sess)
	s.logger.Debug("session closed", slog.String("session_id", sessionID))
	return nil
}

// EvictIdle drops sessions that no request has resolved for ttl. Sessions with
// runs in flight or an open notification stream are kept. A non-positive ttl
// evicts nothing.
func (s *ViewerService) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		if !sess.idleSince(cutoff) {
			continue
		}
		delete(s.sessions, id)
		idle = append(idle, sess)
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.release(sess)
		s.logger.Debug("idle session evicted", slog.String("session_id", sess.ID))
	}
	if len(idle) > 0 {
		s.logger.Info("evicted idle sessions", slog.Int("count", len(idle)), slog.Duration("idle_ttl", ttl))
	}
	return len(idle)
}

// ExpireIdle runs EvictIdle periodically until ctx is done.
func (s *ViewerService) ExpireIdle(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIdle(ttl)
		}
	}
}

// release marks the session done, which ends attached notification streams and
// refuses further dispatches, then waits out runs already in flight.
func (s *ViewerService) release(sess *session) {
	sess.mu.Lock()
	sess.doneOnce.Do(func() { close(sess.done) })
	sess.mu.Unlock()
	sess.orchestrator.Wait()
}

// GetReport fetches, parses and interprets a site's report and records it as the
// session's latest report for that site.
func (s *ViewerService) GetReport(ctx context.Context, sessionID, siteID string) (ReportView, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return ReportView{}, err
	}
	if strings.TrimSpace(siteID) == "" {
		return ReportView{}, fmt.Errorf("%w: site id is required", ErrInvalidArgument)
	}
	if s.source == nil {
		return ReportView{}, fmt.Errorf("report source not configured")
	}

	start := time.Now()
	raw, err := s.source.FetchReport(ctx, siteID)
	if err != nil {
		s.logger.Error("fetch report failed", slog.String("site_id", siteID), slog.Any("error", err))
		return ReportView{}, fmt.Errorf("fetch report: %w", err)
	}

	report, stats := parser.ParseWithStats(raw.Content)
	metrics.ObserveParse(len(report.Anomalies), stats.SkippedRows)
	s.observeLatency(time.Since(start))

	sess.mu.Lock()
	sess.reports[siteID] = report
	sess.mu.Unlock()

	return ReportView{
		SessionID:   sessionID,
		SiteID:      siteID,
		Report:      report,
		Anomalies:   s.merge(sess.orchestrator, s.interpreter.Current().Views(report)),
		SkippedRows: stats.SkippedRows,
		GeneratedAt: raw.GeneratedAt,
		FetchedAt:   raw.FetchedAt,
	}, nil
}

// Regenerate asks the backend to rebuild the site's report. The next GetReport returns the new one.
func (s *ViewerService) Regenerate(ctx context.Context, sessionID, siteID string) error {
	if _, err := s.session(sessionID); err != nil {
		return err
	}
	if strings.TrimSpace(siteID) == "" {
		return fmt.Errorf("%w: site id is required", ErrInvalidArgument)
	}
	if s.source == nil {
		return fmt.Errorf("report source not configured")
	}
	if err := s.source.RegenerateReport(ctx, siteID); err != nil {
		return fmt.Errorf("regenerate report: %w", err)
	}
	s.logger.Info("report regeneration requested", slog.String("site_id", siteID), slog.String("session_id", sessionID))
	return nil
}

// RunAction starts a remediation run for the anomaly identified by anomalyID in
// the session's latest report for siteID. It returns once the run is dispatched.
func (s *ViewerService) RunAction(ctx context.Context, sessionID, siteID string, anomalyID models.AnomalyID) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(siteID) == "" || strings.TrimSpace(string(anomalyID)) == "" {
		return fmt.Errorf("%w: site id and anomaly id are required", ErrInvalidArgument)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	select {
	case <-sess.done:
		return ErrSessionNotFound
	default:
	}
	report, ok := sess.reports[siteID]
	if !ok {
		return ErrReportNotLoaded
	}
	anomaly, ok := findAnomaly(report, anomalyID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAnomalyNotFound, anomalyID)
	}
	// Dispatch marks the identity running before returning, so holding sess.mu
	// across the check and the dispatch keeps one run per identity.
	if sess.orchestrator.IsRunning(anomalyID) {
		return fmt.Errorf("%w: %s", ErrActionInFlight, anomalyID)
	}
	sess.orchestrator.Dispatch(ctx, siteID, anomaly)
	s.logger.Info("action dispatched", slog.String("session_id", sessionID), slog.String("site_id", siteID), slog.String("anomaly_id", string(anomalyID)))
	return nil
}

// ListActions returns every identity the session has run or is running, ordered by id.
func (s *ViewerService) ListActions(sessionID string) ([]ActionEntry, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.AnomalyID]struct{})
	for id := range sess.orchestrator.Results() {
		seen[id] = struct{}{}
	}
	for _, id := range sess.orchestrator.Running() {
		seen[id] = struct{}{}
	}

	entries := make([]ActionEntry, 0, len(seen))
	for id := range seen {
		entries = append(entries, s.entry(sess.orchestrator, id))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AnomalyID < entries[j].AnomalyID })
	return entries, nil
}

// Notifications returns the session's notifications newer than the given sequence number.
func (s *ViewerService) Notifications(sessionID string, since uint64) ([]actions.Notification, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.feed.Since(since), nil
}

// StreamNotifications calls send with each batch of notifications newer than
// since, blocking between batches, until ctx is done or send fails.
func (s *ViewerService) StreamNotifications(ctx context.Context, sessionID string, since uint64, send func([]actions.Notification) error) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	sess.streams.Add(1)
	defer func() {
		sess.touch(s.now())
		sess.streams.Add(-1)
	}()
	for {
		changed := sess.feed.Changed()
		if notes := sess.feed.Since(since); len(notes) > 0 {
			if err := send(notes); err != nil {
				return err
			}
			since = notes[len(notes)-1].Seq
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.done:
			return ErrSessionNotFound
		case <-changed:
		}
	}
}

// ParseRaw parses and interprets a raw payload without touching any session.
func (s *ViewerService) ParseRaw(raw string) ParseResult {
	report, stats := parser.ParseWithStats(raw)
	metrics.ObserveParse(len(report.Anomalies), stats.SkippedRows)
	return ParseResult{
		Report:    report,
		Anomalies: s.interpreter.Current().Views(report),
		Stats:     stats,
	}
}

// Wait blocks until every dispatched run across all sessions has finished.
func (s *ViewerService) Wait() {
	s.mu.RLock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.RUnlock()

	for _, sess := range open {
		sess.orchestrator.Wait()
	}
}

func (s *ViewerService) session(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *ViewerService) merge(orch *actions.Orchestrator, views []models.AnomalyView) []AnomalyState {
	out := make([]AnomalyState, 0, len(views))
	for _, view := range views {
		entry := s.entry(orch, view.ID)
		out = append(out, AnomalyState{AnomalyView: view, State: entry.State, Run: entry.Run})
	}
	return out
}

func (s *ViewerService) entry(orch *actions.Orchestrator, id models.AnomalyID) ActionEntry {
	entry := ActionEntry{AnomalyID: id, State: orch.StatusOf(id)}
	if run, ok := orch.ResultOf(id); ok {
		entry.Run = &run
	}
	return entry
}

func (s *ViewerService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("report load latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func findAnomaly(report models.DiagnosticReport, id models.AnomalyID) (models.Anomaly, bool) {
	for _, a := range report.Anomalies {
		if models.IdentityOf(a) == id {
			return a, true
		}
	}
	return models.Anomaly{}, false
}
