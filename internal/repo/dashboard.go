package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/report-viewer/internal/cache"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/utils"
)

const sitePlaceholder = "{siteId}"

// ErrRegenerationInProgress is returned when a regeneration for the same site is already running.
var ErrRegenerationInProgress = errors.New("report regeneration already in progress")

// DashboardClient wraps the dashboard backend endpoints the viewer depends on.
type DashboardClient struct {
	baseURL        string
	reportPath     string
	regeneratePath string
	actionPath     string
	httpClient     *http.Client
	cache          cache.Provider
	reportTTL      time.Duration
	regenerateTTL  time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewDashboardClient constructs a client targeting the configured backend. Paths may
// contain {siteId}, which is replaced by the site id.
func NewDashboardClient(baseURL, reportPath, regeneratePath, actionPath string, timeout time.Duration, cacheProvider cache.Provider, reportTTL time.Duration, logger *slog.Logger) *DashboardClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	regenerateTTL := timeout
	if regenerateTTL <= 0 {
		regenerateTTL = 30 * time.Second
	}
	return &DashboardClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		reportPath:     reportPath,
		regeneratePath: regeneratePath,
		actionPath:     actionPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:         cacheProvider,
		reportTTL:     reportTTL,
		regenerateTTL: regenerateTTL,
		logger:        logger,
		now:           time.Now,
	}
}

// FetchReport returns the raw report payload for a site, served from cache when possible.
func (c *DashboardClient) FetchReport(ctx context.Context, siteID string) (models.RawReport, error) {
	if err := c.ready(siteID); err != nil {
		return models.RawReport{}, err
	}

	key := cache.ReportKey(siteID)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var cached models.RawReport
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		c.logger.Warn("discarding undecodable cached report", slog.String("site_id", siteID))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("report cache lookup failed", slog.String("site_id", siteID), slog.Any("error", err))
	}

	var response struct {
		SiteID      string    `json:"siteId"`
		Content     string    `json:"content"`
		GeneratedAt time.Time `json:"generatedAt"`
	}
	if err := c.doJSON(ctx, "fetch report", http.MethodGet, c.resolvePath(c.reportPath, siteID), nil, &response); err != nil {
		return models.RawReport{}, fmt.Errorf("dashboard report request failed: %w", err)
	}

	report := models.RawReport{
		SiteID:      firstNonEmpty(response.SiteID, siteID),
		Content:     response.Content,
		GeneratedAt: response.GeneratedAt,
		FetchedAt:   c.now().UTC(),
	}
	if data, err := json.Marshal(report); err == nil {
		if err := c.cache.Set(ctx, key, data, c.reportTTL); err != nil {
			c.logger.Warn("report cache store failed", slog.String("site_id", siteID), slog.Any("error", err))
		}
	}
	return report, nil
}

// RegenerateReport asks the backend to rebuild a site's report and drops the cached copy.
// Concurrent regenerations for one site are collapsed into the first.
func (c *DashboardClient) RegenerateReport(ctx context.Context, siteID string) error {
	if err := c.ready(siteID); err != nil {
		return err
	}

	guard := cache.RegenerateKey(siteID)
	acquired, err := c.cache.SetNX(ctx, guard, []byte(c.now().UTC().Format(time.RFC3339)), c.regenerateTTL)
	if err != nil {
		c.logger.Warn("regeneration guard unavailable", slog.String("site_id", siteID), slog.Any("error", err))
	} else if !acquired {
		return ErrRegenerationInProgress
	}
	defer func() {
		if err := c.cache.Del(context.WithoutCancel(ctx), guard); err != nil {
			c.logger.Warn("release regeneration guard", slog.String("site_id", siteID), slog.Any("error", err))
		}
	}()

	if err := c.doJSON(ctx, "regenerate report", http.MethodPost, c.resolvePath(c.regeneratePath, siteID), nil, nil); err != nil {
		return fmt.Errorf("dashboard regenerate request failed: %w", err)
	}
	if err := c.cache.Del(ctx, cache.ReportKey(siteID)); err != nil {
		c.logger.Warn("invalidate cached report", slog.String("site_id", siteID), slog.Any("error", err))
	}
	return nil
}

// RunAction submits a remediation request for one anomaly.
func (c *DashboardClient) RunAction(ctx context.Context, req models.ActionRequest) (models.ActionRun, error) {
	if err := c.ready(req.SiteID); err != nil {
		return models.ActionRun{}, err
	}

	var response struct {
		RunID  string               `json:"runId"`
		Status string               `json:"status"`
		Output *models.ActionOutput `json:"output"`
	}
	if err := c.doJSON(ctx, "run action", http.MethodPost, c.resolvePath(c.actionPath, req.SiteID), req, &response); err != nil {
		return models.ActionRun{}, fmt.Errorf("dashboard action request failed: %w", err)
	}

	return models.ActionRun{
		RunID:     response.RunID,
		Status:    normaliseRunStatus(response.Status),
		Output:    response.Output,
		CreatedAt: c.now().UTC(),
	}, nil
}

func (c *DashboardClient) ready(siteID string) error {
	if c == nil {
		return fmt.Errorf("dashboard client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("dashboard base URL not configured")
	}
	if strings.TrimSpace(siteID) == "" {
		return fmt.Errorf("site id is required")
	}
	return nil
}

func (c *DashboardClient) resolvePath(p, siteID string) string {
	p = strings.ReplaceAll(p, sitePlaceholder, siteID)
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *DashboardClient) doJSON(ctx context.Context, op, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &utils.AppError{
			Op:     op,
			Msg:    serverMessage(resp.Body),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("dashboard returned %s", resp.Status),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// serverMessage extracts the backend's error text from a JSON error body.
func serverMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return firstNonEmpty(payload.Error, payload.Message)
}

func normaliseRunStatus(status string) models.RunStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "pending":
		return models.RunQueued
	case "running", "in_progress", "processing":
		return models.RunRunning
	case "done", "completed", "complete", "success", "succeeded":
		return models.RunDone
	case "failed", "error":
		return models.RunFailed
	case "":
		return models.RunDone
	default:
		return models.RunStatus(strings.ToLower(status))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
