package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const sampleReport = `# SEO Diagnostic Report

**Domain:** %s
**Period:** %s

## Health Checks

| Check | Status |
|-------|--------|
| Search Console connection | ✅ OK |
| Analytics tracking | ⚠️ Warning: gaps on 2 days |
| Sitemap | ❌ Missing |

**Total Drops Detected:** 3

## Detected Drops

| Date | Source | Metric | Drop %% | Value | 7d Avg | Z-Score |
|------|--------|--------|--------|-------|--------|---------|
| 2024-03-01 | GSC | Clicks | -62%% | 120 | 320 | -3.4 |
| 2024-03-02 | GA4 | Sessions | -28%% | 1,450 | 2,010 | -2.2 |
| 2024-03-03 | GSC | Impressions | -15%% | 9,800 | 11,200 | -1.1 |

## Root Cause Analysis

### 1. Core algorithm update 🔴
### 2. Tracking tag removed from templates 🟡
### 3. Seasonal demand 🟢
`

type actionRequest struct {
	SiteID  string `json:"siteId"`
	Anomaly struct {
		Date   string `json:"date"`
		Source string `json:"source"`
		Metric string `json:"metric"`
	} `json:"anomaly"`
	EnrichOnly bool `json:"enrichOnly"`
}

type reportStore struct {
	mu          sync.Mutex
	generatedAt map[string]time.Time
	runs        int
}

func main() {
	store := &reportStore{generatedAt: make(map[string]time.Time)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/sites/{siteId}/diagnostic-report", func(w http.ResponseWriter, r *http.Request) {
		site := r.PathValue("siteId")
		generated := store.generated(site)
		writeJSON(w, http.StatusOK, map[string]any{
			"siteId":      site,
			"content":     fmt.Sprintf(sampleReport, site+".example.com", generated.Format("2006-01-02")),
			"generatedAt": generated,
		})
	})

	mux.HandleFunc("POST /api/sites/{siteId}/diagnostic-report/regenerate", func(w http.ResponseWriter, r *http.Request) {
		store.regenerate(r.PathValue("siteId"))
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
	})

	mux.HandleFunc("POST /api/actions/run", func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid action payload"})
			return
		}
		if strings.HasPrefix(req.SiteID, "broken") {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "Site is not connected to Search Console"})
			return
		}
		// simulate the remediation job
		time.Sleep(750 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{
			"runId":  fmt.Sprintf("run-%d", store.nextRun()),
			"status": "completed",
			"output": map[string]any{
				"findings":  []string{fmt.Sprintf("%s %s dropped on %s", req.Anomaly.Source, req.Anomaly.Metric, req.Anomaly.Date)},
				"changes":   []string{},
				"nextSteps": []string{"Review affected landing pages", "Request reindexing for updated pages"},
				"summary":   "Drop traced to ranking loss on a handful of landing pages",
			},
		})
	})

	logger := log.New(log.Writer(), "dashboard-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              ":3000",
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Println("listening on :3000")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func (s *reportStore) generated(site string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.generatedAt[site]; ok {
		return t
	}
	t := time.Now().UTC().Add(-time.Hour)
	s.generatedAt[site] = t
	return t
}

func (s *reportStore) regenerate(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generatedAt[site] = time.Now().UTC()
}

func (s *reportStore) nextRun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.runs
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
