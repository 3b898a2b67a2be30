// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avfield/kittifetch/pkg/kittiraw"
)

func newTestServer(t *testing.T, baseURL string) *Server {
	t.Helper()
	return New(testConfig(t, baseURL))
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["version"] != serverVersion {
		t.Errorf("Expected version %s, got %v", serverVersion, resp["version"])
	}
}

func TestAPI_GetSettings(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	req := httptest.NewRequest("GET", "/api/settings", nil)
	w := httptest.NewRecorder()

	srv.handleGetSettings(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp SettingsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.DataRoot != srv.config.DataRoot {
		t.Errorf("Expected dataRoot %s, got %s", srv.config.DataRoot, resp.DataRoot)
	}
	if resp.Transport != kittiraw.TransportHTTPS {
		t.Errorf("Expected https transport, got %s", resp.Transport)
	}
	if resp.Retries != 0 {
		t.Errorf("Expected 0 retries, got %d", resp.Retries)
	}
}

func TestAPI_UpdateSettings(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	body := `{"retries": 2, "transport": "s3"}`
	req := httptest.NewRequest("POST", "/api/settings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handleUpdateSettings(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// Verify changes applied
	if srv.config.Retries != 2 {
		t.Errorf("Expected retries 2, got %d", srv.config.Retries)
	}
	if srv.config.Transport != kittiraw.TransportS3 {
		t.Errorf("Expected s3 transport, got %s", srv.config.Transport)
	}
	if srv.jobs.config.Retries != 2 {
		t.Error("Job manager config should follow settings updates")
	}
}

func TestAPI_UpdateSettings_CantChangeDataRoot(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")
	originalRoot := srv.config.DataRoot

	// Try to inject a different target root (should be ignored)
	body := `{"dataRoot": "/etc/evil"}`
	req := httptest.NewRequest("POST", "/api/settings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handleUpdateSettings(w, req)

	// Root should NOT have changed
	if srv.config.DataRoot != originalRoot {
		t.Errorf("DataRoot should not be changeable via API! Got %s", srv.config.DataRoot)
	}
}

func TestAPI_UpdateSettings_RejectsUnknownTransport(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	body := `{"transport": "ftp"}`
	req := httptest.NewRequest("POST", "/api/settings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handleUpdateSettings(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if srv.config.Transport != kittiraw.TransportHTTPS {
		t.Errorf("Transport should be unchanged, got %s", srv.config.Transport)
	}
}

func TestAPI_StartFetch_ValidatesDates(t *testing.T) {
	bucket := archiveServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "unknown date",
			body:     `{"dates": ["2020_01_01"]}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			body:     `{"dates": "2011_09_26"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "valid date",
			body:     `{"max": 1, "dates": ["2011_09_26"]}`,
			wantCode: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, bucket.URL)

			req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			srv.handleStartFetch(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d. Body: %s", tt.wantCode, w.Code, w.Body.String())
			}

			// An accepted request spawned a real run; let it drain before
			// cleanup reclaims the temp root.
			if w.Code == http.StatusAccepted {
				var job Job
				json.Unmarshal(w.Body.Bytes(), &job)
				waitStatus(t, srv.jobs, job.ID, 10*time.Second)
			}
		})
	}
}

func TestAPI_StartFetch_RootIgnored(t *testing.T) {
	bucket := archiveServer(t)
	srv := newTestServer(t, bucket.URL)

	// Try to specify a custom target root
	body := `{"max": 1, "dates": ["2011_09_26"], "root": "/etc/evil"}`
	req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handleStartFetch(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	var resp Job
	json.Unmarshal(w.Body.Bytes(), &resp)

	// Root should be server-controlled, not from request
	if resp.Root == "/etc/evil" {
		t.Error("Root from request should be ignored!")
	}
	if resp.Root != srv.config.DataRoot {
		t.Errorf("Expected server-controlled root, got %s", resp.Root)
	}

	waitStatus(t, srv.jobs, resp.ID, 10*time.Second)
}

func TestAPI_StartFetch_DuplicateReturnsExisting(t *testing.T) {
	held, release := heldServer(t)
	srv := newTestServer(t, held.URL)

	body := `{"max": 1, "dates": ["2011_09_26"]}`

	// First request
	req1 := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req1.Header.Set("Content-Type", "application/json")
	w1 := httptest.NewRecorder()
	srv.handleStartFetch(w1, req1)

	if w1.Code != http.StatusAccepted {
		t.Fatalf("First request should return 202, got %d", w1.Code)
	}

	var job1 Job
	json.Unmarshal(w1.Body.Bytes(), &job1)

	// Second request (duplicate while the first is held mid-download)
	req2 := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	srv.handleStartFetch(w2, req2)

	if w2.Code != http.StatusOK {
		t.Fatalf("Duplicate request should return 200, got %d", w2.Code)
	}

	var resp map[string]any
	json.Unmarshal(w2.Body.Bytes(), &resp)

	if resp["message"] != "Fetch already in progress" {
		t.Errorf("Expected duplicate message, got %v", resp["message"])
	}

	jobMap := resp["job"].(map[string]any)
	if jobMap["id"] != job1.ID {
		t.Error("Duplicate should return same job ID")
	}

	// Unpark the held download and wait the run out so its goroutine is
	// done writing under the temp root before cleanup removes it.
	release()
	waitStatus(t, srv.jobs, job1.ID, 5*time.Second)
}

func TestAPI_StartFetch_DryRunReturnsPlan(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	body := `{"dryRun": true, "max": 2}`
	req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handleStartFetch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for dry-run, got %d", w.Code)
	}

	var plan kittiraw.Plan
	json.Unmarshal(w.Body.Bytes(), &plan)

	if len(plan.Items) != 2 {
		t.Errorf("Expected 2 plan items, got %d", len(plan.Items))
	}
	if plan.Pending != 2 {
		t.Errorf("Expected 2 pending, got %d", plan.Pending)
	}

	// Dry-run must not create a job
	if jobs := srv.jobs.ListJobs(); len(jobs) != 0 {
		t.Errorf("Dry-run created %d jobs", len(jobs))
	}
}

func TestAPI_Plan_CountsExistingMarkers(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	// Mark the first catalog entry complete by hand.
	marker := kittiraw.Catalog()[0].MarkerPath(srv.config.DataRoot)
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(marker, []byte("calib\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	body := `{"max": 3}`
	req := httptest.NewRequest("POST", "/api/plan", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handlePlan(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var plan kittiraw.Plan
	json.Unmarshal(w.Body.Bytes(), &plan)

	if plan.Complete != 1 {
		t.Errorf("Expected 1 complete, got %d", plan.Complete)
	}
	if plan.Pending != 2 {
		t.Errorf("Expected 2 pending, got %d", plan.Pending)
	}
	if !plan.Items[0].Complete {
		t.Error("First item should be complete")
	}
}

func TestAPI_Plan_UnknownDate(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	body := `{"dates": ["2012_01_01"]}`
	req := httptest.NewRequest("POST", "/api/plan", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.handlePlan(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestAPI_Catalog(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")

	req := httptest.NewRequest("GET", "/api/catalog", nil)
	w := httptest.NewRecorder()

	srv.handleCatalog(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	count := int(resp["count"].(float64))
	if count != 66 {
		t.Errorf("Expected 66 catalog entries, got %d", count)
	}
	pending := int(resp["pending"].(float64))
	if pending != 66 {
		t.Errorf("Expected 66 pending on a fresh root, got %d", pending)
	}
	dates := resp["dates"].([]any)
	if len(dates) != 5 {
		t.Errorf("Expected 5 capture dates, got %d", len(dates))
	}
}

func TestAPI_ListJobs(t *testing.T) {
	bucket := archiveServer(t)
	srv := newTestServer(t, bucket.URL)

	// Create a job first
	body := `{"max": 1, "dates": ["2011_09_26"]}`
	req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleStartFetch(w, req)

	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)

	// List jobs
	listReq := httptest.NewRequest("GET", "/api/jobs", nil)
	listW := httptest.NewRecorder()
	srv.handleListJobs(listW, listReq)

	if listW.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", listW.Code)
	}

	var resp map[string]any
	json.Unmarshal(listW.Body.Bytes(), &resp)

	count := int(resp["count"].(float64))
	if count < 1 {
		t.Error("Expected at least 1 job")
	}

	waitStatus(t, srv.jobs, job.ID, 10*time.Second)
}

func TestAPI_JobRoutes(t *testing.T) {
	held, release := heldServer(t)
	srv := newTestServer(t, held.URL)
	handler := srv.Handler()
	defer release()

	// Start a job through the router
	body := `{"max": 1, "dates": ["2011_09_26"]}`
	req := httptest.NewRequest("POST", "/api/fetch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)

	// Wait for the run loop to pick the job up so the cancel below lands
	// on a running fetch, not a still-queued one.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := srv.jobs.GetJob(job.ID); ok && j.Status == JobStatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("get by id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/jobs/"+job.ID, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var got Job
		json.Unmarshal(w.Body.Bytes(), &got)
		if got.ID != job.ID {
			t.Errorf("Expected job %s, got %s", job.ID, got.ID)
		}
	})

	t.Run("get unknown id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/jobs/nope", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var resp SuccessResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if !resp.Success {
			t.Error("Expected success response")
		}
	})

	t.Run("cancel again", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for finished job, got %d", w.Code)
		}
	})
}

func TestAPI_StaticIndex(t *testing.T) {
	srv := newTestServer(t, "http://127.0.0.1:9")
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Expected html content type, got %s", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("kittifetch")) {
		t.Error("Dashboard page should mention kittifetch")
	}
}
