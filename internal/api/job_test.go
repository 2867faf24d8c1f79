package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/courier/internal/model"
)

func submitJob(t *testing.T, ts *httptest.Server, body string) *model.Job {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var job model.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &job
}

// waitJob blocks on the long-poll endpoint until the job finishes.
func waitJob(t *testing.T, ts *httptest.Server, id string) *model.Job {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/v1/jobs/" + id + "/wait")
	if err != nil {
		t.Fatalf("GET /v1/jobs/%s/wait: %v", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, want 200", resp.StatusCode)
	}
	var job model.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &job
}

func TestSubmitJobValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"fetch","reference":"folder-ref","user_id":"u1"}`)

	if len(job.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(job.ID))
	}
	if job.State != model.StateQueued {
		t.Errorf("State = %q, want %q", job.State, model.StateQueued)
	}
	if job.Kind != model.KindFetch {
		t.Errorf("Kind = %q, want %q", job.Kind, model.KindFetch)
	}
	// Stored defaults applied at submission.
	if job.Settings.Prefix != "file" || !job.Settings.RunRelabel {
		t.Errorf("Settings = %+v, want stored defaults", job.Settings)
	}
}

func TestSubmitJobOverridesSettings(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"fetch","reference":"ref","user_id":"u1","prefix":"trip","run_relabel":false}`)

	if job.Settings.Prefix != "trip" {
		t.Errorf("Prefix = %q, want %q", job.Settings.Prefix, "trip")
	}
	if job.Settings.RunRelabel {
		t.Error("RunRelabel = true, want overridden to false")
	}
}

func TestSubmitJobValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", "not json"},
		{"unknown kind", `{"kind":"mirror","reference":"ref"}`},
		{"fetch without reference", `{"kind":"fetch"}`},
		{"publish without folder", `{"kind":"publish"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("POST /v1/jobs: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var errResp map[string]string
			json.NewDecoder(resp.Body).Decode(&errResp)
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/01JUNKJUNKJUNKJUNKJUNKJUNK")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"full","reference":"ref","user_id":"u1","prefix":"trip"}`)
	final := waitJob(t, ts, job.ID)

	if final.State != model.StateSucceeded {
		t.Fatalf("state = %s (%s: %s), want succeeded", final.State, final.ErrKind, final.ErrMessage)
	}
	if final.Result == nil || final.Result.FilesFetched != 2 {
		t.Errorf("result = %+v, want 2 files fetched", final.Result)
	}
	if len(final.Result.Links) != 1 {
		t.Errorf("links = %v, want one video link", final.Result.Links)
	}
}

func TestListJobsFilterByState(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"fetch","reference":"ref","user_id":"u1","run_relabel":false}`)
	waitJob(t, ts, job.ID)

	resp, err := http.Get(ts.URL + "/v1/jobs?state=succeeded")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	var list listJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if list.Total != 1 || len(list.Jobs) != 1 {
		t.Fatalf("total = %d, jobs = %d, want 1 and 1", list.Total, len(list.Jobs))
	}
	if list.Jobs[0].ID != job.ID {
		t.Errorf("listed job = %s, want %s", list.Jobs[0].ID, job.ID)
	}
}

func TestJobOverview(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"fetch","reference":"ref","user_id":"u1","run_relabel":false}`)
	waitJob(t, ts, job.ID)

	resp, err := http.Get(ts.URL + "/v1/jobs/overview")
	if err != nil {
		t.Fatalf("GET /v1/jobs/overview: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var overview struct {
		QueuedCount     int          `json:"queued_count"`
		Active          []*model.Job `json:"active"`
		RecentCompleted []*model.Job `json:"recent_completed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&overview); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if overview.QueuedCount != 0 || len(overview.Active) != 0 {
		t.Errorf("overview = %+v, want nothing queued or active", overview)
	}
	if len(overview.RecentCompleted) != 1 || overview.RecentCompleted[0].ID != job.ID {
		t.Errorf("RecentCompleted = %v, want the finished job", overview.RecentCompleted)
	}
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	job := submitJob(t, ts, `{"kind":"fetch","reference":"ref","user_id":"u1","run_relabel":false}`)
	waitJob(t, ts, job.ID)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/jobs/"+job.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelUnknownJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/jobs/01JUNKJUNKJUNKJUNKJUNKJUNK", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.PoolSize != 1 || status.CurrentCredential != "primary" {
		t.Errorf("pool status = %+v", status.SystemStatus)
	}
	if status.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want default 2", status.MaxConcurrent)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"prefix":"holiday","run_relabel":true,"run_publish":false,"run_cleanup":true}`
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings/u1", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /v1/settings/u1: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/v1/settings/u1")
	if err != nil {
		t.Fatalf("GET /v1/settings/u1: %v", err)
	}
	defer getResp.Body.Close()

	var cfg model.Settings
	if err := json.NewDecoder(getResp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg.Prefix != "holiday" || cfg.RunPublish {
		t.Errorf("settings = %+v, want the saved values", cfg)
	}
}

func TestUpdateSettingsRequiresPrefix(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings/u1",
		bytes.NewBufferString(`{"run_relabel":true}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
