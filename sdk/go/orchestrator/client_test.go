package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPostMessageSendsBearerToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/threads/t-1/messages" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["message"] != "send 1 eth" {
			t.Fatalf("unexpected message %q", body["message"])
		}
		_ = json.NewEncoder(w).Encode(Outcome{
			ThreadID:  "t-1",
			Status:    "waiting",
			Interrupt: &Interrupt{Question: "approve?", Kind: "review"},
		})
	}))
	client.SetAccessToken("tok")

	out, err := client.PostMessage(context.Background(), "t-1", "send 1 eth")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if !out.Waiting() || out.Interrupt.Question != "approve?" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestResumeReturnsAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "ORCH_NO_PENDING_INTERRUPT", "error": "nothing pending"})
	}))

	_, err := client.Resume(context.Background(), "t-1", "yes", "approve")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "ORCH_NO_PENDING_INTERRUPT" || apiErr.Message != "nothing pending" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestSubmitMessageAndWaitForJob(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/threads/t-2/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("async") != "true" {
			t.Fatalf("expected async query, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Job{ID: "job-1", ThreadID: "t-2", Status: "pending"})
	})
	mux.HandleFunc("GET /api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if polls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Status: status, Outcome: &Outcome{Answer: "done"}})
	})
	client := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	submitted, err := client.SubmitMessage(ctx, "t-2", "hello", "job-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID != "job-1" {
		t.Fatalf("unexpected job id %q", submitted.ID)
	}
	done, err := client.WaitForJob(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || done.Outcome.Answer != "done" {
		t.Fatalf("unexpected job: %+v", done)
	}
}

func TestJobsEncodesFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed,waiting" || q.Get("thread") != "t-3" || q.Get("limit") != "5" || q.Get("order") != "asc" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []Job{{ID: "a"}, {ID: "b"}}})
	}))

	jobs, err := client.Jobs(context.Background(), JobFilter{
		Statuses: []string{"failed", "waiting"},
		ThreadID: "t-3",
		Limit:    5,
		Asc:      true,
	})
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
}
