package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/report"
	"github.com/probelab/scrutiny/research"
	"github.com/probelab/scrutiny/runctl"
)

func testServer(t *testing.T, fn runctl.ResearchFunc, opts Options) (*Server, *httptest.Server, *evidence.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(evidence.Schema))
	store, err := evidence.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s := New(runctl.NewManager(fn, nil), store, report.New(store), nil, opts)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv, store
}

func completedState(company string) *research.State {
	thesis, _ := research.ThesisFor("general")
	return &research.State{
		RunID:          "run-internal",
		Company:        company,
		TargetURL:      "https://acme.test",
		Thesis:         thesis,
		Phase:          research.PhaseComplete,
		IterationCount: 1,
		MaxIterations:  5,
		StartedAt:      time.Now(),
		FinishedAt:     time.Now(),
	}
}

func startRun(t *testing.T, srv *httptest.Server, auth func(*http.Request)) *http.Response {
	t.Helper()
	body := `{"company":"Acme","target_url":"https://acme.test"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/runs", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if auth != nil {
		auth(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func awaitStatus(t *testing.T, srv *httptest.Server, id, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/runs/" + id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var entry map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if entry["status"] == want {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", id, want)
	return nil
}

func TestHealth(t *testing.T) {
	_, srv, _ := testServer(t, nil, Options{})
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
}

func TestStartRunLifecycle(t *testing.T) {
	fn := func(ctx context.Context, company, targetURL, thesis string) (*research.State, error) {
		return completedState(company), nil
	}
	_, srv, _ := testServer(t, fn, Options{})

	resp := startRun(t, srv, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", resp.StatusCode)
	}
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := started["id"]
	if id == "" {
		t.Fatal("no run id returned")
	}

	entry := awaitStatus(t, srv, id, "complete")
	if entry["state"] == nil {
		t.Error("completed run has no state attached")
	}

	// report is available once complete
	rp, err := http.Get(srv.URL + "/api/runs/" + id + "/report")
	if err != nil {
		t.Fatalf("Get report: %v", err)
	}
	defer rp.Body.Close()
	if rp.StatusCode != http.StatusOK {
		t.Errorf("report status %d, want 200", rp.StatusCode)
	}
	if ct := rp.Header.Get("Content-Type"); !strings.Contains(ct, "markdown") {
		t.Errorf("report content type %q", ct)
	}
}

func TestStartRunValidation(t *testing.T) {
	_, srv, _ := testServer(t, nil, Options{})

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", strings.NewReader(`{"company":"Acme"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing target_url: got %d, want 400", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/api/runs", "application/json",
		strings.NewReader(`{"company":"Acme","target_url":"https://acme.test","thesis":"nonsense"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown thesis: got %d, want 400", resp2.StatusCode)
	}
}

func TestBasicAuthOnMutatingRoutes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	fn := func(ctx context.Context, company, targetURL, thesis string) (*research.State, error) {
		return completedState(company), nil
	}
	_, srv, _ := testServer(t, fn, Options{AdminUser: "admin", AdminHash: string(hash)})

	if resp := startRun(t, srv, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: got %d, want 401", resp.StatusCode)
	}
	if resp := startRun(t, srv, func(r *http.Request) { r.SetBasicAuth("admin", "wrong") }); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", resp.StatusCode)
	}
	if resp := startRun(t, srv, func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") }); resp.StatusCode != http.StatusAccepted {
		t.Errorf("valid credentials: got %d, want 202", resp.StatusCode)
	}

	// reads stay open
	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list runs: got %d, want 200", resp.StatusCode)
	}
}

func TestRunEvidenceEndpoint(t *testing.T) {
	fn := func(ctx context.Context, company, targetURL, thesis string) (*research.State, error) {
		return completedState(company), nil
	}
	_, srv, store := testServer(t, fn, Options{})

	if err := store.Append(context.Background(), evidence.Item{
		ID: "e1", Company: "Acme", Type: "technology_stack",
		Source: evidence.Source{URL: "https://acme.test", Tool: "fingerprinter", CollectedAt: time.Now()},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	resp := startRun(t, srv, nil)
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	awaitStatus(t, srv, started["id"], "complete")

	er, err := http.Get(srv.URL + "/api/runs/" + started["id"] + "/evidence")
	if err != nil {
		t.Fatalf("Get evidence: %v", err)
	}
	defer er.Body.Close()
	var items []evidence.Item
	if err := json.NewDecoder(er.Body).Decode(&items); err != nil {
		t.Fatalf("decode evidence: %v", err)
	}
	if len(items) != 1 || items[0].ID != "e1" {
		t.Errorf("evidence = %+v", items)
	}
}

func TestRunNotFound(t *testing.T) {
	_, srv, _ := testServer(t, nil, Options{})
	resp, err := http.Get(srv.URL + "/api/runs/run_missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestFailedRunSurfacesError(t *testing.T) {
	fn := func(ctx context.Context, company, targetURL, thesis string) (*research.State, error) {
		st := completedState(company)
		st.Phase = research.PhaseError
		st.Err = "run deadline exceeded"
		return st, &research.RunError{RunID: st.RunID, Phase: research.PhaseError}
	}
	_, srv, _ := testServer(t, fn, Options{})

	resp := startRun(t, srv, nil)
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry := awaitStatus(t, srv, started["id"], "error")
	if entry["error"] == nil || entry["error"] == "" {
		t.Error("errored run has no error message")
	}
}
