package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FranksOps/dossier/internal/report"
	"github.com/FranksOps/dossier/internal/storage"
)

// backends serves the search API, the article pages and the chat
// completion endpoint from one test server.
func backends(t *testing.T) *httptest.Server {
	t.Helper()

	reply, _ := json.Marshal(map[string]any{
		"summary":     "Go makes concurrency approachable.",
		"key_points":  []string{"Goroutines are cheap", "Channels coordinate work"},
		"methodology": "Two web articles",
		"limitations": "Small sample",
	})

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results":[
			{"url":%q,"title":"Goroutines","content":"snippet","score":0.9},
			{"url":%q,"title":"Diagram","content":"image","score":0.4}
		]}`, srv.URL+"/articles/goroutines", srv.URL+"/diagram.png")
	})
	mux.HandleFunc("/articles/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Goroutines explained</title></head><body>
			<article><p>Goroutines are lightweight threads managed by the Go runtime.</p></article>
		</body></html>`)
	})
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": string(reply)},
				"finish_reason": "stop",
			}},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, dbPath, baseURL string, withLLM bool) {
	t.Helper()
	for _, name := range []string{"TAVILY_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "DATABASE_PATH", "DOSSIER_LLM_GOOGLE_API_KEY", "DOSSIER_LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	t.Setenv("DOSSIER_STORAGE_BACKEND", "json")
	t.Setenv("DOSSIER_STORAGE_DSN", dbPath)
	t.Setenv("DOSSIER_SEARCH_PROVIDER", "tavily")
	t.Setenv("DOSSIER_SEARCH_API_KEY", "tvly-test")
	t.Setenv("DOSSIER_SEARCH_BASE_URL", baseURL)
	t.Setenv("DOSSIER_EXTRACT_FINGERPRINT", "go")
	t.Setenv("DOSSIER_LOG_LEVEL", "error")
	if withLLM {
		t.Setenv("DOSSIER_LLM_OPENAI_API_KEY", "sk-test")
		t.Setenv("DOSSIER_LLM_OPENAI_BASE_URL", baseURL)
	} else {
		t.Setenv("DOSSIER_LLM_OPENAI_API_KEY", "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResearchThenBrowse(t *testing.T) {
	srv := backends(t)
	dir := t.TempDir()
	setEnv(t, filepath.Join(dir, "db.json"), srv.URL, true)

	out, err := execute(t, "research", "Go", "concurrency", "--format", "json")
	if err != nil {
		t.Fatalf("research failed: %v\n%s", err, out)
	}
	var doc report.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid json output: %v\n%s", err, out)
	}
	if !doc.Success || doc.Query != "Go concurrency" || doc.SourcesFound != 2 || doc.SourcesExtracted != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Report == nil || len(doc.Report.KeyPoints) != 2 || doc.Report.Provider != "openai" {
		t.Fatalf("unexpected report %+v", doc.Report)
	}

	out, err = execute(t, "reports", "--json")
	if err != nil {
		t.Fatalf("reports failed: %v", err)
	}
	var list []storage.QuerySummary
	if err := json.Unmarshal([]byte(out), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected reports output %s (%v)", out, err)
	}
	if list[0].ID != doc.QueryID || !list[0].HasReport || list[0].Status != storage.StatusCompleted {
		t.Errorf("unexpected summary %+v", list[0])
	}

	csvPath := filepath.Join(dir, "sources.csv")
	out, err = execute(t, "show", doc.QueryID, "--format", "markdown", "--sources-csv", csvPath)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "# Go concurrency") || !strings.Contains(out, "- Goroutines are cheap") {
		t.Errorf("unexpected markdown:\n%s", out)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("csv not written: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d (%v)", len(rows), err)
	}

	out, err = execute(t, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Queries:") || !strings.Contains(out, "completed:") {
		t.Errorf("unexpected stats output:\n%s", out)
	}

	out, _ = execute(t, "reports")
	if !strings.Contains(out, doc.QueryID) || !strings.Contains(out, "1/2") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestResearch_NoProviders(t *testing.T) {
	srv := backends(t)
	setEnv(t, filepath.Join(t.TempDir(), "db.json"), srv.URL, false)

	_, err := execute(t, "research", "anything")
	if err == nil || !strings.Contains(err.Error(), "no available LLM providers") {
		t.Errorf("expected missing provider error, got %v", err)
	}
}

func TestResearch_FailureExitsNonZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	setEnv(t, filepath.Join(t.TempDir(), "db.json"), srv.URL, true)

	out, err := execute(t, "research", "obscure")
	if err == nil || err.Error() != "No search results found" {
		t.Fatalf("expected search failure, got %v", err)
	}
	if !strings.Contains(out, "Error:    No search results found") {
		t.Errorf("expected the failure in the report output:\n%s", out)
	}
}

func TestShow_NotFound(t *testing.T) {
	setEnv(t, filepath.Join(t.TempDir(), "db.json"), "http://127.0.0.1:0", false)

	_, err := execute(t, "show", "missing-id")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestFlagValidation(t *testing.T) {
	setEnv(t, filepath.Join(t.TempDir(), "db.json"), "http://127.0.0.1:0", false)

	if _, err := execute(t, "reports", "--log-level", "loud"); err == nil {
		t.Error("expected invalid log level to fail")
	}
	if _, err := execute(t, "reports", "--limit", "0"); err == nil {
		t.Error("expected non-positive limit to fail")
	}
	if _, err := execute(t, "show", "x", "--format", "docx"); err == nil {
		t.Error("expected unknown format to fail")
	}
}
