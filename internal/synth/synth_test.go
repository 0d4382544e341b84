package synth

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/FranksOps/dossier/internal/extract"
	"github.com/FranksOps/dossier/internal/llm"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

const wellFormed = `{"summary":"Go is fast.","key_points":["Compiles quickly","Simple concurrency"],"methodology":"Read docs","limitations":"Few sources"}`

func sources() []extract.Result {
	return []extract.Result{
		{URL: "https://a.example/1", Title: "First", Content: "alpha content", Success: true},
		{URL: "https://b.example/2", Error: "Failed to fetch content: 404 Not Found for url: https://b.example/2"},
		{URL: "https://c.example/3", Title: "", Content: "gamma content", Success: true},
		{URL: "https://d.example/4", Success: true},
	}
}

func rateLimited(provider string) error {
	return &llm.Error{Provider: provider, Retryable: true, Err: errors.New("429 Too Many Requests")}
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil, nil, Config{})
	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
	}
	if _, err := New(nil, &fakeProvider{name: "gemini"}, Config{}); err != nil {
		t.Fatalf("secondary alone should be accepted: %v", err)
	}
}

func TestSynthesize_Primary(t *testing.T) {
	primary := &fakeProvider{name: "openai", text: wellFormed}
	secondary := &fakeProvider{name: "gemini", text: wellFormed}
	s, _ := New(primary, secondary, Config{})

	report, err := s.Synthesize(context.Background(), "Benefits of Go", sources())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if primary.calls != 1 || secondary.calls != 0 {
		t.Errorf("expected only primary to be called, got %d/%d", primary.calls, secondary.calls)
	}
	if report.SourcesAnalyzed != 2 {
		t.Errorf("expected 2 sources analyzed, got %d", report.SourcesAnalyzed)
	}
	if report.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", report.Provider)
	}
	if report.Summary != "Go is fast." {
		t.Errorf("unexpected summary %q", report.Summary)
	}

	req := primary.last
	if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected sampling params %+v", req)
	}
	if req.System == "" || !strings.Contains(req.System, `"key_points"`) {
		t.Errorf("system prompt should describe the JSON shape")
	}
	for _, want := range []string{
		"Research Query: Benefits of Go\n",
		"--- Source 1: First ---\nURL: https://a.example/1\nContent: alpha content",
		"--- Source 2: Untitled ---\nURL: https://c.example/3\nContent: gamma content",
	} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}
	if strings.Contains(req.Prompt, "b.example") || strings.Contains(req.Prompt, "d.example") {
		t.Errorf("prompt should only include successful sources with content")
	}
}

func TestSynthesize_NoContent(t *testing.T) {
	primary := &fakeProvider{name: "openai", text: wellFormed}
	s, _ := New(primary, nil, Config{})

	failed := []extract.Result{{URL: "https://x.example", Error: "boom"}, {URL: "https://y.example", Success: true}}
	_, err := s.Synthesize(context.Background(), "q", failed)

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if f.Summary != NoContentSummary || !errors.Is(err, ErrNoContent) {
		t.Errorf("unexpected failure %+v", f)
	}
	if primary.calls != 0 {
		t.Errorf("no provider should be called, got %d calls", primary.calls)
	}
}

func TestSynthesize_Fallback(t *testing.T) {
	tests := []struct {
		name           string
		primary        *fakeProvider
		secondary      *fakeProvider
		wantSecondary  int
		wantErr        bool
		wantNoProvider bool
		wantProvider   string
	}{
		{
			name:          "retryable primary falls back once",
			primary:       &fakeProvider{name: "openai", err: rateLimited("openai")},
			secondary:     &fakeProvider{name: "gemini", text: wellFormed},
			wantSecondary: 1,
			wantProvider:  "gemini",
		},
		{
			name:          "non-retryable primary surfaces",
			primary:       &fakeProvider{name: "openai", err: &llm.Error{Provider: "openai", Err: errors.New("invalid api key")}},
			secondary:     &fakeProvider{name: "gemini", text: wellFormed},
			wantSecondary: 0,
			wantErr:       true,
		},
		{
			name:          "unclassified primary error surfaces",
			primary:       &fakeProvider{name: "openai", err: errors.New("quota exceeded")},
			secondary:     &fakeProvider{name: "gemini", text: wellFormed},
			wantSecondary: 0,
			wantErr:       true,
		},
		{
			name:           "retryable primary without secondary",
			primary:        &fakeProvider{name: "openai", err: rateLimited("openai")},
			wantErr:        true,
			wantNoProvider: true,
		},
		{
			name:          "secondary error surfaces",
			primary:       &fakeProvider{name: "openai", err: rateLimited("openai")},
			secondary:     &fakeProvider{name: "gemini", err: rateLimited("gemini")},
			wantSecondary: 1,
			wantErr:       true,
		},
		{
			name:          "secondary only",
			secondary:     &fakeProvider{name: "gemini", text: wellFormed},
			wantSecondary: 1,
			wantProvider:  "gemini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var primary, secondary llm.Provider
			if tt.primary != nil {
				primary = tt.primary
			}
			if tt.secondary != nil {
				secondary = tt.secondary
			}
			s, err := New(primary, secondary, Config{})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			report, err := s.Synthesize(context.Background(), "q", sources())

			if tt.primary != nil && tt.primary.calls != 1 {
				t.Errorf("primary called %d times, want 1", tt.primary.calls)
			}
			if tt.secondary != nil && tt.secondary.calls != tt.wantSecondary {
				t.Errorf("secondary called %d times, want %d", tt.secondary.calls, tt.wantSecondary)
			}

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if report.Provider != tt.wantProvider {
					t.Errorf("provider = %q, want %q", report.Provider, tt.wantProvider)
				}
				return
			}

			var f *Failure
			if !errors.As(err, &f) {
				t.Fatalf("expected *Failure, got %T %v", err, err)
			}
			if !strings.HasPrefix(f.Summary, "Failed to generate report: ") {
				t.Errorf("unexpected summary %q", f.Summary)
			}
			if errors.Is(err, ErrNoProviderAvailable) != tt.wantNoProvider {
				t.Errorf("errors.Is(ErrNoProviderAvailable) = %v, want %v", !tt.wantNoProvider, tt.wantNoProvider)
			}
		})
	}
}

func TestSynthesize_ConfigOverrides(t *testing.T) {
	p := &fakeProvider{name: "openai", text: wellFormed}
	s, _ := New(p, nil, Config{Temperature: 0.7, MaxTokens: 400})
	if _, err := s.Synthesize(context.Background(), "q", sources()); err != nil {
		t.Fatal(err)
	}
	if p.last.Temperature != 0.7 || p.last.MaxTokens != 400 {
		t.Errorf("expected overrides to reach the provider, got %+v", p.last)
	}
}

func TestSourceDigest_Truncates(t *testing.T) {
	long := strings.Repeat("é", maxSourceChars+10)
	digest := sourceDigest("q", []extract.Result{{URL: "https://a", Title: "T", Content: long, Success: true}})

	want := "Content: " + strings.Repeat("é", maxSourceChars) + "...\n[Content truncated]"
	if !strings.HasSuffix(digest, want) {
		t.Errorf("expected truncated content with marker")
	}

	exact := strings.Repeat("x", maxSourceChars)
	digest = sourceDigest("q", []extract.Result{{URL: "https://a", Content: exact, Success: true}})
	if strings.Contains(digest, "[Content truncated]") {
		t.Errorf("content at the limit should not be truncated")
	}
}

func TestParseResponse_WellFormedUnchanged(t *testing.T) {
	inputs := []string{
		wellFormed,
		"```json\n" + wellFormed + "\n```",
		"```\n" + wellFormed + "\n```",
		"  \n" + wellFormed + "\n  ",
	}
	want := &Report{
		Summary:     "Go is fast.",
		KeyPoints:   []string{"Compiles quickly", "Simple concurrency"},
		Methodology: "Read docs",
		Limitations: "Few sources",
	}
	for _, in := range inputs {
		if got := ParseResponse(in); !reflect.DeepEqual(got, want) {
			t.Errorf("ParseResponse(%q) = %+v, want %+v", in, got, want)
		}
	}
}

func TestParseResponse_MissingFields(t *testing.T) {
	got := ParseResponse(`{"summary":"Only a summary"}`)
	want := &Report{
		Summary:     "Only a summary",
		KeyPoints:   []string{"No key_points provided"},
		Methodology: "No methodology provided",
		Limitations: "No limitations provided",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	got = ParseResponse(`{"summary":null,"key_points":"single point","methodology":42,"limitations":"ok"}`)
	if got.Summary != "No summary provided" {
		t.Errorf("null summary should get a placeholder, got %q", got.Summary)
	}
	if !reflect.DeepEqual(got.KeyPoints, []string{"single point"}) {
		t.Errorf("string key_points should become one item, got %v", got.KeyPoints)
	}
	if got.Methodology != "42" {
		t.Errorf("non-string fields keep their JSON text, got %q", got.Methodology)
	}

	got = ParseResponse(`{"summary":"s","key_points":[],"methodology":"m","limitations":"l"}`)
	if got.KeyPoints == nil || len(got.KeyPoints) != 0 {
		t.Errorf("empty key_points should stay an empty list, got %#v", got.KeyPoints)
	}
}

func TestParseResponse_PlainText(t *testing.T) {
	text := "Here is what I found.\n\n- First point\n* Second point\n• Third point\n---\n**Bold heading**\n- Fourth\n- Fifth\n- Sixth"
	got := ParseResponse(text)

	if got.Summary != text {
		t.Errorf("short text should be the summary, got %q", got.Summary)
	}
	wantPoints := []string{"First point", "Second point", "Third point", "Fourth", "Fifth"}
	if !reflect.DeepEqual(got.KeyPoints, wantPoints) {
		t.Errorf("key points = %v, want %v", got.KeyPoints, wantPoints)
	}
	if got.Methodology != fallbackMethodology || got.Limitations != fallbackLimitations {
		t.Errorf("unexpected fallback notes %+v", got)
	}

	long := strings.Repeat("a", 600)
	got = ParseResponse(long)
	if got.Summary != strings.Repeat("a", 500)+"..." {
		t.Errorf("long text should be cut to 500 characters with an ellipsis")
	}
}

func TestParseResponse_AlwaysComplete(t *testing.T) {
	inputs := []string{
		"",
		"   \n\t ",
		"null",
		"[1, 2, 3]",
		`"just a string"`,
		"{not json",
		"```json\n{broken\n```",
		"no bullets at all",
		strings.Repeat("word ", 1000),
	}
	for _, in := range inputs {
		r := ParseResponse(in)
		if r.Summary == "" || r.Methodology == "" || r.Limitations == "" {
			t.Errorf("ParseResponse(%q) left a field empty: %+v", in, r)
		}
		if r.KeyPoints == nil {
			t.Errorf("ParseResponse(%q) returned nil key points", in)
		}
	}
}
