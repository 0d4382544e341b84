// Package synth turns extracted source text into a structured research
// report using a primary language model with an optional fallback.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/dossier/internal/extract"
	"github.com/FranksOps/dossier/internal/llm"
	"github.com/FranksOps/dossier/internal/metrics"
)

const (
	DefaultTemperature float32 = 0.3
	DefaultMaxTokens           = 1500
)

// NoContentSummary is the report summary used when no source had text.
const NoContentSummary = "No valid content could be extracted from the found sources."

var (
	// ErrNoContent is returned when none of the sources carried text.
	ErrNoContent = errors.New("no extractable content found")
	// ErrNoProviderAvailable is returned when no provider is configured or
	// the only configured provider is out of capacity.
	ErrNoProviderAvailable = errors.New("no available LLM providers could generate the report")
)

// Report is a synthesized research report. All four text fields are always
// populated and KeyPoints is never nil.
type Report struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Methodology     string   `json:"methodology"`
	Limitations     string   `json:"limitations"`
	SourcesAnalyzed int      `json:"sources_analyzed"`
	Provider        string   `json:"provider,omitempty"`
}

// Failure is the error returned by Synthesize. Summary is the human
// readable explanation recorded against the query.
type Failure struct {
	Summary string
	Err     error
}

func (f *Failure) Error() string {
	return f.Summary
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Config tunes generation.
type Config struct {
	// Temperature defaults to 0.3 when zero.
	Temperature float32
	// MaxTokens defaults to 1500 when zero.
	MaxTokens int
	Logger    *slog.Logger
}

// Synthesizer generates reports.
type Synthesizer struct {
	primary   llm.Provider
	secondary llm.Provider
	cfg       Config
	logger    *slog.Logger
}

// New creates a Synthesizer. Either provider may be nil, but not both.
func New(primary, secondary llm.Provider, cfg Config) (*Synthesizer, error) {
	if primary == nil && secondary == nil {
		return nil, ErrNoProviderAvailable
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		logger:    cfg.Logger,
	}, nil
}

// Synthesize builds a report for query from the successful sources. Any
// error returned is a *Failure.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, sources []extract.Result) (*Report, error) {
	s.logger.Info("generating report", "query", query)

	valid := usable(sources)
	if len(valid) == 0 {
		return nil, &Failure{Summary: NoContentSummary, Err: ErrNoContent}
	}

	req := llm.Request{
		System:      systemPrompt,
		Prompt:      userPrompt(query, valid),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	text, provider, err := s.generate(ctx, req)
	if err != nil {
		s.logger.Error("report generation failed", "query", query, "err", err)
		return nil, &Failure{Summary: fmt.Sprintf("Failed to generate report: %v", err), Err: err}
	}

	report := ParseResponse(text)
	report.SourcesAnalyzed = len(valid)
	report.Provider = provider
	s.logger.Info("report generated", "query", query, "provider", provider, "sources", len(valid))
	return report, nil
}

// generate runs the fallback chain: the secondary provider gets exactly one
// attempt, and only when the primary is absent or failed with a retryable
// error.
func (s *Synthesizer) generate(ctx context.Context, req llm.Request) (string, string, error) {
	if s.primary != nil {
		text, err := s.call(ctx, s.primary, req)
		if err == nil {
			return text, s.primary.Name(), nil
		}
		if !llm.IsRetryable(err) {
			return "", "", err
		}
		if s.secondary == nil {
			return "", "", fmt.Errorf("%w: %v", ErrNoProviderAvailable, err)
		}
		s.logger.Warn("primary provider out of capacity, falling back",
			"primary", s.primary.Name(), "secondary", s.secondary.Name(), "err", err)
	}

	if s.secondary == nil {
		return "", "", ErrNoProviderAvailable
	}
	text, err := s.call(ctx, s.secondary, req)
	if err != nil {
		return "", "", err
	}
	return text, s.secondary.Name(), nil
}

func (s *Synthesizer) call(ctx context.Context, p llm.Provider, req llm.Request) (string, error) {
	s.logger.Info("attempting to generate report", "provider", p.Name())
	text, err := p.Generate(ctx, req)
	metrics.RecordProviderCall(p.Name(), err == nil)
	if err != nil {
		s.logger.Warn("provider failed", "provider", p.Name(), "err", err)
	}
	return text, err
}

func usable(sources []extract.Result) []extract.Result {
	var out []extract.Result
	for _, src := range sources {
		if src.Success && src.Content != "" {
			out = append(out, src)
		}
	}
	return out
}
