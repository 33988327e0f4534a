package main

import (
	"context"
	"testing"

	"github.com/grunted/grunts/internal/llm"
)

// recordingProvider captures the last request it was handed.
type recordingProvider struct {
	last llm.Request
}

func (p *recordingProvider) Name() string                    { return "stub" }
func (p *recordingProvider) Ready(ctx context.Context) error { return nil }
func (p *recordingProvider) Models() []llm.ModelCapabilities { return nil }
func (p *recordingProvider) ClaimsModel(name string) bool    { return true }
func (p *recordingProvider) Capabilities(name string) (*llm.ModelCapabilities, bool) {
	return nil, false
}
func (p *recordingProvider) Representative(category string) string { return "" }
func (p *recordingProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.last = req
	return &llm.Response{Text: "ok", Model: req.Model}, nil
}

func TestModelCompleterCorrectsTemperature(t *testing.T) {
	p := &recordingProvider{}
	c := modelCompleter{provider: p, model: "o3-mini", constraint: llm.FixedTemperature{Value: 1}}

	// A fixed-temperature model must never see the loop's generic 0.2.
	if _, err := c.Complete(context.Background(), llm.Request{Model: "other", Temperature: 0.2}); err != nil {
		t.Fatal(err)
	}
	if p.last.Model != "o3-mini" {
		t.Errorf("model = %q, want o3-mini", p.last.Model)
	}
	if p.last.Temperature != 1 {
		t.Errorf("temperature = %g, want 1", p.last.Temperature)
	}
}

func TestModelCompleterKeepsAdmissibleTemperature(t *testing.T) {
	p := &recordingProvider{}
	c := modelCompleter{provider: p, model: "gpt-4.1", constraint: llm.RangeTemperature{Lo: 0, Hi: 2, Def: 0.5}}

	if _, err := c.Complete(context.Background(), llm.Request{Temperature: 0.2}); err != nil {
		t.Fatal(err)
	}
	if p.last.Temperature != 0.2 {
		t.Errorf("in-range temperature changed to %g", p.last.Temperature)
	}
}
