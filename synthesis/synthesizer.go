// Package synthesis produces the final cited answer from the collected
// evidence.
package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clipperhouse/uax29/sentences"
	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/components/systemprompt/cot"
	"github.com/bububa/deep-researcher/evidence"
	"github.com/bububa/deep-researcher/llm"
)

// Citation ties a claim span of the answer to the evidence backing it.
// Never mutated after creation.
type Citation struct {
	// Claim is the sentence the markers were attached to.
	Claim string `json:"claim"`
	// Sources are the evidence source identifiers backing the claim.
	Sources []string `json:"sources"`
}

// Output is the synthesis result.
type Output struct {
	// Answer is the final report in markdown, citation markers included.
	Answer string `json:"answer"`
	// Citations in order of appearance.
	Citations []Citation `json:"citations,omitempty"`
}

type Config struct {
	logger *zap.Logger
}

type Option func(*Config)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// Synthesizer writes the final report via the LLM gateway.
type Synthesizer struct {
	Config
	gateway llm.Gateway
}

func New(gateway llm.Gateway, opts ...Option) *Synthesizer {
	ret := &Synthesizer{gateway: gateway}
	for _, opt := range opts {
		opt(&ret.Config)
	}
	if ret.logger == nil {
		ret.logger = zap.NewNop()
	}
	return ret
}

// Synthesize asks for a report with inline [S#] markers tied to the
// snapshot's citation keys, then resolves the markers. Markers referencing
// unknown keys are dropped with a warning, never failed on. A gateway error
// here is fatal to the session: synthesis has no safe degraded output.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, snap *evidence.Snapshot, apiResp *components.LLMResponse) (*Output, error) {
	req := &llm.Request{
		System: s.systemPrompt(snap),
		Prompt: question,
	}
	answer, err := s.gateway.Complete(ctx, req, apiResp)
	if err != nil {
		return nil, err
	}
	out := &Output{Answer: answer}
	out.Citations = s.resolveCitations(answer, snap)
	return out, nil
}

func (s *Synthesizer) systemPrompt(snap *evidence.Snapshot) string {
	steps := []string{
		"- You will receive a research question and the evidence collected for it.",
		"- Write a well-structured report: an executive summary, the main findings with evidence, and any limitations or open questions.",
		"- Ground every factual claim in the provided evidence.",
	}
	instructs := []string{
		"- Respond in markdown.",
		"- Cite evidence inline by appending its bracketed key, e.g. [S1], to the sentence it supports; several keys may follow one sentence.",
		"- Only use keys that appear in the evidence list.",
		"- Maintain objectivity; note evidence gaps instead of inventing facts.",
	}
	if snap == nil || snap.Len() == 0 {
		instructs = append(instructs, "- No evidence was collected; answer from general knowledge and state that clearly.")
	}
	gen := cot.New(
		cot.WithBackground([]string{
			"- You are a research synthesis expert.",
			"- Your task is to create a comprehensive cited report from the research conducted.",
		}),
		cot.WithSteps(steps),
		cot.WithOutputInstructs(instructs),
	)
	if snap != nil && snap.Len() > 0 {
		gen.AddContextProviders(snap)
	}
	return gen.Generate()
}

var citationMarker = regexp.MustCompile(`\[(S\d+)\]`)

// resolveCitations walks the answer sentence by sentence and maps each
// marker back to its evidence item.
func (s *Synthesizer) resolveCitations(answer string, snap *evidence.Snapshot) []Citation {
	if snap == nil {
		return nil
	}
	var citations []Citation
	for _, segment := range sentences.SegmentAll([]byte(answer)) {
		sentence := string(segment)
		matches := citationMarker.FindAllStringSubmatch(sentence, -1)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(matches))
		var sources []string
		for _, m := range matches {
			key := m[1]
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			item, ok := snap.Resolve(key)
			if !ok {
				s.logger.Warn("dropping citation marker with unknown key", zap.String("key", key))
				continue
			}
			sources = append(sources, item.Source)
		}
		if len(sources) == 0 {
			continue
		}
		claim := strings.Join(strings.Fields(citationMarker.ReplaceAllString(sentence, "")), " ")
		citations = append(citations, Citation{Claim: claim, Sources: sources})
	}
	return citations
}

// RenderReferences appends a numbered source list for the cited evidence,
// for transports that want a self-contained document.
func RenderReferences(out *Output, snap *evidence.Snapshot) string {
	if snap == nil || snap.Len() == 0 || len(out.Citations) == 0 {
		return out.Answer
	}
	cited := make(map[string]struct{})
	for _, c := range out.Citations {
		for _, src := range c.Sources {
			cited[src] = struct{}{}
		}
	}
	var b strings.Builder
	b.WriteString(out.Answer)
	b.WriteString("\n\n## Sources\n")
	for idx, item := range snap.Items() {
		if _, ok := cited[item.Source]; !ok {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", snap.Key(idx), item.Title, item.Source)
	}
	return b.String()
}
