// Package planner decomposes a research question into prioritized
// sub-queries and decides when enough evidence has been collected.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/components/systemprompt/cot"
	"github.com/bububa/deep-researcher/evidence"
	"github.com/bububa/deep-researcher/llm"
)

// SubQueryStatus tracks a sub-query through retrieval.
type SubQueryStatus = string

const (
	SubQueryPending  SubQueryStatus = "pending"
	SubQueryExecuted SubQueryStatus = "executed"
	SubQueryFailed   SubQueryStatus = "failed"
)

// SubQuery is one search belonging to a research session.
type SubQuery struct {
	Text   string         `json:"text"`
	Intent Intent         `json:"intent,omitempty"`
	Round  int            `json:"round"`
	Rank   int            `json:"rank"`
	Status SubQueryStatus `json:"status"`
}

// Input is everything a planning step may look at. The planner itself is
// stateless: identical inputs produce identical de-duplication results.
type Input struct {
	Question string
	// Round is the upcoming round number, starting at 1.
	Round int
	// Executed lists sub-queries already run in prior rounds.
	Executed []SubQuery
	// Snapshot is the evidence collected so far; may be empty.
	Snapshot *evidence.Snapshot
}

// Plan is the planner's verdict after de-duplication and capping.
type Plan struct {
	Stop       bool
	Reason     string
	SubQueries []SubQuery
	// Usage is the token cost of producing this plan.
	Usage *components.LLMUsage
}

type Config struct {
	maxPerRound int
	logger      *zap.Logger
}

type Option func(*Config)

// WithMaxSubQueries caps sub-queries per round.
func WithMaxSubQueries(n int) Option {
	return func(c *Config) {
		c.maxPerRound = n
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// Planner plans one round of searches via structured completion.
type Planner struct {
	Config
	gateway llm.Gateway
}

func New(gateway llm.Gateway, opts ...Option) *Planner {
	ret := &Planner{gateway: gateway}
	for _, opt := range opts {
		opt(&ret.Config)
	}
	if ret.maxPerRound == 0 {
		ret.maxPerRound = 3
	}
	if ret.logger == nil {
		ret.logger = zap.NewNop()
	}
	return ret
}

// Plan asks the model for a stop verdict and next searches, then
// de-duplicates them against everything already executed. Errors pass
// through untouched so the caller can tell schema failures from provider
// failures.
func (p *Planner) Plan(ctx context.Context, in *Input) (*Plan, error) {
	decision := new(Decision)
	resp := new(components.LLMResponse)
	req := &llm.Request{
		System: p.systemPrompt(in),
		Prompt: p.userPrompt(in),
	}
	if err := p.gateway.CompleteStructured(ctx, req, decision, resp); err != nil {
		return nil, err
	}
	plan := &Plan{Reason: decision.Reasoning, Usage: resp.Usage}
	if decision.Stop != nil && *decision.Stop {
		plan.Stop = true
		return plan, nil
	}
	plan.SubQueries = dedupe(decision.SubQueries, in.Executed, in.Round, p.maxPerRound)
	if len(plan.SubQueries) == 0 {
		// nothing new to search is a stop, whatever the model said
		plan.Stop = true
	}
	p.logger.Debug("planned round",
		zap.Int("round", in.Round),
		zap.Bool("stop", plan.Stop),
		zap.Int("sub_queries", len(plan.SubQueries)))
	return plan, nil
}

// dedupe drops proposals already executed in this session (case-insensitive
// text match) and duplicates within the proposal itself, preserving the
// model's ranking, capped at maxPerRound.
func dedupe(proposed []PlannedQuery, executed []SubQuery, round, maxPerRound int) []SubQuery {
	seen := make(map[string]struct{}, len(executed)+len(proposed))
	for _, q := range executed {
		seen[normalizeQuery(q.Text)] = struct{}{}
	}
	kept := make([]SubQuery, 0, maxPerRound)
	for _, q := range proposed {
		key := normalizeQuery(q.Query)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, SubQuery{
			Text:   strings.TrimSpace(q.Query),
			Intent: q.Intent,
			Round:  round,
			Rank:   len(kept),
			Status: SubQueryPending,
		})
		if len(kept) >= maxPerRound {
			break
		}
	}
	return kept
}

func normalizeQuery(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func (p *Planner) systemPrompt(in *Input) string {
	gen := cot.New(
		cot.WithBackground([]string{
			"- You are a research planning agent.",
			"- Your task is to analyze the current research context and plan the next searches strategically.",
		}),
		cot.WithSteps([]string{
			"- Review the original question, the searches already executed and the evidence collected so far.",
			fmt.Sprintf("- Plan up to %d strategic searches that fill knowledge gaps, verify important claims or explore related aspects.", p.maxPerRound),
			"- For each search specify the intent, the optimized query and your reasoning.",
			"- Set stop to true when the evidence already suffices to answer the question well.",
		}),
		cot.WithOutputInstructs([]string{
			"- Always respond using the proper JSON schema.",
			"- Never repeat a search that was already executed.",
			"- Focus on searches that will meaningfully advance the research.",
		}),
	)
	if len(in.Executed) > 0 {
		gen.AddContextProviders(executedQueries(in.Executed))
	}
	if in.Snapshot != nil && in.Snapshot.Len() > 0 {
		gen.AddContextProviders(in.Snapshot)
	}
	return gen.Generate()
}

func (p *Planner) userPrompt(in *Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", in.Question)
	fmt.Fprintf(&b, "Upcoming round: %d\n", in.Round)
	if in.Snapshot != nil {
		fmt.Fprintf(&b, "Evidence items collected: %d (~%d tokens)\n", in.Snapshot.Len(), in.Snapshot.TotalTokens())
	}
	return b.String()
}

// executedQueries renders prior searches as prompt context.
type executedQueries []SubQuery

func (q executedQueries) Title() string {
	return "Executed Searches"
}

func (q executedQueries) Info() string {
	var b strings.Builder
	for _, sq := range q {
		fmt.Fprintf(&b, "- [round %d, %s] %s\n", sq.Round, sq.Status, sq.Text)
	}
	return strings.TrimSpace(b.String())
}
