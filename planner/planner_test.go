package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/llm"
)

// scriptedGateway plays back canned decisions.
type scriptedGateway struct {
	decisions []Decision
	calls     int
	err       error
}

func (g *scriptedGateway) Complete(ctx context.Context, req *llm.Request, apiResp *components.LLMResponse) (string, error) {
	return "", g.err
}

func (g *scriptedGateway) CompleteStructured(ctx context.Context, req *llm.Request, out any, apiResp *components.LLMResponse) error {
	if g.err != nil {
		return g.err
	}
	decision := g.decisions[g.calls%len(g.decisions)]
	g.calls++
	*(out.(*Decision)) = decision
	return nil
}

func boolPtr(v bool) *bool { return &v }

func TestPlanStop(t *testing.T) {
	gw := &scriptedGateway{decisions: []Decision{{
		Stop:      boolPtr(true),
		Reasoning: "enough evidence",
		SubQueries: []PlannedQuery{
			{Query: "should be ignored"},
		},
	}}}
	p := New(gw)
	plan, err := p.Plan(context.Background(), &Input{Question: "q", Round: 2})
	require.NoError(t, err)
	assert.True(t, plan.Stop)
	assert.Empty(t, plan.SubQueries)
	assert.Equal(t, "enough evidence", plan.Reason)
}

func TestPlanDedupesAgainstExecuted(t *testing.T) {
	gw := &scriptedGateway{decisions: []Decision{{
		Stop:      boolPtr(false),
		Reasoning: "keep digging",
		SubQueries: []PlannedQuery{
			{Query: "  Subprime   Mortgage Crisis "},
			{Query: "credit default swaps", Intent: DeepDive},
			{Query: "Credit Default Swaps"},
		},
	}}}
	p := New(gw)
	executed := []SubQuery{{Text: "subprime mortgage crisis", Round: 1, Status: SubQueryExecuted}}
	plan, err := p.Plan(context.Background(), &Input{Question: "q", Round: 2, Executed: executed})
	require.NoError(t, err)
	assert.False(t, plan.Stop)
	require.Len(t, plan.SubQueries, 1)
	assert.Equal(t, "credit default swaps", plan.SubQueries[0].Text)
	assert.Equal(t, 2, plan.SubQueries[0].Round)
	assert.Equal(t, SubQueryPending, plan.SubQueries[0].Status)
}

func TestPlanDedupeIsIdempotent(t *testing.T) {
	decision := Decision{
		Stop:      boolPtr(false),
		Reasoning: "more",
		SubQueries: []PlannedQuery{
			{Query: "alpha"},
			{Query: "beta"},
			{Query: "ALPHA"},
		},
	}
	first := dedupe(decision.SubQueries, nil, 1, 5)
	var executed []SubQuery
	executed = append(executed, first...)
	for i := range executed {
		executed[i].Status = SubQueryExecuted
	}
	second := dedupe(decision.SubQueries, executed, 2, 5)
	assert.Len(t, first, 2)
	assert.Empty(t, second, "re-planning identical proposals must yield a subset of the prior de-duplicated set")
}

func TestPlanAllDuplicatesMeansStop(t *testing.T) {
	gw := &scriptedGateway{decisions: []Decision{{
		Stop:       boolPtr(false),
		Reasoning:  "repeat",
		SubQueries: []PlannedQuery{{Query: "alpha"}},
	}}}
	p := New(gw)
	executed := []SubQuery{{Text: "alpha", Round: 1, Status: SubQueryExecuted}}
	plan, err := p.Plan(context.Background(), &Input{Question: "q", Round: 2, Executed: executed})
	require.NoError(t, err)
	assert.True(t, plan.Stop, "nothing new to search must read as stop")
}

func TestPlanCapsPerRound(t *testing.T) {
	gw := &scriptedGateway{decisions: []Decision{{
		Stop:      boolPtr(false),
		Reasoning: "wide",
		SubQueries: []PlannedQuery{
			{Query: "one"}, {Query: "two"}, {Query: "three"}, {Query: "four"},
		},
	}}}
	p := New(gw, WithMaxSubQueries(2))
	plan, err := p.Plan(context.Background(), &Input{Question: "q", Round: 1})
	require.NoError(t, err)
	assert.Len(t, plan.SubQueries, 2)
	assert.Equal(t, 0, plan.SubQueries[0].Rank)
	assert.Equal(t, 1, plan.SubQueries[1].Rank)
}

func TestPlanPassesGatewayErrorThrough(t *testing.T) {
	schemaErr := &llm.SchemaValidationError{}
	gw := &scriptedGateway{err: schemaErr}
	p := New(gw)
	_, err := p.Plan(context.Background(), &Input{Question: "q", Round: 1})
	require.ErrorAs(t, err, &schemaErr)
}
