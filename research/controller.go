package research

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/evidence"
	"github.com/bububa/deep-researcher/llm"
	"github.com/bububa/deep-researcher/planner"
	"github.com/bububa/deep-researcher/retrieval"
	"github.com/bububa/deep-researcher/synthesis"
)

// controllerConfig is the per-session execution budget, resolved by the
// manager from its defaults, ceilings and the request options.
type controllerConfig struct {
	maxRounds         int
	maxEvidenceTokens int64
	topK              int
	fetchConcurrency  int
	logger            *zap.Logger
}

// Controller runs a single session through the research loop:
// plan, retrieve, evaluate, and finally synthesize. It owns the session's
// evidence store and is the only writer of session state.
type Controller struct {
	cfg         controllerConfig
	planner     *planner.Planner
	retriever   retrieval.Gateway
	synthesizer *synthesis.Synthesizer
	store       *evidence.Store
	hub         *Hub
}

func newController(cfg controllerConfig, p *planner.Planner, r retrieval.Gateway, s *synthesis.Synthesizer, store *evidence.Store, hub *Hub) *Controller {
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return &Controller{
		cfg:         cfg,
		planner:     p,
		retriever:   r,
		synthesizer: s,
		store:       store,
		hub:         hub,
	}
}

// run drives the session to a terminal state. ctx is cancelled only by the
// caller (user cancellation or shutdown); the session's time budget is a
// policy stop, not a context deadline, so synthesis can still run after it.
func (c *Controller) run(ctx context.Context, sess *Session) {
	var (
		usage    components.LLMUsage
		executed []planner.SubQuery
		reason   TerminationReason
		rounds   int
	)
	logger := c.cfg.logger.With(zap.String("session_id", sess.ID))

	for {
		if err := ctx.Err(); err != nil {
			c.markCancelled(sess, rounds)
			return
		}
		if stop, why := c.policyStop(sess, rounds); stop {
			reason = why
			break
		}
		rounds++
		sess.setRound(rounds)
		sess.setStatus(StatusPlanning)
		c.publish(Event{SessionID: sess.ID, Type: EventRoundStarted, Round: rounds})

		plan, err := c.planRound(ctx, sess, rounds, executed)
		if plan != nil {
			usage.Merge(plan.Usage)
		}
		if err != nil {
			if ctx.Err() != nil {
				c.markCancelled(sess, rounds)
				return
			}
			// Planning failures never discard collected evidence: stop
			// researching and synthesize what we have.
			logger.Warn("planning failed, stopping research",
				zap.Int("round", rounds), zap.Error(err))
			reason = ReasonError
			break
		}
		if plan.Stop {
			reason = ReasonPlannerStop
			break
		}

		sess.setStatus(StatusRetrieving)
		c.publish(Event{SessionID: sess.ID, Type: EventQueriesPlanned, Round: rounds,
			Message: plan.Reason})
		c.retrieveRound(ctx, sess, rounds, plan.SubQueries)
		executed = append(executed, plan.SubQueries...)
		if ctx.Err() != nil {
			c.markCancelled(sess, rounds)
			return
		}
		if removed := c.store.EvictToBudget(c.cfg.maxEvidenceTokens); len(removed) > 0 {
			logger.Debug("evicted evidence over token budget",
				zap.Int("round", rounds), zap.Strings("sources", removed))
		}
	}

	sess.setStatus(StatusSynthesizing)
	c.publish(Event{SessionID: sess.ID, Type: EventSynthesisStarted, Round: rounds})
	resp := new(components.LLMResponse)
	out, err := c.synthesizer.Synthesize(ctx, sess.Question, c.store.Snapshot(), resp)
	usage.Merge(resp.Usage)
	if err != nil {
		if ctx.Err() != nil {
			c.markCancelled(sess, rounds)
			return
		}
		logger.Error("synthesis failed", zap.Error(err))
		sess.fail(err.Error())
		c.publish(Event{SessionID: sess.ID, Type: EventFailed, Round: rounds, Message: err.Error()})
		return
	}
	result := &Result{
		Answer:    out.Answer,
		Citations: out.Citations,
		Rounds:    rounds,
		Reason:    reason,
		Usage:     usage,
	}
	sess.finish(result)
	c.publish(Event{SessionID: sess.ID, Type: EventDone, Round: rounds, Message: reason})
	logger.Info("research done",
		zap.Int("rounds", rounds),
		zap.String("reason", reason),
		zap.Int("evidence_items", c.store.Len()),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens))
}

// policyStop applies the hard budgets. They are checked before every
// planner call and override whatever the model would have said.
func (c *Controller) policyStop(sess *Session, rounds int) (bool, TerminationReason) {
	if rounds >= c.cfg.maxRounds {
		return true, ReasonRoundLimit
	}
	if !sess.Deadline.IsZero() && time.Now().After(sess.Deadline) {
		return true, ReasonTimeLimit
	}
	if c.cfg.maxEvidenceTokens > 0 && c.store.TotalTokens() >= c.cfg.maxEvidenceTokens {
		return true, ReasonTokenLimit
	}
	return false, ""
}

func (c *Controller) planRound(ctx context.Context, sess *Session, round int, executed []planner.SubQuery) (*planner.Plan, error) {
	plan, err := c.planner.Plan(ctx, &planner.Input{
		Question: sess.Question,
		Round:    round,
		Executed: executed,
		Snapshot: c.store.Snapshot(),
	})
	var schemaErr *llm.SchemaValidationError
	if errors.As(err, &schemaErr) {
		c.cfg.logger.Warn("planner output failed validation after self-correction",
			zap.String("session_id", sess.ID), zap.Int("round", round))
	}
	return plan, err
}

// retrieveRound runs the round's sub-queries concurrently, bounded by the
// fetch concurrency limit. Every outcome mutates the sub-query status in
// place; all evidence lands in the store before the method returns.
func (c *Controller) retrieveRound(ctx context.Context, sess *Session, round int, queries []planner.SubQuery) {
	var g errgroup.Group
	g.SetLimit(c.cfg.fetchConcurrency)
	for i := range queries {
		q := &queries[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				q.Status = planner.SubQueryFailed
				return nil
			}
			c.executeSubQuery(ctx, sess, round, q)
			return nil
		})
	}
	g.Wait()
}

func (c *Controller) executeSubQuery(ctx context.Context, sess *Session, round int, q *planner.SubQuery) {
	results, err := c.retriever.Search(ctx, q.Text, c.cfg.topK)
	if err != nil {
		c.cfg.logger.Warn("search failed",
			zap.String("session_id", sess.ID), zap.String("query", q.Text), zap.Error(err))
		q.Status = planner.SubQueryFailed
		c.publish(Event{SessionID: sess.ID, Type: EventSourceSkipped, Round: round,
			Query: q.Text, Message: err.Error()})
		return
	}
	q.Status = planner.SubQueryExecuted
	for _, r := range results {
		if ctx.Err() != nil {
			return
		}
		text, err := c.retriever.FetchAndExtract(ctx, r.URL)
		if err != nil {
			if r.Snippet == "" {
				c.cfg.logger.Debug("skipping source",
					zap.String("session_id", sess.ID), zap.String("url", r.URL), zap.Error(err))
				c.publish(Event{SessionID: sess.ID, Type: EventSourceSkipped, Round: round,
					Query: q.Text, Source: r.URL, Message: err.Error()})
				continue
			}
			// degraded: the search engine's own extract still counts
			text = r.Snippet
		}
		isNew, err := c.store.Add(evidence.Item{
			Source:      r.URL,
			Title:       r.Title,
			Text:        text,
			Query:       q.Text,
			Relevance:   r.Relevance,
			RetrievedAt: time.Now(),
		})
		if err != nil {
			c.publish(Event{SessionID: sess.ID, Type: EventSourceSkipped, Round: round,
				Query: q.Text, Source: r.URL, Message: err.Error()})
			continue
		}
		if isNew {
			c.publish(Event{SessionID: sess.ID, Type: EventEvidenceFound, Round: round,
				Query: q.Text, Source: r.URL, Message: r.Title})
		}
	}
}

func (c *Controller) markCancelled(sess *Session, rounds int) {
	sess.cancel()
	c.publish(Event{SessionID: sess.ID, Type: EventCancelled, Round: rounds})
	c.cfg.logger.Info("research cancelled",
		zap.String("session_id", sess.ID), zap.Int("rounds", rounds))
}

func (c *Controller) publish(evt Event) {
	if c.hub != nil {
		c.hub.Publish(evt)
	}
}
