package planner

import (
	"encoding/json"

	"github.com/bububa/deep-researcher/schema"
)

// Intent classifies what a planned search is trying to accomplish.
type Intent = string

const (
	InitialExploration Intent = "initial_exploration"
	DeepDive           Intent = "deep_dive"
	FactChecking       Intent = "fact_checking"
	RelatedTopics      Intent = "related_topics"
	Synthesis          Intent = "synthesis"
)

// SchemaVersion is the version of the stop-decision contract below. Bump it
// whenever Decision's required fields change.
const SchemaVersion = 1

// PlannedQuery is one search the model proposes.
type PlannedQuery struct {
	schema.Base
	// Query is the optimized search query text.
	Query string `json:"query" jsonschema:"title=query,description=The optimized search query." validate:"required"`
	// Intent is the strategic intent of the search.
	Intent Intent `json:"intent,omitempty" jsonschema:"title=intent,enum=initial_exploration,enum=deep_dive,enum=fact_checking,enum=related_topics,enum=synthesis,default=initial_exploration,description=Strategic intent of the search."`
	// Reasoning explains why this search advances the research.
	Reasoning string `json:"reasoning,omitempty" jsonschema:"title=reasoning,description=Why this search meaningfully advances the research."`
}

// Decision is the structured output requested from the model: an explicit
// stop verdict plus the next round's searches.
type Decision struct {
	schema.Base
	// Stop indicates no further research is needed.
	Stop *bool `json:"stop" jsonschema:"title=stop,description=True when the collected evidence suffices to answer the question." validate:"required"`
	// Reasoning explains the stop verdict.
	Reasoning string `json:"reasoning" jsonschema:"title=reasoning,description=Reasoning behind the verdict." validate:"required"`
	// SubQueries are the proposed searches for the next round, most
	// valuable first. Empty means stop.
	SubQueries []PlannedQuery `json:"sub_queries,omitempty" jsonschema:"title=sub_queries,description=Proposed searches for the next round, most valuable first."`
}

func (d Decision) String() string {
	bs, _ := json.Marshal(d)
	return string(bs)
}
