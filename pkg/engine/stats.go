package engine

import (
	"context"

	"arbiter-hq/themis/pkg/compliance"
)

// Stats is an operator snapshot of the policy corpus and decision history.
type Stats struct {
	Documents          int                          `json:"documents"`
	ActiveDocuments    int                          `json:"active_documents"`
	DocumentsByTopic   map[compliance.Topic]int     `json:"documents_by_topic"`
	DocumentsBySource  map[compliance.Source]int    `json:"documents_by_source"`
	Chunks             int                          `json:"chunks"`
	VectorCases        int                          `json:"vector_cases"`
	Decisions          int64                        `json:"decisions"`
	DecisionsByVerdict map[compliance.Verdict]int64 `json:"decisions_by_verdict"`
	Cases              int64                        `json:"cases"`
}

// Stats collects corpus and history counts from the ledger and, when one is
// wired, the vector store. Topic and source breakdowns count active
// documents only.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		DocumentsByTopic:  make(map[compliance.Topic]int),
		DocumentsBySource: make(map[compliance.Source]int),
	}

	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	st.Documents = len(docs)
	for _, doc := range docs {
		if !doc.IsActive {
			continue
		}
		st.ActiveDocuments++
		st.DocumentsByTopic[doc.Topic]++
		st.DocumentsBySource[doc.Source]++
	}

	if st.Decisions, err = e.store.CountDecisions(ctx); err != nil {
		return nil, err
	}
	if st.DecisionsByVerdict, err = e.store.CountDecisionsByVerdict(ctx); err != nil {
		return nil, err
	}
	if st.Cases, err = e.store.CountCases(ctx); err != nil {
		return nil, err
	}

	if e.vectors != nil {
		if st.Chunks, err = e.vectors.ChunkCount(ctx); err != nil {
			return nil, err
		}
		if st.VectorCases, err = e.vectors.CaseCount(ctx); err != nil {
			return nil, err
		}
	}
	return st, nil
}
