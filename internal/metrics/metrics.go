// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "themis"

var (
	// ExecutionsTotal counts agent executions by agent slug and terminal status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_executions_total",
			Help:      "Agent executions by agent and terminal status",
		},
		[]string{"agent", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_execution_duration_seconds",
			Help:      "Wall-clock duration of agent executions",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"agent"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the provider, by agent",
		},
		[]string{"agent"},
	)

	// ToolCallsTotal outcome is "ok", "error" or "not_found".
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// CacheLookups result is "hit", "miss" or "error".
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by prefix and result",
		},
		[]string{"prefix", "result"},
	)

	RAGResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rag_search_results",
			Help:      "Number of results returned per retrieval search",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"source_type"},
	)

	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by workflow name and status",
		},
		[]string{"workflow", "status"},
	)

	KnowledgeEntriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_entries_ingested_total",
			Help:      "Knowledge-base rows created by ingestion",
		},
		[]string{"source_type"},
	)
)
