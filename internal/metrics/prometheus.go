package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acm_research_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_query_total",
			Help: "Total number of research queries processed",
		},
		[]string{"status"},
	)

	SourceResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acm_research_source_results_count",
			Help:    "Number of results returned per source search",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"source"},
	)

	SourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_source_failures_total",
			Help: "Total failed source searches",
		},
		[]string{"source"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	LLMFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_llm_failures_total",
			Help: "Total failed LLM completions",
		},
		[]string{"model"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "acm_research_rate_limit_rejections_total",
			Help: "Total queries rejected by the rate limit",
		},
	)

	DigestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acm_research_digest_runs_total",
			Help: "Total nightly digest runs",
		},
		[]string{"status"},
	)

	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "acm_research_websocket_connections",
			Help: "Currently open status stream connections",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(SourceResultsCount)
	prometheus.MustRegister(SourceFailures)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(LLMFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(DigestRuns)
	prometheus.MustRegister(WebsocketConnections)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
