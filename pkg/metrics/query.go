// Package metrics records lifecycle metrics and reads LLM usage back from Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	llmmetrics "ticketsmith/pkg/agent/middleware/metrics"
)

// ProjectUsage is the LLM spend attributed to one project.
type ProjectUsage struct {
	ProjectID        string                 `json:"project_id"`
	PromptTokens     int64                  `json:"prompt_tokens"`
	CompletionTokens int64                  `json:"completion_tokens"`
	TotalTokens      int64                  `json:"total_tokens"`
	TotalCost        float64                `json:"total_cost_usd"`
	ByModel          map[string]*ModelUsage `json:"by_model,omitempty"`
}

// ModelUsage is the token split for one model.
type ModelUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// querier is the subset of the Prometheus HTTP API the service uses.
type querier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI querier
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetProjectUsage sums the token and cost counters recorded for projectID across every
// agent role.
func (q *QueryService) GetProjectUsage(ctx context.Context, projectID string) (*ProjectUsage, error) {
	usage := &ProjectUsage{ProjectID: projectID, ByModel: map[string]*ModelUsage{}}

	byType := fmt.Sprintf(`sum by (model, type) (%s{project_id=%q})`, llmmetrics.MetricTokens, projectID)
	vector, err := q.vector(ctx, byType)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	for _, sample := range vector {
		name := string(sample.Metric["model"])
		m := usage.ByModel[name]
		if m == nil {
			m = &ModelUsage{}
			usage.ByModel[name] = m
		}
		n := int64(sample.Value)
		switch sample.Metric["type"] {
		case "prompt":
			m.PromptTokens += n
			usage.PromptTokens += n
		case "completion":
			m.CompletionTokens += n
			usage.CompletionTokens += n
		}
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	cost, err := q.vector(ctx, fmt.Sprintf(`sum(%s{project_id=%q})`, llmmetrics.MetricCosts, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	if len(cost) > 0 {
		usage.TotalCost = float64(cost[0].Value)
	}

	return usage, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add the metric name
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, nil
	}
	return vector, nil
}
