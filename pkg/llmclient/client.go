// Package llmclient implements the external language-model boundary
// described in spec §6: the method-selector judge and the result
// summariser, both synchronous request/response calls guarded by a circuit
// breaker. Every call has a deterministic fallback at the caller; this
// package only ever returns an error when it cannot produce a parsed
// answer, never a fabricated one.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/rwe-platform/statistician/internal/domain"
)

// Client wraps the Anthropic SDK behind a circuit breaker and implements
// both domain.LLMJudge and domain.Summarizer.
type Client struct {
	logger  *logrus.Logger
	sdk     anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewClient constructs an LLM client. When cfg.Disabled is set, callers
// should not construct a Client at all and instead pass a nil
// domain.LLMJudge/Summarizer so the deterministic fallback is used
// unconditionally (§4.5, §9 "LLM as advisor, not authority").
func NewClient(logger *logrus.Logger, cfg domain.LLMConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-judge-summariser",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).
				Warn("llm circuit breaker state change")
		},
	})

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		logger:  logger,
		sdk:     anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
		breaker: breaker,
	}
}

type judgeResponse struct {
	SelectedMethod string `json:"selected_method"`
	Reasoning      string `json:"reasoning"`
}

// JudgeSelection implements domain.LLMJudge (§6 boundary #1).
func (c *Client) JudgeSelection(ctx context.Context, comparisons []domain.MethodComparison) (domain.MethodName, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildSelectionPrompt(comparisons)

	raw, err := c.call(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("method selector judge call failed: %w", err)
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return "", "", fmt.Errorf("method selector judge returned unparseable json: %w", err)
	}

	return domain.MethodName(parsed.SelectedMethod), parsed.Reasoning, nil
}

// Summarize implements domain.Summarizer (§6 boundary #2).
func (c *Client) Summarize(ctx context.Context, cohort *domain.Cohort, selection *domain.SelectionRecord, survival *domain.SurvivalResult) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildSummaryPrompt(cohort, selection, survival)

	raw, err := c.call(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summariser call failed: %w", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("summariser returned unparseable json: %w", err)
	}

	return parsed, nil
}

// call executes one request/response turn through the circuit breaker.
func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		message, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, block := range message.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return "", fmt.Errorf("llm service unavailable (circuit breaker open)")
		}
		return "", err
	}
	return result.(string), nil
}

func buildSelectionPrompt(comparisons []domain.MethodComparison) string {
	var sb strings.Builder
	sb.WriteString("You are adjudicating a matching-method choice for a causal-inference pipeline. ")
	sb.WriteString("Given the ranked table below, respond with strict JSON {\"selected_method\": one of psm|psm_caliper|mahalanobis|iptw, \"reasoning\": string}.\n\n")
	for _, comp := range comparisons {
		fmt.Fprintf(&sb, "method=%s mean_abs_smd=%.4f pct_balanced=%.2f n_matched=%d numeric_rank=%d\n",
			comp.Method, comp.MeanAbsSMD, comp.PctBalanced, comp.NMatched, comp.NumericRank)
	}
	return sb.String()
}

func buildSummaryPrompt(cohort *domain.Cohort, selection *domain.SelectionRecord, survival *domain.SurvivalResult) string {
	var sb strings.Builder
	sb.WriteString("Summarize this emulated trial's result as strict JSON with fields ")
	sb.WriteString("{\"question\": string, \"conclusion\": string, \"population\": object, \"intervention\": object, \"findings\": object}.\n\n")
	fmt.Fprintf(&sb, "cohort_size=%d selected_method=%s\n", len(cohort.Records), selection.SelectedMethod)
	if survival != nil {
		fmt.Fprintf(&sb, "hazard_ratio=%.3f ci_lower=%.3f ci_upper=%.3f p_value=%.4f\n",
			survival.HazardRatio, survival.CI95Lower, survival.CI95Upper, survival.PValue)
	}
	return sb.String()
}

// extractJSON trims any leading/trailing prose a model adds around the
// JSON object, taking the substring between the first '{' and the
// matching last '}'.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
