package service

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
	"github.com/rwe-platform/statistician/internal/metrics"
)

// llmUnavailableReasoning is the recorded reasoning text when the judge
// call fails or returns an unrecognized method (§4.5).
const llmUnavailableReasoning = "LLM unavailable; deterministic fallback"

// MethodSelectorService implements the Method Selector (C5).
type MethodSelectorService struct {
	logger *logrus.Logger
	judge  domain.LLMJudge
}

// NewMethodSelectorService constructs a MethodSelectorService. judge may be
// nil (or configured disabled) to force the deterministic fallback.
func NewMethodSelectorService(logger *logrus.Logger, judge domain.LLMJudge) *MethodSelectorService {
	return &MethodSelectorService{logger: logger, judge: judge}
}

// Select implements domain.MethodSelector.
func (s *MethodSelectorService) Select(ctx context.Context, comparisons []domain.MethodComparison) (*domain.SelectionRecord, error) {
	ranked := rankMethods(comparisons)

	record := &domain.SelectionRecord{AllMethodsSummary: ranked}

	if s.judge == nil {
		record.SelectedMethod = ranked[0].Method
		record.ReasoningText = llmUnavailableReasoning
		metrics.LLMFallbacksTotal.WithLabelValues("judge", "disabled").Inc()
		return record, nil
	}

	start := time.Now()
	selected, reasoning, err := s.judge.JudgeSelection(ctx, ranked)
	metrics.LLMCallDuration.WithLabelValues("judge").Observe(time.Since(start).Seconds())
	if err != nil || !validMethod(selected, ranked) {
		if err != nil {
			s.logger.WithError(err).Warn("method selector judge call failed, using deterministic fallback")
			metrics.LLMFallbacksTotal.WithLabelValues("judge", "error").Inc()
		} else {
			s.logger.WithField("selected", selected).Warn("method selector judge returned unrecognized method, using deterministic fallback")
			metrics.LLMFallbacksTotal.WithLabelValues("judge", "invalid_method").Inc()
		}
		record.SelectedMethod = ranked[0].Method
		record.ReasoningText = llmUnavailableReasoning
		return record, nil
	}

	record.SelectedMethod = selected
	record.ReasoningText = reasoning
	record.JudgeDiverged = diverges(selected, ranked)

	if record.JudgeDiverged {
		s.logger.WithFields(logrus.Fields{
			"judge_choice": selected,
			"numeric_top":  ranked[0].Method,
		}).Info("judge selection diverges from numeric ranking by more than one step")
	}

	return record, nil
}

// rankMethods scores each method by primary key mean_abs_smd (lower
// better), tie-break pct_balanced (higher better), secondary n_matched
// (higher better) — §4.5. Rank 0 is assigned to the best.
func rankMethods(comparisons []domain.MethodComparison) []domain.MethodComparison {
	ranked := make([]domain.MethodComparison, len(comparisons))
	copy(ranked, comparisons)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.MeanAbsSMD != b.MeanAbsSMD {
			return a.MeanAbsSMD < b.MeanAbsSMD
		}
		if a.PctBalanced != b.PctBalanced {
			return a.PctBalanced > b.PctBalanced
		}
		return a.NMatched > b.NMatched
	})

	for i := range ranked {
		ranked[i].NumericRank = i
	}
	return ranked
}

func validMethod(method domain.MethodName, ranked []domain.MethodComparison) bool {
	for _, r := range ranked {
		if r.Method == method {
			return true
		}
	}
	return false
}

// diverges reports whether the judge's pick is more than one rank step
// worse than the numeric top (§4.5: logged, not overridden).
func diverges(selected domain.MethodName, ranked []domain.MethodComparison) bool {
	for _, r := range ranked {
		if r.Method == selected {
			return r.NumericRank > 1
		}
	}
	return false
}
