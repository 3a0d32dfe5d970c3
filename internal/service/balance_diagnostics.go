package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// BalanceDiagnosticsService implements the Balance Diagnostics component
// (C3): standardized mean differences and before/after balance reports.
type BalanceDiagnosticsService struct {
	logger    *logrus.Logger
	threshold float64
}

// NewBalanceDiagnosticsService constructs a BalanceDiagnosticsService. The
// threshold is the SMD-balanced cutoff from §6 (default 0.10).
func NewBalanceDiagnosticsService(logger *logrus.Logger, threshold float64) *BalanceDiagnosticsService {
	return &BalanceDiagnosticsService{logger: logger, threshold: threshold}
}

// SMD implements domain.BalanceDiagnostics. For continuous/ordinal/binary
// covariates: (mean_t - mean_c) / pooled_sd, pooled_sd = sqrt((var_t +
// var_c)/2); 0 if pooled_sd is 0 (§4.3).
func (b *BalanceDiagnosticsService) SMD(covariate string, treated, control []float64) float64 {
	meanT, varT := meanVariance(treated)
	meanC, varC := meanVariance(control)
	pooledSD := math.Sqrt((varT + varC) / 2)
	if pooledSD == 0 {
		return 0
	}
	return (meanT - meanC) / pooledSD
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	variance = ss / float64(len(xs)-1)
	return mean, variance
}

// weightedMeanVariance computes the reliability-weighted mean and the
// corresponding (Bessel-corrected for weights) sample variance, so an IPTW
// weight of 1.4 contributes proportionally rather than rounding to the
// nearest replica count.
func weightedMeanVariance(xs, ws []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sumW, sumWX float64
	for i, x := range xs {
		sumW += ws[i]
		sumWX += ws[i] * x
	}
	if sumW == 0 {
		return 0, 0
	}
	mean = sumWX / sumW
	var ss, sumWSq float64
	for i, x := range xs {
		d := x - mean
		ss += ws[i] * d * d
		sumWSq += ws[i] * ws[i]
	}
	denom := sumW - sumWSq/sumW
	if denom <= 0 {
		return mean, 0
	}
	variance = ss / denom
	return mean, variance
}

// smdWeighted is SMD's weighted counterpart: same pooled-SD formula, but
// means and variances are computed as weighted moments instead of assuming
// every row counts once (§4.3's after-weighting balance check).
func smdWeighted(treated, treatedW, control, controlW []float64) float64 {
	meanT, varT := weightedMeanVariance(treated, treatedW)
	meanC, varC := weightedMeanVariance(control, controlW)
	pooledSD := math.Sqrt((varT + varC) / 2)
	if pooledSD == 0 {
		return 0
	}
	return (meanT - meanC) / pooledSD
}

// BalanceReportFor implements domain.BalanceDiagnostics. It always computes
// before (full cohort, by treatment_group) and after (matched/weighted
// sample) for the same covariate list, so the love plot can render both.
func (b *BalanceDiagnosticsService) BalanceReportFor(original *domain.Cohort, matched *domain.MatchedSample, covariates []string) *domain.BalanceReport {
	beforeT, beforeC, _, _ := splitArms(original.Records, covariates, nil)
	afterT, afterC, afterWT, afterWC := splitArms(matched.Rows, covariates, matched.Weights)

	report := &domain.BalanceReport{}
	var sumAbs float64
	balancedCount := 0

	for _, cov := range covariates {
		before := b.SMD(cov, beforeT[cov], beforeC[cov])
		var after float64
		if matched.Weights != nil {
			after = smdWeighted(afterT[cov], afterWT[cov], afterC[cov], afterWC[cov])
		} else {
			after = b.SMD(cov, afterT[cov], afterC[cov])
		}
		balanced := math.Abs(after) < b.threshold

		report.Covariates = append(report.Covariates, domain.CovariateBalance{
			Covariate: cov,
			SMDBefore: before,
			SMDAfter:  after,
			Balanced:  balanced,
		})

		sumAbs += math.Abs(after)
		if balanced {
			balancedCount++
		}
	}

	if len(covariates) > 0 {
		report.MeanAbsSMD = sumAbs / float64(len(covariates))
		report.PctBalanced = float64(balancedCount) / float64(len(covariates))
	}

	b.logger.WithFields(logrus.Fields{
		"method":        matched.Method,
		"mean_abs_smd":  report.MeanAbsSMD,
		"pct_balanced":  report.PctBalanced,
	}).Debug("balance report computed")

	return report
}

// splitArms buckets covariate values (and, in parallel, each row's weight)
// by treatment arm. weights is nil for the unweighted full cohort, in which
// case every row counts with weight 1.
func splitArms(rows []domain.CohortRecord, covariates []string, weights []float64) (treated, control map[string][]float64, treatedW, controlW map[string][]float64) {
	treated = make(map[string][]float64, len(covariates))
	control = make(map[string][]float64, len(covariates))
	treatedW = make(map[string][]float64, len(covariates))
	controlW = make(map[string][]float64, len(covariates))
	for _, cov := range covariates {
		treated[cov] = nil
		control[cov] = nil
		treatedW[cov] = nil
		controlW[cov] = nil
	}

	for i, r := range rows {
		w := 1.0
		if weights != nil && i < len(weights) {
			w = weights[i]
		}
		for _, cov := range covariates {
			v, ok := r.Covariates[cov]
			if !ok {
				continue
			}
			if r.TreatmentGroup == 1 {
				treated[cov] = append(treated[cov], v)
				treatedW[cov] = append(treatedW[cov], w)
			} else {
				control[cov] = append(control[cov], v)
				controlW[cov] = append(controlW[cov], w)
			}
		}
	}
	return treated, control, treatedW, controlW
}
