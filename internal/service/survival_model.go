package service

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// SurvivalModelService implements the Survival Model (C6): per-arm
// Kaplan-Meier, a single-covariate Cox PH fit, a log-rank test, and the
// concordance index.
type SurvivalModelService struct {
	logger *logrus.Logger
}

// NewSurvivalModelService constructs a SurvivalModelService.
func NewSurvivalModelService(logger *logrus.Logger) *SurvivalModelService {
	return &SurvivalModelService{logger: logger}
}

type survivalObs struct {
	time   float64
	event  int
	group  int // 1 = treatment, 0 = control
	weight float64
}

// Fit implements domain.SurvivalModel (§4.6).
func (s *SurvivalModelService) Fit(ctx context.Context, sample *domain.MatchedSample, followUpDays float64) (*domain.SurvivalResult, error) {
	obs := toSurvivalObs(sample)

	nT, nC := 0, 0
	eventsT, eventsC := 0, 0
	for _, o := range obs {
		if o.group == 1 {
			nT++
			eventsT += o.event
		} else {
			nC++
			eventsC += o.event
		}
	}
	if nT == 0 || nC == 0 {
		return nil, domain.NewPipelineError(domain.ErrModelFitFailure, domain.StageSurvival,
			"survival fit requires both arms to be non-empty", nil)
	}

	beta, seBeta, converged := fitCoxSingleCovariate(obs)
	if !converged {
		return nil, domain.NewPipelineError(domain.ErrModelFitFailure, domain.StageSurvival,
			"cox model failed to converge", nil)
	}

	hr := math.Exp(beta)
	ciLower := math.Exp(beta - 1.96*seBeta)
	ciUpper := math.Exp(beta + 1.96*seBeta)
	z := beta / seBeta
	pValue := 2 * (1 - standardNormalCDF(math.Abs(z)))

	logRankP := logRankTest(obs)
	concordance := concordanceIndex(obs, beta)
	curve := cumulativeMortalityCurve(obs, followUpDays)

	result := &domain.SurvivalResult{
		HazardRatio:            hr,
		CI95Lower:              ciLower,
		CI95Upper:              ciUpper,
		PValue:                 pValue,
		LogRankPValue:          logRankP,
		NTreatment:             nT,
		NControl:               nC,
		MortalityRateTreatment: float64(eventsT) / float64(nT),
		MortalityRateControl:   float64(eventsC) / float64(nC),
		ConcordanceIndex:       concordance,
		CumulativeMortality:    curve,
	}

	s.logger.WithFields(logrus.Fields{
		"hazard_ratio": hr,
		"p_value":      pValue,
		"n_treatment":  nT,
		"n_control":    nC,
	}).Info("survival model fit")

	return result, nil
}

func toSurvivalObs(sample *domain.MatchedSample) []survivalObs {
	obs := make([]survivalObs, len(sample.Rows))
	for i, r := range sample.Rows {
		w := 1.0
		if i < len(sample.Weights) {
			w = sample.Weights[i]
		}
		obs[i] = survivalObs{
			time:   r.OutcomeDays,
			event:  r.Mortality,
			group:  r.TreatmentGroup,
			weight: w,
		}
	}
	return obs
}

// fitCoxSingleCovariate fits a Cox PH model with a single binary covariate
// (treatment_group) by Newton-Raphson on the (weighted) partial
// log-likelihood — the IPTW weights, when not all 1, reproduce the
// weighted Cox fit described in §4.6.
func fitCoxSingleCovariate(obs []survivalObs) (beta, se float64, converged bool) {
	sorted := make([]survivalObs, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].time < sorted[j].time })

	beta = 0
	for iter := 0; iter < 50; iter++ {
		var score, info float64

		for i, o := range sorted {
			if o.event == 0 {
				continue
			}
			var sumW, sumWX, sumWXX float64
			for j := i; j < len(sorted); j++ {
				if sorted[j].time < o.time {
					continue
				}
				w := sorted[j].weight * math.Exp(beta*float64(sorted[j].group))
				sumW += w
				sumWX += w * float64(sorted[j].group)
				sumWXX += w * float64(sorted[j].group) * float64(sorted[j].group)
			}
			if sumW == 0 {
				continue
			}
			mean := sumWX / sumW
			score += o.weight * (float64(o.group) - mean)
			info += o.weight * (sumWXX/sumW - mean*mean)
		}

		if info == 0 {
			return beta, 0, false
		}
		delta := score / info
		beta += delta
		if math.Abs(delta) < 1e-8 {
			se = math.Sqrt(1 / info)
			return beta, se, true
		}
	}
	return beta, 0, false
}

// logRankTest returns the two-sample log-rank p-value (§4.6 auxiliary
// test), computed from the standard observed-minus-expected statistic for
// the treatment arm at each distinct event time of either arm.
func logRankTest(obs []survivalObs) float64 {
	sorted := make([]survivalObs, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].time < sorted[j].time })

	var numerator, variance float64
	n := len(sorted)

	eventTimes := map[float64]bool{}
	for _, o := range sorted {
		if o.event == 1 {
			eventTimes[o.time] = true
		}
	}

	times := make([]float64, 0, len(eventTimes))
	for t := range eventTimes {
		times = append(times, t)
	}
	sort.Float64s(times)

	for _, t := range times {
		var n1, n2, d1, d2 float64
		for i := 0; i < n; i++ {
			if sorted[i].time < t {
				continue
			}
			atRisk := sorted[i].time >= t
			if !atRisk {
				continue
			}
			if sorted[i].group == 1 {
				n1++
			} else {
				n2++
			}
		}
		for i := 0; i < n; i++ {
			if sorted[i].time == t && sorted[i].event == 1 {
				if sorted[i].group == 1 {
					d1++
				} else {
					d2++
				}
			}
		}
		d := d1 + d2
		nAtRisk := n1 + n2
		if nAtRisk < 2 {
			continue
		}
		expected1 := d * n1 / nAtRisk
		numerator += d1 - expected1
		if nAtRisk > 1 {
			variance += (n1 * n2 * d * (nAtRisk - d)) / (nAtRisk * nAtRisk * (nAtRisk - 1))
		}
	}

	if variance == 0 {
		return 1
	}
	chiSq := (numerator * numerator) / variance
	return 1 - chiSquareCDF1DOF(chiSq)
}

// concordanceIndex computes Harrell's C-index for the single-covariate
// linear predictor beta*group.
func concordanceIndex(obs []survivalObs, beta float64) float64 {
	var concordant, discordant, tied float64
	for i := range obs {
		if obs[i].event == 0 {
			continue
		}
		riskI := beta * float64(obs[i].group)
		for j := range obs {
			if i == j || obs[j].time <= obs[i].time {
				continue
			}
			riskJ := beta * float64(obs[j].group)
			switch {
			case riskI > riskJ:
				concordant++
			case riskI < riskJ:
				discordant++
			default:
				tied++
			}
		}
	}
	total := concordant + discordant + tied
	if total == 0 {
		return 0.5
	}
	return (concordant + 0.5*tied) / total
}

// cumulativeMortalityCurve computes per-arm Kaplan-Meier cumulative
// mortality (1-S) stepwise on [0, followUpDays], sampled at the fixed
// risk-table checkpoints the artifact renderer needs (§4.8: 0,5,10,...).
func cumulativeMortalityCurve(obs []survivalObs, followUpDays float64) []domain.MortalityPoint {
	checkpoints := riskTableCheckpoints(followUpDays)
	points := make([]domain.MortalityPoint, 0, len(checkpoints))

	var treated, control []survivalObs
	for _, o := range obs {
		if o.group == 1 {
			treated = append(treated, o)
		} else {
			control = append(control, o)
		}
	}

	for _, day := range checkpoints {
		cumIncT, atRiskT := kaplanMeierCumulativeIncidence(treated, day)
		cumIncC, atRiskC := kaplanMeierCumulativeIncidence(control, day)
		points = append(points, domain.MortalityPoint{
			Day:             day,
			TreatmentCumInc: cumIncT,
			ControlCumInc:   cumIncC,
			TreatmentAtRisk: atRiskT,
			ControlAtRisk:   atRiskC,
		})
	}
	return points
}

// riskTableCheckpoints returns the fixed checkpoints from §4.8, scaled if
// the configured follow-up horizon differs from 28 days.
func riskTableCheckpoints(followUpDays float64) []float64 {
	if followUpDays == 28 {
		return []float64{0, 5, 10, 15, 20, 25, 28}
	}
	n := 7
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = followUpDays * float64(i) / float64(n-1)
	}
	return out
}

// kaplanMeierCumulativeIncidence computes S(day) via the product-limit
// estimator and returns 1-S(day) plus the number at risk at day.
func kaplanMeierCumulativeIncidence(obs []survivalObs, day float64) (float64, int) {
	if len(obs) == 0 {
		return 0, 0
	}
	sorted := make([]survivalObs, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].time < sorted[j].time })

	survival := 1.0
	atRisk := 0
	for i := 0; i < len(sorted); i++ {
		t := sorted[i].time
		if t > day {
			break
		}
		var nAtRisk, nEvents float64
		for j := i; j < len(sorted); j++ {
			if sorted[j].time >= t {
				nAtRisk += sorted[j].weight
			}
		}
		if nAtRisk == 0 {
			continue
		}
		// Aggregate simultaneous events at this exact time.
		if i > 0 && sorted[i-1].time == t {
			continue
		}
		for j := i; j < len(sorted) && sorted[j].time == t; j++ {
			if sorted[j].event == 1 {
				nEvents += sorted[j].weight
			}
		}
		if nEvents > 0 {
			survival *= 1 - nEvents/nAtRisk
		}
	}

	for _, o := range sorted {
		if o.time >= day {
			atRisk++
		}
	}

	return 1 - survival, atRisk
}

// standardNormalCDF evaluates Phi(x) via the error function.
func standardNormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// chiSquareCDF1DOF evaluates the chi-squared CDF with 1 degree of freedom,
// which reduces to 2*Phi(sqrt(x))-1.
func chiSquareCDF1DOF(x float64) float64 {
	if x < 0 {
		return 0
	}
	return 2*standardNormalCDF(math.Sqrt(x)) - 1
}
