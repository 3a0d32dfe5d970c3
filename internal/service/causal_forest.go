package service

import (
	"context"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// CausalForestService implements the Heterogeneous-Effect Estimator (C7):
// a causal forest over the matched sample, treatment = treatment_group,
// outcome = mortality, effect modifiers = the matching covariates (§4.7).
type CausalForestService struct {
	logger *logrus.Logger
}

// NewCausalForestService constructs a CausalForestService.
func NewCausalForestService(logger *logrus.Logger) *CausalForestService {
	return &CausalForestService{logger: logger}
}

type causalTreeNode struct {
	isLeaf      bool
	splitFeat   string
	splitValue  float64
	left, right *causalTreeNode
	cate        float64
}

// Fit implements domain.HeterogeneousEffectEstimator.
func (c *CausalForestService) Fit(ctx context.Context, sample *domain.MatchedSample, covariates []string, cfg domain.CausalForestConfig) (*domain.HeterogeneousEffectResult, error) {
	complete := make([]int, 0, len(sample.Rows))
	for i, r := range sample.Rows {
		if hasAllCovariates(r, covariates) {
			complete = append(complete, i)
		}
	}
	if len(complete) < cfg.MinSamplesLeaf*2 {
		return nil, domain.NewPipelineError(domain.ErrHeterogeneityFailure, domain.StageHetero,
			"insufficient complete cases to fit a causal forest", nil)
	}

	rng := rand.New(rand.NewSource(cfg.RandomState))
	trees := make([]*causalTreeNode, cfg.NEstimators)
	importance := make(map[string]float64, len(covariates))

	for t := 0; t < cfg.NEstimators; t++ {
		bootstrap := sampleWithReplacement(complete, rng)
		trees[t] = buildCausalTree(sample.Rows, bootstrap, covariates, cfg.MinSamplesLeaf, rng, importance)
	}

	cate := make([]*float64, len(sample.Rows))
	var sum, sumSq float64
	var minV, maxV float64
	minV, maxV = math.Inf(1), math.Inf(-1)
	positive := 0
	n := 0

	for _, idx := range complete {
		var total float64
		for _, tree := range trees {
			total += predictCausalTree(tree, sample.Rows[idx])
		}
		effect := total / float64(len(trees))
		v := effect
		cate[idx] = &v

		sum += effect
		sumSq += effect * effect
		if effect < minV {
			minV = effect
		}
		if effect > maxV {
			maxV = effect
		}
		if effect > 0 {
			positive++
		}
		n++
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	var importanceTotal float64
	for _, v := range importance {
		importanceTotal += v
	}
	normalizedImportance := make(map[string]float64, len(importance))
	for k, v := range importance {
		if importanceTotal > 0 {
			normalizedImportance[k] = v / importanceTotal
		} else {
			normalizedImportance[k] = 0
		}
	}

	result := &domain.HeterogeneousEffectResult{
		ATE:         mean,
		CATEPerUnit: cate,
		Stats: domain.CATEStats{
			Mean:         mean,
			SD:           math.Sqrt(variance),
			Min:          minV,
			Max:          maxV,
			PositiveRate: float64(positive) / float64(n),
		},
		FeatureImportances: normalizedImportance,
	}

	c.logger.WithFields(logrus.Fields{
		"ate":            result.ATE,
		"n_complete":     n,
		"n_trees":        cfg.NEstimators,
		"positive_rate":  result.Stats.PositiveRate,
	}).Info("causal forest fit")

	return result, nil
}

func hasAllCovariates(r domain.CohortRecord, covariates []string) bool {
	for _, cov := range covariates {
		if r.CovariateMissing[cov] {
			return false
		}
	}
	return true
}

func sampleWithReplacement(pool []int, rng *rand.Rand) []int {
	out := make([]int, len(pool))
	for i := range out {
		out[i] = pool[rng.Intn(len(pool))]
	}
	return out
}

// buildCausalTree recursively splits on the covariate/threshold that
// maximizes the squared difference in treatment effect between child
// nodes (a treatment-effect criterion in place of outcome-variance
// reduction), subject to a minimum leaf size. Splitting is not honest: the
// same bootstrap rows choose the splits and estimate the leaf effects.
func buildCausalTree(rows []domain.CohortRecord, indices []int, covariates []string, minLeaf int, rng *rand.Rand, importance map[string]float64) *causalTreeNode {
	if len(indices) < 2*minLeaf {
		return leafNode(rows, indices)
	}

	bestFeat := ""
	bestValue := 0.0
	bestScore := -1.0
	var bestLeft, bestRight []int

	// A random subset of covariates per split, mirroring a random-forest
	// style feature subsample for decorrelation across trees.
	candidates := shuffledCopy(covariates, rng)
	maxFeatures := int(math.Sqrt(float64(len(candidates)))) + 1
	if maxFeatures > len(candidates) {
		maxFeatures = len(candidates)
	}

	for _, feat := range candidates[:maxFeatures] {
		threshold, ok := medianThreshold(rows, indices, feat)
		if !ok {
			continue
		}
		left, right := splitByThreshold(rows, indices, feat, threshold)
		if len(left) < minLeaf || len(right) < minLeaf {
			continue
		}
		score := treatmentEffectSplitScore(rows, left, right)
		if score > bestScore {
			bestScore = score
			bestFeat = feat
			bestValue = threshold
			bestLeft, bestRight = left, right
		}
	}

	if bestFeat == "" {
		return leafNode(rows, indices)
	}

	importance[bestFeat] += bestScore

	return &causalTreeNode{
		splitFeat:  bestFeat,
		splitValue: bestValue,
		left:       buildCausalTree(rows, bestLeft, covariates, minLeaf, rng, importance),
		right:      buildCausalTree(rows, bestRight, covariates, minLeaf, rng, importance),
	}
}

func leafNode(rows []domain.CohortRecord, indices []int) *causalTreeNode {
	return &causalTreeNode{isLeaf: true, cate: armDifference(rows, indices)}
}

// armDifference estimates the CATE within a leaf as the difference in
// mean outcome (mortality) between the treated and control arms.
func armDifference(rows []domain.CohortRecord, indices []int) float64 {
	var sumT, sumC float64
	var nT, nC int
	for _, i := range indices {
		r := rows[i]
		if r.TreatmentGroup == 1 {
			sumT += float64(r.Mortality)
			nT++
		} else {
			sumC += float64(r.Mortality)
			nC++
		}
	}
	if nT == 0 || nC == 0 {
		return 0
	}
	return sumT/float64(nT) - sumC/float64(nC)
}

func treatmentEffectSplitScore(rows []domain.CohortRecord, left, right []int) float64 {
	effectLeft := armDifference(rows, left)
	effectRight := armDifference(rows, right)
	diff := effectLeft - effectRight
	return diff * diff
}

func medianThreshold(rows []domain.CohortRecord, indices []int, feat string) (float64, bool) {
	values := make([]float64, 0, len(indices))
	for _, i := range indices {
		if v, ok := rows[i].Covariates[feat]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	sumVal := 0.0
	for _, v := range values {
		sumVal += v
	}
	return sumVal / float64(len(values)), true
}

func splitByThreshold(rows []domain.CohortRecord, indices []int, feat string, threshold float64) (left, right []int) {
	for _, i := range indices {
		if rows[i].Covariates[feat] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func predictCausalTree(node *causalTreeNode, r domain.CohortRecord) float64 {
	for !node.isLeaf {
		if r.Covariates[node.splitFeat] <= node.splitValue {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.cate
}

func shuffledCopy(items []string, rng *rand.Rand) []string {
	out := make([]string, len(items))
	copy(out, items)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
