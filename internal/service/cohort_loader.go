package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

var requiredColumns = []string{"subject_id", "treatment_group", "mortality"}

// CohortLoaderService implements the Cohort Loader (C2).
type CohortLoaderService struct {
	logger   *logrus.Logger
	registry domain.CovariateRegistry
}

// NewCohortLoaderService constructs a CohortLoaderService.
func NewCohortLoaderService(logger *logrus.Logger, registry domain.CovariateRegistry) *CohortLoaderService {
	return &CohortLoaderService{logger: logger, registry: registry}
}

// Load implements domain.CohortLoader. It reads the tabular cohort file,
// applies registry dtypes, enforces the exclusion set, censors follow-up,
// and selects the covariate list for matching.
func (l *CohortLoaderService) Load(ctx context.Context, path string, followUpDays float64, missingnessThreshold float64) (*domain.Cohort, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrDataUnavailable, domain.StageLoad,
			fmt.Sprintf("cohort file %q unreadable", path), err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrDataUnavailable, domain.StageLoad,
			"cohort file has no header row", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	for _, required := range requiredColumns {
		if _, ok := colIndex[required]; !ok {
			return nil, domain.NewPipelineError(domain.ErrSchemaViolation, domain.StageLoad,
				fmt.Sprintf("required column %q absent", required), nil)
		}
	}

	var records []domain.CohortRecord
	missingCounts := make(map[string]int)
	totalRows := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.NewPipelineError(domain.ErrSchemaViolation, domain.StageLoad,
				"malformed row in cohort file", err)
		}
		totalRows++

		rec := domain.CohortRecord{
			SubjectID:        cell(row, colIndex, "subject_id"),
			HadmID:           cell(row, colIndex, "hadm_id"),
			StayID:           cell(row, colIndex, "stay_id"),
			Covariates:       make(map[string]float64),
			CovariateMissing: make(map[string]bool),
		}

		rec.TreatmentGroup, err = parseIntCol(row, colIndex, "treatment_group")
		if err != nil {
			return nil, domain.NewPipelineError(domain.ErrSchemaViolation, domain.StageLoad,
				"treatment_group not parseable as 0/1", err)
		}
		rec.Mortality, err = parseIntCol(row, colIndex, "mortality")
		if err != nil {
			return nil, domain.NewPipelineError(domain.ErrSchemaViolation, domain.StageLoad,
				"mortality not parseable as 0/1", err)
		}

		outcomeDays, err := parseFloatCol(row, colIndex, "outcome_days")
		if err != nil {
			return nil, domain.NewPipelineError(domain.ErrSchemaViolation, domain.StageLoad,
				"outcome_days not parseable as a non-negative real", err)
		}
		rec.OutcomeDaysOriginal = outcomeDays
		if outcomeDays > followUpDays {
			rec.OutcomeDays = followUpDays
			if rec.Mortality == 1 {
				rec.Mortality = 0
			}
		} else {
			rec.OutcomeDays = outcomeDays
		}

		for name, idx := range colIndex {
			if domain.ExcludedFromMatching[name] {
				continue
			}
			raw := row[idx]
			if raw == "" {
				rec.CovariateMissing[name] = true
				missingCounts[name]++
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				rec.CovariateMissing[name] = true
				missingCounts[name]++
				continue
			}
			rec.Covariates[name] = v
		}

		records = append(records, rec)
	}

	covariates := make([]string, 0, len(colIndex))
	for name := range colIndex {
		if domain.ExcludedFromMatching[name] {
			continue
		}
		missingRate := 0.0
		if totalRows > 0 {
			missingRate = float64(missingCounts[name]) / float64(totalRows)
		}
		if missingRate > missingnessThreshold {
			l.logger.WithFields(logrus.Fields{"covariate": name, "missing_rate": missingRate}).
				Warn("dropping covariate above missingness threshold")
			continue
		}
		covariates = append(covariates, name)
	}
	// colIndex is a map, so ranging it above yields a random column order;
	// sort so matching, the causal forest, and every rendered artifact see
	// the same covariate order on every run (§5, §8 property 4).
	sort.Strings(covariates)

	imputeCohort(records, covariates, l.registry, l.logger)

	l.logger.WithFields(logrus.Fields{
		"rows":       len(records),
		"covariates": len(covariates),
	}).Info("cohort loaded")

	return &domain.Cohort{Records: records, Covariates: covariates}, nil
}

// imputeCohort fills missing covariate values per C1's policy: mean for
// continuous, mode for binary/ordinal/categorical. A column with no
// observed values at all imputes to 0 with a logged warning.
func imputeCohort(records []domain.CohortRecord, covariates []string, registry domain.CovariateRegistry, logger *logrus.Logger) {
	for _, name := range covariates {
		var sum float64
		n := 0
		counts := make(map[float64]int)
		for _, r := range records {
			if r.CovariateMissing[name] {
				continue
			}
			v := r.Covariates[name]
			sum += v
			n++
			counts[v]++
		}

		strategy := registry.ImputationFor(name, true)
		var fill float64
		if n == 0 {
			fill = 0
			logger.WithField("covariate", name).Warn("covariate has no observed values, imputing 0")
		} else if strategy == domain.ImputeMean {
			fill = sum / float64(n)
		} else {
			values := make([]float64, 0, len(counts))
			for v := range counts {
				values = append(values, v)
			}
			sort.Float64s(values)

			best, bestCount := values[0], -1
			for _, v := range values {
				if c := counts[v]; c > bestCount {
					best, bestCount = v, c
				}
			}
			fill = best
		}

		for i := range records {
			if records[i].CovariateMissing[name] {
				records[i].Covariates[name] = fill
			}
		}
	}
}

func cell(row []string, idx map[string]int, name string) string {
	if i, ok := idx[name]; ok && i < len(row) {
		return row[i]
	}
	return ""
}

func parseIntCol(row []string, idx map[string]int, name string) (int, error) {
	v, err := strconv.Atoi(cell(row, idx, name))
	if err != nil {
		return 0, err
	}
	if v != 0 && v != 1 {
		return 0, fmt.Errorf("column %q must be 0 or 1, got %d", name, v)
	}
	return v, nil
}

func parseFloatCol(row []string, idx map[string]int, name string) (float64, error) {
	v, err := strconv.ParseFloat(cell(row, idx, name), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("column %q must be non-negative, got %f", name, v)
	}
	return v, nil
}
