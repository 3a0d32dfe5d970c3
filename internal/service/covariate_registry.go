package service

import (
	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// staticCovariateDeclaration is the single source of truth for covariate
// semantics (§9). Any other listing of "important covariates" elsewhere in
// the codebase is a defect — it will drift out of sync with this one.
var staticCovariateDeclaration = []domain.CovariateTypeEntry{
	{Name: "age", SemanticType: domain.SemanticContinuous, Unit: "years", Description: "age at ICU admission"},
	{Name: "weight_kg", SemanticType: domain.SemanticContinuous, Unit: "kg", Description: "admission weight"},
	{Name: "height_cm", SemanticType: domain.SemanticContinuous, Unit: "cm", Description: "admission height"},
	{Name: "bmi", SemanticType: domain.SemanticContinuous, Unit: "kg/m2", Description: "body mass index"},
	{Name: "charlson_comorbidity_index", SemanticType: domain.SemanticOrdinal, Description: "Charlson comorbidity score"},
	{Name: "sofa_score", SemanticType: domain.SemanticOrdinal, Description: "SOFA score at admission"},
	{Name: "sapsii_score", SemanticType: domain.SemanticOrdinal, Description: "SAPS II score at admission"},
	{Name: "heart_rate", SemanticType: domain.SemanticContinuous, Unit: "bpm", Description: "baseline heart rate"},
	{Name: "resp_rate", SemanticType: domain.SemanticContinuous, Unit: "breaths/min", Description: "baseline respiratory rate"},
	{Name: "map", SemanticType: domain.SemanticContinuous, Unit: "mmHg", Description: "mean arterial pressure"},
	{Name: "temperature", SemanticType: domain.SemanticContinuous, Unit: "C", Description: "baseline temperature"},
	{Name: "spo2", SemanticType: domain.SemanticContinuous, Unit: "%", Description: "baseline oxygen saturation"},
	{Name: "creatinine", SemanticType: domain.SemanticContinuous, Unit: "mg/dL", Description: "baseline creatinine"},
	{Name: "lactate", SemanticType: domain.SemanticContinuous, Unit: "mmol/L", Description: "baseline lactate"},
	{Name: "wbc", SemanticType: domain.SemanticContinuous, Unit: "10^9/L", Description: "white blood cell count"},
	{Name: "platelet", SemanticType: domain.SemanticContinuous, Unit: "10^9/L", Description: "platelet count"},
	{Name: "bilirubin", SemanticType: domain.SemanticContinuous, Unit: "mg/dL", Description: "total bilirubin"},
	{Name: "hemoglobin", SemanticType: domain.SemanticContinuous, Unit: "g/dL", Description: "baseline hemoglobin"},
	{Name: "glucose", SemanticType: domain.SemanticContinuous, Unit: "mg/dL", Description: "baseline glucose"},
	{Name: "sepsis", SemanticType: domain.SemanticBinary, Description: "sepsis-3 flag at admission"},
	{Name: "diabetes", SemanticType: domain.SemanticBinary, Description: "diabetes comorbidity flag"},
	{Name: "chf", SemanticType: domain.SemanticBinary, Description: "congestive heart failure flag"},
	{Name: "ckd", SemanticType: domain.SemanticBinary, Description: "chronic kidney disease flag"},
	{Name: "copd", SemanticType: domain.SemanticBinary, Description: "chronic obstructive pulmonary disease flag"},
	{Name: "liver_disease", SemanticType: domain.SemanticBinary, Description: "chronic liver disease flag"},
	{Name: "malignancy", SemanticType: domain.SemanticBinary, Description: "active malignancy flag"},
	{Name: "mechanical_ventilation", SemanticType: domain.SemanticBinary, Description: "invasive ventilation at baseline"},
	{Name: "vasopressor", SemanticType: domain.SemanticBinary, Description: "vasopressor use at baseline"},
	{Name: "gender", SemanticType: domain.SemanticBinary, Description: "administrative sex, 1=male"},
	{Name: "admission_type", SemanticType: domain.SemanticCategorical, Description: "ICU admission type"},
	{Name: "ethnicity", SemanticType: domain.SemanticCategorical, Description: "recorded ethnicity"},
	{Name: "first_careunit", SemanticType: domain.SemanticCategorical, Description: "first ICU care unit"},
}

// CovariateRegistry is the process-wide, read-only-after-init implementation
// of the Covariate-Type Registry (C1).
type CovariateRegistry struct {
	logger  *logrus.Logger
	byName  map[string]domain.CovariateTypeEntry
	byType  map[domain.SemanticType][]string
}

// NewCovariateRegistry populates the registry once, at startup, from the
// static declaration above.
func NewCovariateRegistry(logger *logrus.Logger) *CovariateRegistry {
	r := &CovariateRegistry{
		logger: logger,
		byName: make(map[string]domain.CovariateTypeEntry, len(staticCovariateDeclaration)),
		byType: make(map[domain.SemanticType][]string),
	}
	for _, entry := range staticCovariateDeclaration {
		r.byName[entry.Name] = entry
		r.byType[entry.SemanticType] = append(r.byType[entry.SemanticType], entry.Name)
	}
	logger.WithField("covariate_count", len(r.byName)).Info("covariate type registry initialized")
	return r
}

// TypeOf implements domain.CovariateRegistry.
func (r *CovariateRegistry) TypeOf(name string) (domain.SemanticType, bool) {
	entry, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return entry.SemanticType, true
}

// FeaturesOfType implements domain.CovariateRegistry.
func (r *CovariateRegistry) FeaturesOfType(t domain.SemanticType) []string {
	return r.byType[t]
}

// ImputationFor implements domain.CovariateRegistry's imputation policy
// (§4.1): continuous->mean, binary/ordinal/categorical->mode, unknown name
// falls back on the caller-observed dtype (integer->mode, floating->mean).
func (r *CovariateRegistry) ImputationFor(name string, fallbackIsFloat bool) domain.ImputationStrategy {
	if t, ok := r.TypeOf(name); ok {
		if t == domain.SemanticContinuous {
			return domain.ImputeMean
		}
		return domain.ImputeMode
	}
	if fallbackIsFloat {
		return domain.ImputeMean
	}
	return domain.ImputeMode
}
