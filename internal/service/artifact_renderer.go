package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// ArtifactRendererService implements the Artifact Renderer (C8). Image
// rendering uses the standard library's image/png rasterizer directly —
// no charting library appears anywhere in the retrieval pack, so this
// component is a deliberate, justified stdlib-only exception (see
// DESIGN.md).
type ArtifactRendererService struct {
	logger *logrus.Logger
}

// NewArtifactRendererService constructs an ArtifactRendererService.
func NewArtifactRendererService(logger *logrus.Logger) *ArtifactRendererService {
	return &ArtifactRendererService{logger: logger}
}

// RenderBalance implements domain.ArtifactRenderer: the JAMA-style baseline
// table, the balance-assessment CSV, and the SMD love plot PNG.
func (a *ArtifactRendererService) RenderBalance(outputDir string, reports map[domain.MethodName]*domain.BalanceReport, selected domain.MethodName) error {
	report, ok := reports[selected]
	if !ok {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance,
			"no balance report for selected method", nil)
	}

	if err := writeBaselineTable(filepath.Join(outputDir, "baseline_table_main_JAMA.md"), report); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance, "failed writing baseline table", err)
	}
	if err := writeBalanceCSV(filepath.Join(outputDir, "balance_assessment_main.csv"), report); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance, "failed writing balance csv", err)
	}
	if err := writeLovePlot(filepath.Join(outputDir, "main_analysis_smd_plot.png"), report); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance, "failed rendering love plot", err)
	}
	return nil
}

// RenderSelection implements domain.ArtifactRenderer: the two text
// artifacts split per SPEC_FULL §12 — the plain numeric comparison summary
// and the judge's reasoning text.
func (a *ArtifactRendererService) RenderSelection(outputDir string, selection *domain.SelectionRecord) error {
	comparisonPath := filepath.Join(outputDir, "method_comparison_summary.txt")
	reasoningPath := filepath.Join(outputDir, "method_selection_reasoning.txt")

	var comparisonText string
	sorted := make([]domain.MethodComparison, len(selection.AllMethodsSummary))
	copy(sorted, selection.AllMethodsSummary)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NumericRank < sorted[j].NumericRank })

	for _, c := range sorted {
		comparisonText += fmt.Sprintf("rank=%d method=%s mean_abs_smd=%.4f pct_balanced=%.2f n_matched=%d\n",
			c.NumericRank, c.Method, c.MeanAbsSMD, c.PctBalanced, c.NMatched)
	}
	if err := os.WriteFile(comparisonPath, []byte(comparisonText), 0o644); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageSelect, "failed writing comparison summary", err)
	}

	reasoningText := fmt.Sprintf("selected_method=%s\ndiverged_from_numeric_rank=%v\n\n%s\n",
		selection.SelectedMethod, selection.JudgeDiverged, selection.ReasoningText)
	if err := os.WriteFile(reasoningPath, []byte(reasoningText), 0o644); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageSelect, "failed writing selection reasoning", err)
	}
	return nil
}

// RenderSurvival implements domain.ArtifactRenderer: the clean survival
// summary CSV and the cumulative-mortality plot, whose HR annotation is
// written to a caption sidecar. No number-at-risk table is rendered; the
// at-risk counts stay in the SurvivalResult only.
func (a *ArtifactRendererService) RenderSurvival(outputDir string, result *domain.SurvivalResult) error {
	if result == nil {
		return nil
	}
	if err := writeSurvivalSummaryCSV(filepath.Join(outputDir, "main_survival_summary.csv"), result); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderSurvival, "failed writing survival summary", err)
	}
	if err := writeMortalityPlot(filepath.Join(outputDir, "main_analysis_cumulative_mortality.png"), result); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderSurvival, "failed rendering mortality plot", err)
	}
	return nil
}

// RenderMatchedData implements domain.ArtifactRenderer. cate is the
// causal forest's per-unit CATE aligned to sample.Rows (nil entries render
// as NaN); pass nil wholesale before HETERO has run, or for a method that
// was never selected for heterogeneous-effect estimation (SPEC_FULL §12).
func (a *ArtifactRendererService) RenderMatchedData(outputDir string, sample *domain.MatchedSample, method domain.MethodName, cate []*float64) error {
	path := filepath.Join(outputDir, fmt.Sprintf("matched_data_main_%s.csv", method))
	f, err := os.Create(path)
	if err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance, "failed creating matched data csv", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"subject_id", "stay_id", "treatment_group", "mortality", "outcome_days", "outcome_days_original", "weight"}
	if cate != nil {
		header = append(header, "cate_value")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, r := range sample.Rows {
		weight := 1.0
		if i < len(sample.Weights) {
			weight = sample.Weights[i]
		}
		row := []string{
			r.SubjectID,
			r.StayID,
			strconv.Itoa(r.TreatmentGroup),
			strconv.Itoa(r.Mortality),
			strconv.FormatFloat(r.OutcomeDays, 'f', 4, 64),
			strconv.FormatFloat(r.OutcomeDaysOriginal, 'f', 4, 64),
			strconv.FormatFloat(weight, 'f', 6, 64),
		}
		if cate != nil {
			if i < len(cate) && cate[i] != nil {
				row = append(row, strconv.FormatFloat(*cate[i], 'f', 6, 64))
			} else {
				row = append(row, "NaN")
			}
		}
		if err := w.Write(row); err != nil {
			return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageRenderBalance, "failed writing matched data row", err)
		}
	}
	return nil
}

// RenderSummary implements domain.ArtifactRenderer: the persisted LLM (or
// template-fallback) summary JSON (SPEC_FULL §12).
func (a *ArtifactRendererService) RenderSummary(outputDir string, summary map[string]interface{}) error {
	path := filepath.Join(outputDir, "llm_summary.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageSummary, "failed marshaling summary", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.NewPipelineError(domain.ErrRenderFailure, domain.StageSummary, "failed writing summary json", err)
	}
	return nil
}

func writeBaselineTable(path string, report *domain.BalanceReport) error {
	var body string
	body += "| Covariate | SMD before | SMD after | Balanced |\n"
	body += "|---|---:|---:|:---:|\n"
	for _, cov := range report.Covariates {
		body += fmt.Sprintf("| %s | %.3f | %.3f | %v |\n", cov.Covariate, cov.SMDBefore, cov.SMDAfter, cov.Balanced)
	}
	body += fmt.Sprintf("\nMean |SMD| (after): %.4f — %.1f%% balanced\n", report.MeanAbsSMD, report.PctBalanced*100)
	return os.WriteFile(path, []byte(body), 0o644)
}

func writeBalanceCSV(path string, report *domain.BalanceReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"covariate", "smd_before", "smd_after", "balanced"}); err != nil {
		return err
	}
	for _, cov := range report.Covariates {
		row := []string{
			cov.Covariate,
			strconv.FormatFloat(cov.SMDBefore, 'f', 6, 64),
			strconv.FormatFloat(cov.SMDAfter, 'f', 6, 64),
			strconv.FormatBool(cov.Balanced),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeSurvivalSummaryCSV(path string, result *domain.SurvivalResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"n_treatment", "n_control", "mortality_treatment", "mortality_control", "cox_hr", "cox_ci_lower", "cox_ci_upper", "cox_pvalue"}
	if err := w.Write(header); err != nil {
		return err
	}
	row := []string{
		strconv.Itoa(result.NTreatment),
		strconv.Itoa(result.NControl),
		strconv.FormatFloat(result.MortalityRateTreatment, 'f', 4, 64),
		strconv.FormatFloat(result.MortalityRateControl, 'f', 4, 64),
		strconv.FormatFloat(result.HazardRatio, 'f', 4, 64),
		strconv.FormatFloat(result.CI95Lower, 'f', 4, 64),
		strconv.FormatFloat(result.CI95Upper, 'f', 4, 64),
		strconv.FormatFloat(result.PValue, 'f', 6, 64),
	}
	return w.Write(row)
}

// writeLovePlot renders before/after SMD points per covariate on a
// horizontal-axis dotplot, ordered by descending |before-SMD|, with
// reference lines at -0.1/0/+0.1 (§4.8). Rendering is done directly
// against an RGBA canvas, which has no text primitive: the "k/n variables
// improved" annotation is written to a caption sidecar next to the PNG,
// and no legend is drawn.
func writeLovePlot(path string, report *domain.BalanceReport) error {
	const width, height = 900, 40 + 24*30
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, 0, 0, width, height, color.White)

	covariates := make([]domain.CovariateBalance, len(report.Covariates))
	copy(covariates, report.Covariates)
	sort.Slice(covariates, func(i, j int) bool {
		return math.Abs(covariates[i].SMDBefore) > math.Abs(covariates[j].SMDBefore)
	})

	axisLeft, axisRight := 300, width-40
	axisMid := (axisLeft + axisRight) / 2
	scale := float64(axisRight-axisLeft) / 2 / 1.0 // +/-1.0 SMD spans the axis

	drawVLine(img, axisMid, 30, height-30, color.Gray{Y: 80})
	drawVLine(img, axisMid+int(0.1*scale), 30, height-30, color.Gray{Y: 180})
	drawVLine(img, axisMid-int(0.1*scale), 30, height-30, color.Gray{Y: 180})

	improved := 0
	for i, cov := range covariates {
		y := 40 + i*24
		if math.Abs(cov.SMDAfter) < math.Abs(cov.SMDBefore) {
			improved++
		}
		xBefore := axisMid + int(cov.SMDBefore*scale)
		xAfter := axisMid + int(cov.SMDAfter*scale)
		drawTriangle(img, xBefore, y, color.RGBA{R: 200, A: 255})
		drawCircle(img, xAfter, y, color.RGBA{B: 200, A: 255})
	}

	annotation := fmt.Sprintf("%d/%d variables improved", improved, len(covariates))
	if err := os.WriteFile(path+".caption.txt", []byte(annotation), 0o644); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// writeMortalityPlot renders per-arm cumulative mortality as straight
// segments joining the result's CumulativeMortality checkpoints (not a
// step function), plus an HR annotation (§4.8). The plot rasterizer has no
// text-drawing primitive, so the annotation itself is written as a caption
// sidecar next to the PNG rather than silently discarded.
func writeMortalityPlot(path string, result *domain.SurvivalResult) error {
	const width, height = 900, 600
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, 0, 0, width, height, color.White)

	if len(result.CumulativeMortality) > 0 {
		maxDay := result.CumulativeMortality[len(result.CumulativeMortality)-1].Day
		xScale := float64(width-100) / maxDay

		var prevXT, prevYT, prevXC, prevYC int
		for i, p := range result.CumulativeMortality {
			x := 60 + int(p.Day*xScale)
			yT := height - 60 - int(p.TreatmentCumInc*(float64(height)-120))
			yC := height - 60 - int(p.ControlCumInc*(float64(height)-120))
			if i > 0 {
				drawLine(img, prevXT, prevYT, x, yT, color.RGBA{R: 200, A: 255})
				drawLine(img, prevXC, prevYC, x, yC, color.RGBA{B: 200, A: 255})
			}
			prevXT, prevYT, prevXC, prevYC = x, yT, x, yC
		}
	}

	annotation := fmt.Sprintf("HR %.2f (CI %.2f, %.2f); p = %.4f", result.HazardRatio, result.CI95Lower, result.CI95Upper, result.PValue)
	if err := os.WriteFile(path+".caption.txt", []byte(annotation), 0o644); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, c)
		}
	}
}

func drawVLine(img *image.RGBA, x, y0, y1 int, c color.Color) {
	for y := y0; y < y1; y++ {
		img.Set(x, y, c)
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawCircle(img *image.RGBA, cx, cy int, c color.Color) {
	const r = 4
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

func drawTriangle(img *image.RGBA, cx, cy int, c color.Color) {
	const r = 5
	for dy := 0; dy <= r; dy++ {
		half := r - dy
		for dx := -half; dx <= half; dx++ {
			img.Set(cx+dx, cy-dy+r/2, c)
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
