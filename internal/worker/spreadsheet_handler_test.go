package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/models"
)

func readReport(t *testing.T, outputDir, jobID string) analysisReport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outputDir, "reports", jobID+".json"))
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var report analysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return report
}

func TestSpreadsheetHandler_CSV(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()
	csvData := "name,amount\nwidget,100\n,,\ngadget,250\n"
	if err := os.WriteFile(filepath.Join(sourceDir, "sales.csv"), []byte(csvData), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	cfg := config.Config{
		AnalysisSourceDir: sourceDir,
		AnalysisOutputDir: outputDir,
		AnalysisMaxBytes:  1 << 20,
	}
	handler, err := NewSpreadsheetHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	res, err := handler.Analyze(context.Background(), models.AnalysisJob{
		ID:         "job-csv",
		FileName:   "sales.csv",
		Complexity: 0.2,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.AITier != 1 {
		t.Fatalf("expected AI tier 1, got %d", res.AITier)
	}
	if res.ReportKey != "reports/job-csv.json" {
		t.Fatalf("unexpected report key %q", res.ReportKey)
	}
	// One empty row out of four crosses the sparse-layout threshold.
	if res.Findings != 1 {
		t.Fatalf("expected 1 finding, got %d", res.Findings)
	}

	report := readReport(t, outputDir, "job-csv")
	if report.Sheets != 1 || report.Rows != 4 {
		t.Fatalf("unexpected shape: sheets=%d rows=%d", report.Sheets, report.Rows)
	}
	if report.Cells != 6 {
		t.Fatalf("expected 6 filled cells, got %d", report.Cells)
	}
	if report.EmptyRows != 1 {
		t.Fatalf("expected 1 empty row, got %d", report.EmptyRows)
	}
	if report.Truncated {
		t.Fatalf("small file should not be truncated")
	}
	if len(report.Notes) != 1 || !strings.Contains(report.Notes[0], "sparse") {
		t.Fatalf("expected sparse layout note, got %v", report.Notes)
	}
}

func TestSpreadsheetHandler_Workbook(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	wb := excelize.NewFile()
	if err := wb.SetCellValue("Sheet1", "A1", "revenue"); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := wb.SetCellValue("Sheet1", "B1", 1200); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	// A formula cell with a cached value, as real exports carry.
	if err := wb.SetCellValue("Sheet1", "B2", 1200); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := wb.SetCellFormula("Sheet1", "B2", "SUM(B1:B1)"); err != nil {
		t.Fatalf("set formula: %v", err)
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "report.xlsx"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := config.Config{
		AnalysisSourceDir: sourceDir,
		AnalysisOutputDir: outputDir,
		AnalysisMaxBytes:  10 << 20,
	}
	handler, err := NewSpreadsheetHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	res, err := handler.Analyze(context.Background(), models.AnalysisJob{
		ID:         "job-xlsx",
		FileName:   "report.xlsx",
		Complexity: 0.5,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.AITier != 2 {
		t.Fatalf("expected AI tier 2, got %d", res.AITier)
	}

	report := readReport(t, outputDir, "job-xlsx")
	if report.Sheets != 1 {
		t.Fatalf("expected 1 sheet, got %d", report.Sheets)
	}
	if report.Rows != 2 || report.Cells != 3 {
		t.Fatalf("unexpected shape: rows=%d cells=%d", report.Rows, report.Cells)
	}
	if report.Formulas != 1 {
		t.Fatalf("expected 1 formula, got %d", report.Formulas)
	}
	if len(report.Notes) != 0 {
		t.Fatalf("expected no notes, got %v", report.Notes)
	}
}

func TestSpreadsheetHandler_HTTPSource(t *testing.T) {
	outputDir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	cfg := config.Config{
		AnalysisOutputDir: outputDir,
		AnalysisMaxBytes:  1 << 20,
	}
	handler, err := NewSpreadsheetHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	_, err = handler.Analyze(context.Background(), models.AnalysisJob{
		ID:       "job-http",
		FileName: "remote.csv",
		FileKey:  srv.URL,
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	report := readReport(t, outputDir, "job-http")
	if report.Rows != 2 || report.Cells != 4 {
		t.Fatalf("unexpected shape: rows=%d cells=%d", report.Rows, report.Cells)
	}
}

func TestSpreadsheetHandler_SizeLimit(t *testing.T) {
	sourceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "big.csv"), []byte("aaaaaaaaaaaaaaaaaaaa"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	cfg := config.Config{
		AnalysisSourceDir: sourceDir,
		AnalysisOutputDir: t.TempDir(),
		AnalysisMaxBytes:  10,
	}
	handler, err := NewSpreadsheetHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	_, err = handler.Analyze(context.Background(), models.AnalysisJob{ID: "job-big", FileName: "big.csv"})
	if err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestSpreadsheetHandler_LegacyXLS(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "old.xls"), []byte("binary"), 0o644); err != nil {
		t.Fatalf("write xls: %v", err)
	}

	cfg := config.Config{
		AnalysisSourceDir: sourceDir,
		AnalysisOutputDir: outputDir,
		AnalysisMaxBytes:  1 << 20,
	}
	handler, err := NewSpreadsheetHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	res, err := handler.Analyze(context.Background(), models.AnalysisJob{ID: "job-xls", FileName: "old.xls"})
	if err != nil {
		t.Fatalf("legacy format should not fail: %v", err)
	}
	if res.Findings != 1 {
		t.Fatalf("expected the skip note counted as a finding, got %d", res.Findings)
	}

	report := readReport(t, outputDir, "job-xls")
	if len(report.Notes) != 1 {
		t.Fatalf("expected one note, got %v", report.Notes)
	}
}
