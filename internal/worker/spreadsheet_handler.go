package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"

	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/models"
)

type reportUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// SpreadsheetHandler runs the structural analysis of one workbook: fetch the
// source file, walk its sheets within the configured bounds, and write a JSON
// report.
type SpreadsheetHandler struct {
	cfg        config.Config
	httpClient *http.Client
	s3Client   *s3.Client
	sourceDir  string
	local      reportUploader
	s3         reportUploader
}

// analysisReport is the JSON document written for each completed analysis.
type analysisReport struct {
	JobID       string    `json:"job_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	AITier      int       `json:"ai_tier"`
	Sheets      int       `json:"sheets"`
	Rows        int       `json:"rows"`
	Cells       int       `json:"cells"`
	Formulas    int       `json:"formulas"`
	EmptyRows   int       `json:"empty_rows"`
	Truncated   bool      `json:"truncated"`
	Notes       []string  `json:"notes,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewSpreadsheetHandler constructs the handler and chooses an uploader
// (local or S3).
func NewSpreadsheetHandler(ctx context.Context, cfg config.Config) (*SpreadsheetHandler, error) {
	timeout := cfg.AnalysisDownloadTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	sourceDir := cfg.AnalysisSourceDir
	if sourceDir == "" {
		sourceDir = "./data/uploads"
	}
	outputDir := cfg.AnalysisOutputDir
	if outputDir == "" {
		outputDir = "./data/reports"
	}

	h := &SpreadsheetHandler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		sourceDir:  sourceDir,
		local:      &localUploader{baseDir: outputDir},
	}

	if cfg.AnalysisS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		h.s3Client = client
		h.s3 = &s3Uploader{client: client, bucket: cfg.AnalysisS3Bucket}
	}

	return h, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AnalysisS3Region),
	}
	if cfg.AnalysisS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AnalysisS3Endpoint,
					HostnameImmutable: cfg.AnalysisS3PathStyle,
					SigningRegion:     cfg.AnalysisS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AnalysisS3PathStyle
	}), nil
}

// Analyze fetches the workbook, scans its structure, and uploads the report.
func (h *SpreadsheetHandler) Analyze(ctx context.Context, job models.AnalysisJob) (Result, error) {
	data, err := h.fetch(ctx, job)
	if err != nil {
		return Result{}, err
	}

	report := analysisReport{
		JobID:       job.ID,
		FileName:    job.FileName,
		FileSize:    int64(len(data)),
		AITier:      aiTierFor(job.Complexity),
		GeneratedAt: time.Now().UTC(),
	}

	switch ext := strings.ToLower(filepath.Ext(job.FileName)); ext {
	case ".csv":
		err = scanCSV(data, h.maxRows(), &report)
	case ".xlsx", ".xlsm":
		err = scanWorkbook(ctx, data, h.maxSheets(), h.maxRows(), &report)
	case ".xls":
		report.Notes = append(report.Notes, "legacy xls container, structural scan skipped")
	default:
		report.Notes = append(report.Notes, fmt.Sprintf("unrecognized extension %q, structural scan skipped", ext))
	}
	if err != nil {
		return Result{}, err
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode report: %w", err)
	}

	key := sanitizeKey(fmt.Sprintf("reports/%s.json", job.ID))
	uploader := h.local
	if h.s3 != nil {
		uploader = h.s3
	}
	if _, err := uploader.Upload(ctx, key, body, "application/json"); err != nil {
		return Result{}, fmt.Errorf("upload report: %w", err)
	}

	return Result{AITier: report.AITier, ReportKey: key, Findings: len(report.Notes)}, nil
}

// fetch resolves the job's file key: an http(s) URL, an s3 URL, a bare key in
// the configured bucket, or a file under the local source directory.
func (h *SpreadsheetHandler) fetch(ctx context.Context, job models.AnalysisJob) ([]byte, error) {
	key := job.FileKey
	switch {
	case strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://"):
		return h.download(ctx, key)
	case strings.HasPrefix(key, "s3://"):
		bucket, objectKey, ok := splitS3URL(key)
		if !ok {
			return nil, fmt.Errorf("malformed s3 url %q", key)
		}
		return h.getObject(ctx, bucket, objectKey)
	case key != "" && h.s3Client != nil:
		return h.getObject(ctx, h.cfg.AnalysisS3Bucket, key)
	default:
		return h.readLocal(job)
	}
}

func (h *SpreadsheetHandler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return h.readBounded(resp.Body)
}

func (h *SpreadsheetHandler) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if h.s3Client == nil {
		return nil, errors.New("s3 source requested but ANALYSIS_S3_BUCKET is not configured")
	}
	out, err := h.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return h.readBounded(out.Body)
}

func (h *SpreadsheetHandler) readLocal(job models.AnalysisJob) ([]byte, error) {
	name := job.FileKey
	if name == "" {
		name = job.FileName
	}
	path := filepath.Join(h.sourceDir, sanitizeKey(name))
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.Size() > h.limit() {
		return nil, fmt.Errorf("file too large (>%d bytes)", h.limit())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	return data, nil
}

func (h *SpreadsheetHandler) readBounded(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, h.limit()+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(body)) > h.limit() {
		return nil, fmt.Errorf("file too large (>%d bytes)", h.limit())
	}
	return body, nil
}

func (h *SpreadsheetHandler) limit() int64 {
	if h.cfg.AnalysisMaxBytes > 0 {
		return h.cfg.AnalysisMaxBytes
	}
	return 200 << 20
}

func (h *SpreadsheetHandler) maxSheets() int {
	if h.cfg.AnalysisMaxSheets > 0 {
		return h.cfg.AnalysisMaxSheets
	}
	return 10
}

func (h *SpreadsheetHandler) maxRows() int {
	if h.cfg.AnalysisMaxRows > 0 {
		return h.cfg.AnalysisMaxRows
	}
	return 5000
}

// scanWorkbook walks an xlsx/xlsm workbook within the sheet and row bounds,
// counting filled cells, formulas, and empty rows.
func scanWorkbook(ctx context.Context, data []byte, maxSheets, maxRows int, report *analysisReport) error {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	report.Sheets = len(sheets)
	if len(sheets) > maxSheets {
		sheets = sheets[:maxSheets]
		report.Truncated = true
	}

	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) > maxRows {
			rows = rows[:maxRows]
			report.Truncated = true
		}
		for ri, row := range rows {
			report.Rows++
			filled := 0
			for ci, cell := range row {
				if strings.TrimSpace(cell) == "" {
					continue
				}
				filled++
				name, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					continue
				}
				if formula, _ := f.GetCellFormula(sheet, name); formula != "" {
					report.Formulas++
				}
			}
			report.Cells += filled
			if filled == 0 {
				report.EmptyRows++
			}
		}
	}

	appendStructureNotes(report)
	return nil
}

// scanCSV counts rows, filled cells, and empty rows in a CSV file, bounded
// by maxRows.
func scanCSV(data []byte, maxRows int, report *analysisReport) error {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	report.Sheets = 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse csv: %w", err)
		}
		if report.Rows >= maxRows {
			report.Truncated = true
			break
		}
		report.Rows++
		filled := 0
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				filled++
			}
		}
		report.Cells += filled
		if filled == 0 {
			report.EmptyRows++
		}
	}

	appendStructureNotes(report)
	return nil
}

// appendStructureNotes flags layouts that typically slow downstream analysis.
func appendStructureNotes(report *analysisReport) {
	if report.Rows > 0 && report.EmptyRows*5 >= report.Rows {
		report.Notes = append(report.Notes, fmt.Sprintf("%d of %d rows are empty, sparse sheet layout", report.EmptyRows, report.Rows))
	}
	if report.Cells > 0 && report.Formulas*2 >= report.Cells {
		report.Notes = append(report.Notes, "formula-dominated workbook, recalculation heavy")
	}
}

func splitS3URL(url string) (bucket, key string, ok bool) {
	rest := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
