package admission

import (
	"path/filepath"
	"strings"

	"excel-analysis-scheduler/internal/models"
)

const mib = int64(1) << 20

// extensionScores reflects how expensive each format tends to be to analyze.
// Macro-enabled workbooks carry formulas and VBA that dominate analysis cost.
var extensionScores = map[string]float64{
	".csv":  0.2,
	".xls":  0.5,
	".xlsx": 0.6,
	".xlsm": 0.8,
}

const defaultExtensionScore = 0.5

// EstimateComplexity scores how expensive a file will be to analyze, in [0,1].
// It blends the file's size bucket, its format, and the AI tier that files of
// comparable size needed historically. Missing history falls back to a neutral
// score; the function never fails.
func EstimateComplexity(fileSize int64, fileName string, history []models.FileHistory) float64 {
	score := 0.4*sizeScore(fileSize) + 0.3*extensionScore(fileName) + 0.3*historyScore(history)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func sizeScore(fileSize int64) float64 {
	switch {
	case fileSize <= 1*mib:
		return 0.1
	case fileSize <= 5*mib:
		return 0.3
	case fileSize <= 20*mib:
		return 0.5
	case fileSize <= 50*mib:
		return 0.7
	default:
		return 0.9
	}
}

func extensionScore(fileName string) float64 {
	ext := strings.ToLower(filepath.Ext(fileName))
	if s, ok := extensionScores[ext]; ok {
		return s
	}
	return defaultExtensionScore
}

// historyScore buckets the mean AI tier used for similar-sized files. Tiers
// run 1 (cheap model) to 3 (premium model); heavier historical tiers signal a
// more complex file population in this size band.
func historyScore(history []models.FileHistory) float64 {
	if len(history) == 0 {
		return 0.5
	}
	var sum int
	for _, h := range history {
		sum += h.AITier
	}
	avg := float64(sum) / float64(len(history))
	switch {
	case avg <= 1.3:
		return 0.3
	case avg <= 1.7:
		return 0.6
	default:
		return 0.9
	}
}
