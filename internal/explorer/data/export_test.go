package data

import "github.com/ubuntu/anomaly-explorer/internal/models"

// Compute exposes the aggregation of records for tests.
func Compute(cfg LoadConfig, records []models.AnomalyRecord) (*ExplorerData, error) {
	return compute(cfg, records)
}
