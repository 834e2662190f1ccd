package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/decorate"
)

// insertBatchSize keeps multi-row inserts well below the PostgreSQL limit of bound parameters.
const insertBatchSize = 1000

// RecordsQuery selects anomaly records.
// Zero bounds are open, and records are returned when From <= timestamp < To.
type RecordsQuery struct {
	JobIDs   []string
	From     time.Time
	To       time.Time
	MinScore float64
}

// InsertAnomalyRecords stores anomaly records.
func (db *Manager) InsertAnomalyRecords(ctx context.Context, records []models.AnomalyRecord) (err error) {
	defer decorate.OnError(&err, "could not insert %d anomaly records", len(records))

	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for start := 0; start < len(records); start += insertBatchSize {
		batch := records[start:min(start+insertBatchSize, len(records))]

		insert := psql.Insert(anomalyRecordsTable).Columns("job_id", "timestamp", "record_score", "record")
		for _, r := range batch {
			doc, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("could not marshal anomaly record of job %q: %v", r.JobID, err)
			}
			insert = insert.Values(r.JobID, r.Timestamp, r.RecordScore, doc)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return wrapErr("build query", err)
		}
		if _, err := pool.Exec(ctx, query, args...); err != nil {
			return wrapErr("insert anomaly records", err)
		}
	}
	return nil
}

// AnomalyRecords returns the records matching q, ordered by timestamp.
func (db *Manager) AnomalyRecords(ctx context.Context, q RecordsQuery) (_ []models.AnomalyRecord, err error) {
	defer decorate.OnError(&err, "could not read anomaly records of jobs %v", q.JobIDs)

	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	where := sq.And{sq.Eq{"job_id": q.JobIDs}}
	if !q.From.IsZero() {
		where = append(where, sq.GtOrEq{"timestamp": q.From})
	}
	if !q.To.IsZero() {
		where = append(where, sq.Lt{"timestamp": q.To})
	}
	if q.MinScore > 0 {
		where = append(where, sq.GtOrEq{"record_score": q.MinScore})
	}

	query, args, err := psql.Select("record").
		From(anomalyRecordsTable).
		Where(where).
		OrderBy("timestamp", "id").
		ToSql()
	if err != nil {
		return nil, wrapErr("build query", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query anomaly records", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, wrapErr("read anomaly records", err)
	}

	records := make([]models.AnomalyRecord, 0, len(docs))
	for _, d := range docs {
		var r models.AnomalyRecord
		if err := json.Unmarshal(d, &r); err != nil {
			return nil, fmt.Errorf("invalid stored anomaly record: %v", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// JobTimeRanges returns, per job, the timestamps of the earliest and latest records.
// Jobs without records are absent from the result.
func (db *Manager) JobTimeRanges(ctx context.Context, jobIDs []string) (_ map[string]models.TimeRange, err error) {
	defer decorate.OnError(&err, "could not read time ranges of jobs %v", jobIDs)

	pool, ctx, cancel, err := db.pool(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	query, args, err := psql.Select("job_id", "min(timestamp)", "max(timestamp)").
		From(anomalyRecordsTable).
		Where(sq.Eq{"job_id": jobIDs}).
		GroupBy("job_id").
		ToSql()
	if err != nil {
		return nil, wrapErr("build query", err)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query job time ranges", err)
	}
	defer rows.Close()

	ranges := make(map[string]models.TimeRange)
	for rows.Next() {
		var id string
		var tr models.TimeRange
		if err := rows.Scan(&id, &tr.From, &tr.To); err != nil {
			return nil, wrapErr("read job time ranges", err)
		}
		ranges[id] = tr
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("read job time ranges", err)
	}
	return ranges, nil
}
