// Package history persists job lifecycle records and transcription results.
//
// Every job has one or more versioned records. A record is updated in place
// while the job is still running; once a terminal state has been stored, any
// later write adds a new version instead of overwriting it.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/transcript"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	interruptedMessage = "interrupted by service restart"
)

// ErrResultExists is returned when a result is saved twice for the same job.
var ErrResultExists = errors.New("result already stored")

// Stats aggregates the records of the trailing Days days.
type Stats struct {
	Days                 int                   `json:"days"`
	Total                int                   `json:"total"`
	ByStatus             map[job.JobStatus]int `json:"by_status"`
	AvgProcessingSeconds float64               `json:"avg_processing_seconds"`
	TotalAudioSeconds    float64               `json:"total_audio_seconds"`
}

// Page is one query response.
type Page struct {
	Jobs  []job.Job `json:"jobs"`
	Total int       `json:"total"`
	Stats *Stats    `json:"stats,omitempty"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a store on a database migrated by db.NewSQLite.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const recordColumns = `job_id, version, batch_id, file_path, file_name, size_bytes, duration_seconds, format,
	sample_rate, channels, status, progress, current_chunk, total_chunks, settings, error,
	cancel_requested, cancel_reason, started_at, processing_at, completed_at`

// latestRecords selects the newest version of every job.
const latestRecords = `WITH latest AS (
	SELECT r.* FROM job_records r
	JOIN (SELECT job_id, MAX(version) AS version FROM job_records GROUP BY job_id) m
		ON m.job_id = r.job_id AND m.version = r.version
)`

// Record stores a job snapshot. res, when non-nil and the job is completed,
// is stored alongside unless a result already exists.
func (s *Store) Record(ctx context.Context, j job.Job, res *transcript.Result) error {
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		version     int
		status      string
		completedAt sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT version, status, completed_at FROM job_records WHERE job_id = ? ORDER BY version DESC LIMIT 1",
		j.ID,
	).Scan(&version, &status, &completedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = s.insertRecord(ctx, tx, j, 1, settings)
	case err != nil:
		return fmt.Errorf("load latest record: %w", err)
	case job.JobStatus(status).IsTerminal():
		if status == string(j.Status) && completedAt.Int64 == nanos(j.CompletedAt).Int64 {
			break
		}
		err = s.insertRecord(ctx, tx, j, version+1, settings)
	default:
		err = s.updateRecord(ctx, tx, j, version, settings)
	}
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}

	if res != nil && j.Status == job.StatusCompleted {
		if err := insertResult(ctx, tx, res, true); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveResult stores the result of a job. Results are never replaced.
func (s *Store) SaveResult(ctx context.Context, res *transcript.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertResult(ctx, tx, res, false); err != nil {
		return err
	}
	return tx.Commit()
}

func insertResult(ctx context.Context, tx *sql.Tx, res *transcript.Result, ignoreExisting bool) error {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_results WHERE job_id = ?", res.JobID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		if ignoreExisting {
			return nil
		}
		return fmt.Errorf("job %s: %w", res.JobID, ErrResultExists)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO job_results (job_id, result) VALUES (?, ?)", res.JobID, string(data))
	return err
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, j job.Job, version int, settings []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_records (`+recordColumns+`, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, version, j.BatchID, j.Audio.Path, j.Audio.Name, j.Audio.SizeBytes, j.Audio.DurationSeconds, j.Audio.Format,
		j.Audio.SampleRate, j.Audio.Channels, string(j.Status), j.Progress, j.CurrentChunk, j.TotalChunks, string(settings), j.Error,
		j.CancelRequested, j.CancelReason, j.StartedAt.UnixNano(), nanos(j.ProcessingAt), nanos(j.CompletedAt),
		s.now().UnixNano(),
	)
	return err
}

func (s *Store) updateRecord(ctx context.Context, tx *sql.Tx, j job.Job, version int, settings []byte) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE job_records SET status = ?, progress = ?, current_chunk = ?, total_chunks = ?, settings = ?, error = ?,
			cancel_requested = ?, cancel_reason = ?, processing_at = ?, completed_at = ?, recorded_at = ?
		WHERE job_id = ? AND version = ?`,
		string(j.Status), j.Progress, j.CurrentChunk, j.TotalChunks, string(settings), j.Error,
		j.CancelRequested, j.CancelReason, nanos(j.ProcessingAt), nanos(j.CompletedAt), s.now().UnixNano(),
		j.ID, version,
	)
	return err
}

// Get returns the latest record of a job.
func (s *Store) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM job_records WHERE job_id = ? ORDER BY version DESC LIMIT 1", id)
	j, _, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, &job.NotFoundError{Kind: "job", ID: id}
	}
	return j, err
}

// Versions returns every stored version of a job, oldest first.
func (s *Store) Versions(ctx context.Context, id string) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM job_records WHERE job_id = ? ORDER BY version ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, _, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &job.NotFoundError{Kind: "job", ID: id}
	}
	return out, nil
}

// Result returns the stored result of a job.
func (s *Store) Result(ctx context.Context, id string) (*transcript.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT result FROM job_results WHERE job_id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &job.NotFoundError{Kind: "result", ID: id}
	}
	if err != nil {
		return nil, err
	}
	var res transcript.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", id, err)
	}
	return &res, nil
}

// Query returns the latest record of every job matching f, newest first.
// statsDays > 0 adds aggregate statistics over that many trailing days.
func (s *Store) Query(ctx context.Context, f job.ListFilter, statsDays int) (Page, error) {
	switch {
	case f.Limit == 0:
		f.Limit = DefaultLimit
	case f.Limit < 1 || f.Limit > MaxLimit:
		return Page{}, &job.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	if statsDays < 0 {
		return Page{}, &job.ValidationError{Field: "stats_days", Reason: "must not be negative"}
	}

	where, args := filterClause(f)

	var page Page
	err := s.db.QueryRowContext(ctx, latestRecords+" SELECT COUNT(*) FROM latest"+where, args...).Scan(&page.Total)
	if err != nil {
		return Page{}, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		latestRecords+" SELECT "+recordColumns+" FROM latest"+where+" ORDER BY started_at DESC, job_id DESC LIMIT ?",
		append(args, f.Limit)...)
	if err != nil {
		return Page{}, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	page.Jobs = make([]job.Job, 0, f.Limit)
	for rows.Next() {
		j, _, err := scanRecord(rows)
		if err != nil {
			return Page{}, err
		}
		page.Jobs = append(page.Jobs, j)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	if statsDays > 0 {
		st, err := s.stats(ctx, statsDays)
		if err != nil {
			return Page{}, err
		}
		page.Stats = st
	}
	return page, nil
}

func filterClause(f job.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.From != nil {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.From.UnixNano())
	}
	if f.To != nil {
		conds = append(conds, "started_at <= ?")
		args = append(args, f.To.UnixNano())
	}
	if f.Search != "" {
		conds = append(conds, `LOWER(file_name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(f.Search))+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) stats(ctx context.Context, days int) (*Stats, error) {
	since := s.now().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx,
		latestRecords+" SELECT status, duration_seconds, processing_at, completed_at FROM latest WHERE started_at >= ?",
		since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	st := &Stats{Days: days, ByStatus: make(map[job.JobStatus]int)}
	var (
		procTotal float64
		procCount int
	)
	for rows.Next() {
		var (
			status                string
			duration              float64
			processing, completed sql.NullInt64
		)
		if err := rows.Scan(&status, &duration, &processing, &completed); err != nil {
			return nil, err
		}
		st.Total++
		st.ByStatus[job.JobStatus(status)]++
		if job.JobStatus(status) != job.StatusCompleted {
			continue
		}
		st.TotalAudioSeconds += duration
		if processing.Valid && completed.Valid {
			procTotal += time.Duration(completed.Int64 - processing.Int64).Seconds()
			procCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if procCount > 0 {
		st.AvgProcessingSeconds = procTotal / float64(procCount)
	}
	return st, nil
}

// MarkInterrupted fails every job whose latest record is not terminal. It is
// meant to run at startup, before the queue accepts work.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_records SET status = ?, error = ?, completed_at = ?, recorded_at = ?
		WHERE status IN (?, ?)
		AND version = (SELECT MAX(version) FROM job_records r WHERE r.job_id = job_records.job_id)`,
		string(job.StatusFailed), interruptedMessage, now, now,
		string(job.StatusPending), string(job.StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Prune deletes terminal jobs that finished before cutoff, with their
// results, and returns their ids.
func (s *Store) Prune(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, latestRecords+`
		SELECT job_id FROM latest WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusCancelled), before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("select prunable: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM job_records WHERE job_id = ?", id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM job_results WHERE job_id = ?", id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (job.Job, int, error) {
	var (
		j                     job.Job
		version               int
		status, settings      string
		started               int64
		processing, completed sql.NullInt64
	)
	err := row.Scan(&j.ID, &version, &j.BatchID, &j.Audio.Path, &j.Audio.Name, &j.Audio.SizeBytes,
		&j.Audio.DurationSeconds, &j.Audio.Format, &j.Audio.SampleRate, &j.Audio.Channels, &status, &j.Progress,
		&j.CurrentChunk, &j.TotalChunks, &settings, &j.Error, &j.CancelRequested, &j.CancelReason,
		&started, &processing, &completed)
	if err != nil {
		return job.Job{}, 0, err
	}
	j.Status = job.JobStatus(status)
	j.StartedAt = time.Unix(0, started).UTC()
	j.ProcessingAt = fromNanos(processing)
	j.CompletedAt = fromNanos(completed)
	if err := json.Unmarshal([]byte(settings), &j.Settings); err != nil {
		return job.Job{}, 0, fmt.Errorf("decode settings of %s: %w", j.ID, err)
	}
	return j, version, nil
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
