package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a completed or failed job.
	ErrJobFinished = errors.New("job already finished")
	// ErrJobActive is returned when purging a job that is still queued or running.
	ErrJobActive = errors.New("job still active")
)

// Job is one persisted analysis job. Times are unix nanoseconds.
type Job struct {
	ID           string          `json:"id"`
	AnalysisType string          `json:"analysis_type"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	ConfigJSON   json.RawMessage `json:"config_json,omitempty"`
	UploadPath   string          `json:"upload_path,omitempty"`
	UploadName   string          `json:"upload_name,omitempty"`
	Error        string          `json:"error,omitempty"`
	ResultsJSON  json.RawMessage `json:"results_json,omitempty"`
	CreatedAt    int64           `json:"created_at"`
	StartedAt    *int64          `json:"started_at,omitempty"`
	CompletedAt  *int64          `json:"completed_at,omitempty"`
}

// JobStore provides persistence for analysis jobs. Status transitions are
// guarded in SQL so a cancelled job can never be completed afterwards.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `job_id, analysis_type, status, progress, config_json, upload_path,
	upload_name, error, results_json, created_at, started_at, completed_at`

// Insert persists a new job. Status defaults to pending and CreatedAt to now.
func (s *JobStore) Insert(j *Job) error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().UnixNano()
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.AnalysisType, string(j.Status), j.Progress, nullRaw(j.ConfigJSON),
		nullString(j.UploadPath), nullString(j.UploadName), nullString(j.Error),
		nullRaw(j.ResultsJSON), j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns a single job by id.
func (s *JobStore) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return nil, err
	}
	return j, nil
}

// List returns jobs newest first. limit <= 0 returns every job.
func (s *JobStore) List(limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, job_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountActive returns the number of pending or running jobs.
func (s *JobStore) CountActive() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// Start moves a pending job to running. It reports false when the job was
// no longer pending, e.g. because it was cancelled while queued.
func (s *JobStore) Start(id string, at time.Time) (bool, error) {
	return s.transition(`
		UPDATE jobs SET status = 'running', started_at = ?
		WHERE job_id = ? AND status = 'pending'`, at.UnixNano(), id)
}

// SetProgress records progress of a running job.
func (s *JobStore) SetProgress(id string, progress int) (bool, error) {
	return s.transition(`
		UPDATE jobs SET progress = ?
		WHERE job_id = ? AND status = 'running'`, progress, id)
}

// Complete stores the results of a running job. It reports false when the
// job was cancelled meanwhile; the results are then discarded.
func (s *JobStore) Complete(id string, results json.RawMessage, at time.Time) (bool, error) {
	return s.transition(`
		UPDATE jobs SET status = 'completed', progress = 100, results_json = ?, completed_at = ?
		WHERE job_id = ? AND status = 'running'`, nullRaw(results), at.UnixNano(), id)
}

// Fail marks a pending or running job as failed with a message.
func (s *JobStore) Fail(id string, msg string, at time.Time) (bool, error) {
	return s.transition(`
		UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE job_id = ? AND status IN ('pending', 'running')`, msg, at.UnixNano(), id)
}

// Cancel marks a pending or running job as cancelled. Cancelling a cancelled
// job is a no-op; cancelling a completed or failed job returns ErrJobFinished.
func (s *JobStore) Cancel(id string, at time.Time) error {
	ok, err := s.transition(`
		UPDATE jobs SET status = 'cancelled', completed_at = ?
		WHERE job_id = ? AND status IN ('pending', 'running')`, at.UnixNano(), id)
	if err != nil || ok {
		return err
	}
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	if j.Status == StatusCancelled {
		return nil
	}
	return fmt.Errorf("job %s is %s: %w", id, j.Status, ErrJobFinished)
}

// FailInterrupted fails every job left pending or running by a previous
// process and returns how many were updated.
func (s *JobStore) FailInterrupted(at time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'failed', error = 'interrupted by server restart', completed_at = ?
		WHERE status IN ('pending', 'running')`, at.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a job by id.
func (s *JobStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (s *JobStore) transition(query string, args ...any) (bool, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var status string
	var cfg, uploadPath, uploadName, errMsg, results sql.NullString
	var started, completed sql.NullInt64
	err := r.Scan(
		&j.ID, &j.AnalysisType, &status, &j.Progress, &cfg, &uploadPath,
		&uploadName, &errMsg, &results, &j.CreatedAt, &started, &completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	j.Status = Status(status)
	if cfg.Valid {
		j.ConfigJSON = json.RawMessage(cfg.String)
	}
	if results.Valid {
		j.ResultsJSON = json.RawMessage(results.String)
	}
	j.UploadPath = uploadPath.String
	j.UploadName = uploadName.String
	j.Error = errMsg.String
	if started.Valid {
		v := started.Int64
		j.StartedAt = &v
	}
	if completed.Valid {
		v := completed.Int64
		j.CompletedAt = &v
	}
	return &j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
