// Package jobstore persists analysis job lifecycle state and results as
// durable per-job records.
//
// Directory layout:
//
//	<dir>/<job_id>.json          job record
//	<dir>/<job_id>_results.json  result record (complete jobs only)
//
// One file per job id keeps unrelated jobs free of write contention: each
// job's record is written only by its own task. Writes go through a temp
// file and an atomic rename, so readers never observe a torn record from
// this process; a record that still fails to parse (e.g. external
// tampering, crash mid-rename on a non-atomic filesystem) is reported as
// ErrUnavailable ("try again later"), never treated as corruption.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const resultsSuffix = "_results"

var (
	// ErrNotFound means no record exists for the id.
	ErrNotFound = errors.New("jobstore: not found")

	// ErrUnavailable means a record exists but could not be read cleanly;
	// pollers should retry rather than fail.
	ErrUnavailable = errors.New("jobstore: record temporarily unreadable")
)

// Store reads and writes job records under a root directory.
type Store struct {
	dir string

	// now is swapped out in tests for deterministic timestamps.
	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created lazily
// on first write.
func NewStore(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir), now: time.Now}
}

// NewJobID generates a timestamp-derived job id. Granularity is one second;
// the collision window is accepted for this workload (a handful of jobs per
// day per deployment).
func (s *Store) NewJobID() string {
	return "job_" + s.now().UTC().Format("20060102_150405")
}

func (s *Store) jobPath(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

func (s *Store) resultsPath(jobID string) string {
	return filepath.Join(s.dir, jobID+resultsSuffix+".json")
}

func (s *Store) ensureDir() error {
	if s.dir == "" {
		return fmt.Errorf("jobstore root dir is empty")
	}
	return os.MkdirAll(s.dir, 0755)
}

// write marshals a record and replaces the target atomically.
func (s *Store) write(path string, v any) error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Create persists a new job record. Missing lifecycle fields are
// initialized: status defaults to pending and both timestamps are set.
func (s *Store) Create(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Message == "" {
		job.Message = "Job created, waiting to start"
	}
	return s.write(s.jobPath(job.ID), job)
}

// Load reads a job record. Returns ErrNotFound for unknown ids and
// ErrUnavailable for records that exist but cannot be parsed.
func (s *Store) Load(jobID string) (*Job, error) {
	b, err := os.ReadFile(s.jobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &job, nil
}

// Update loads the record, applies mutate, and writes the whole record
// back with a refreshed updated_at.
//
// Unknown ids are a silent no-op: a caller that raced a deletion must not
// crash. Terminal records are never modified.
func (s *Store) Update(jobID string, mutate func(*Job)) error {
	job, err := s.Load(jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	mutate(job)
	job.UpdatedAt = s.now().UTC()
	return s.write(s.jobPath(jobID), job)
}

// UpdateProgress records batch progress. The job moves to running, the
// percentage is derived from the batch counters, and cost_so_far never
// decreases.
func (s *Store) UpdateProgress(jobID string, currentBatch, totalBatches int, message string, costSoFar float64) error {
	return s.Update(jobID, func(job *Job) {
		job.Status = StatusRunning
		job.CurrentBatch = currentBatch
		job.TotalBatches = totalBatches
		job.ProgressPercent = Percent(currentBatch, totalBatches)
		if costSoFar > job.CostSoFar {
			job.CostSoFar = costSoFar
		}
		if message == "" {
			message = fmt.Sprintf("Processing batch %d/%d", currentBatch, totalBatches)
		}
		job.Message = message
	})
}

// Complete marks the job complete and stores its result.
//
// The job record and the result record are two independent writes. A crash
// between them leaves a complete job with no retrievable result; GetResult
// reports that as ErrNotFound and callers treat it as such.
func (s *Store) Complete(jobID string, result *Result, totalCost float64) error {
	var completed bool
	err := s.Update(jobID, func(job *Job) {
		completed = true
		now := s.now().UTC()
		job.Status = StatusComplete
		job.ProgressPercent = 100
		job.CurrentBatch = job.TotalBatches
		job.Message = "Analysis complete"
		job.TotalCost = totalCost
		if totalCost > job.CostSoFar {
			job.CostSoFar = totalCost
		}
		job.CompletedAt = &now
	})
	if err != nil || !completed {
		return err
	}
	return s.write(s.resultsPath(jobID), result)
}

// Fail marks the job failed with a terminal error description. No result
// record is written for failed jobs.
func (s *Store) Fail(jobID string, cause string) error {
	return s.Update(jobID, func(job *Job) {
		now := s.now().UTC()
		job.Status = StatusError
		job.Error = cause
		job.Message = "Analysis failed: " + cause
		job.FailedAt = &now
	})
}

// GetResult reads the result record for a completed job. Returns
// ErrNotFound when the result does not exist, including the crash window
// where the job shows complete but the result write never happened.
func (s *Store) GetResult(jobID string) (*Result, error) {
	b, err := os.ReadFile(s.resultsPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var result Result
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &result, nil
}

// List returns up to limit job records, most recently updated first.
// Result records and unparsable files are skipped.
func (s *Store) List(limit int) ([]Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}

	var jobs []Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if strings.HasSuffix(id, resultsSuffix) {
			continue
		}
		job, err := s.Load(id)
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
