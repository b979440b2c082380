package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bdougie/framefx/internal/models"
)

const batchSize = 10 // Number of updates to batch before writing

const jobsFileName = "jobs.json"

// FileStorage keeps job records in a single JSON file
type FileStorage struct {
	mu      sync.Mutex
	path    string
	jobs    map[string]models.JobRecord
	pending int
}

// NewFileStorage creates a new file storage under dir, loading any records
// already written there
func NewFileStorage(dir string) (*FileStorage, error) {
	s := &FileStorage{
		path: filepath.Join(dir, jobsFileName),
		jobs: make(map[string]models.JobRecord),
	}

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	if len(data) > 0 {
		var existing []models.JobRecord
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal existing jobs: %w", err)
		}
		for _, job := range existing {
			s.jobs[job.ID] = job
		}
	}
	return s, nil
}

// SaveJob records job and writes to disk when the batch is full or the job
// has finished
func (s *FileStorage) SaveJob(_ context.Context, job *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = *job
	s.pending++

	if s.pending >= batchSize || job.Status.Terminal() {
		return s.flush()
	}
	return nil
}

// GetJob returns the record with the given ID
func (s *FileStorage) GetJob(_ context.Context, id string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// ListJobs returns up to limit records, newest first
func (s *FileStorage) ListJobs(_ context.Context, limit int) ([]models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.sorted()
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Flush writes all pending records to disk
func (s *FileStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Close implements Storage
func (s *FileStorage) Close() error {
	return s.Flush()
}

func (s *FileStorage) sorted() []models.JobRecord {
	jobs := make([]models.JobRecord, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Internal flush implementation
func (s *FileStorage) flush() error {
	if s.pending == 0 {
		return nil
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for jobs: %w", err)
	}

	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode jobs: %w", err)
	}

	// Replace the file atomically so readers never see a partial write
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write jobs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace jobs file: %w", err)
	}

	s.pending = 0 // Clear the batch
	return nil
}
