package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "DeepResearch/internal/errors"
)

const memoryReportCap = 512

// MemoryReportRepository keeps reports in memory and appends each one to a
// JSON-lines file so they survive restarts.
type MemoryReportRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ReportRecord
	nextID   int64
}

// NewMemoryReportRepository loads reports.log from dataDir.
func NewMemoryReportRepository(dataDir string) (*MemoryReportRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	repo := &MemoryReportRepository{dataFile: filepath.Join(dataDir, "reports.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save implements ReportRepository.
func (m *MemoryReportRepository) Save(_ context.Context, record *ReportRecord) error {
	if record == nil || strings.TrimSpace(record.RunID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "report run id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(record.RunID)
	if idx >= 0 {
		record.ID = m.records[idx].ID
	} else {
		m.nextID++
		record.ID = m.nextID
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "open report log")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write report log")
	}

	if idx >= 0 {
		m.records = append(m.records[:idx], m.records[idx+1:]...)
	}
	m.records = append([]ReportRecord{*record}, m.records...)
	if len(m.records) > memoryReportCap {
		m.records = m.records[:memoryReportCap]
	}
	return nil
}

// GetByRunID implements ReportRepository.
func (m *MemoryReportRepository) GetByRunID(_ context.Context, runID string) (*ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexOf(runID)
	if idx < 0 {
		return nil, ErrReportNotFound
	}
	rec := m.records[idx]
	return &rec, nil
}

// ListLatest implements ReportRepository.
func (m *MemoryReportRepository) ListLatest(_ context.Context, limit int) ([]ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ReportRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close implements ReportRepository.
func (m *MemoryReportRepository) Close() error { return nil }

func (m *MemoryReportRepository) indexOf(runID string) int {
	for i := range m.records {
		if m.records[i].RunID == runID {
			return i
		}
	}
	return -1
}

func (m *MemoryReportRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("read report log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		var record ReportRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if idx := m.indexOf(record.RunID); idx >= 0 {
			m.records = append(m.records[:idx], m.records[idx+1:]...)
		}
		m.records = append([]ReportRecord{record}, m.records...)
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse report log: %w", err)
	}
	if len(m.records) > memoryReportCap {
		m.records = m.records[:memoryReportCap]
	}
	return nil
}

var _ ReportRepository = (*MemoryReportRepository)(nil)
