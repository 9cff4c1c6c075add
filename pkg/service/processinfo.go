package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/ferrors"
)

// ProcessInfoConfig configures where the process-info document lives.
type ProcessInfoConfig struct {
	Directory string `config:"directory"`
}

// runRecord is one entry in earlierRuns, capturing how the previous
// process instance ended.
type runRecord struct {
	StartTime   time.Time `json:"startTime"`
	PID         int       `json:"pid"`
	Disposition string    `json:"disposition"`
	EndedAt     time.Time `json:"endedAt,omitempty"`
}

// processInfoDocument is the JSON document spec.md §6 names: a flat file
// summarizing prior runs, start time, pid, and disposition — not a KV
// store, per SPEC_FULL.md §4's explicit decision to follow that wording.
type processInfoDocument struct {
	EarlierRuns []runRecord `json:"earlierRuns"`
	StartTime   time.Time   `json:"startTime"`
	PID         int         `json:"pid"`
	Disposition string      `json:"disposition"`
}

// ProcessInfoService loads the prior process-info document on Start
// (folding its own run into earlierRuns), and persists an updated
// document with this run's disposition on Stop — grounded on the
// teacher's load-on-start, persist-on-change style in
// pkg/manager/fsm.go's Snapshot/Restore, adapted from a Raft KV
// snapshot to a single JSON file.
type ProcessInfoService struct {
	component.BaseComponent

	path string

	mu  sync.Mutex
	doc processInfoDocument
}

// NewProcessInfoService constructs a ProcessInfoService writing to
// <directory>/process-info.json.
func NewProcessInfoService(ctx *component.ControlContext, name string, cfg ProcessInfoConfig) *ProcessInfoService {
	s := &ProcessInfoService{path: filepath.Join(cfg.Directory, "process-info.json")}
	s.Init(name, "ProcessInfoService", name, ctx)
	return s
}

// Start implements component.Lifecycle: loads the prior document (if
// any) and records this run's start.
func (s *ProcessInfoService) Start(ctx context.Context) error {
	if s.State() == component.StateNew {
		if err := s.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	if err := s.Transition(component.StateRunning); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prior processInfoDocument
	if raw, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(raw, &prior); err != nil {
			s.Logger().Warn().Err(err).Msg("ignoring malformed process-info document")
		}
	} else if !os.IsNotExist(err) {
		return ferrors.Wrap(ferrors.KindIOError, err, "reading process-info document")
	}

	earlierRuns := prior.EarlierRuns
	if !prior.StartTime.IsZero() {
		earlierRuns = append(earlierRuns, runRecord{
			StartTime:   prior.StartTime,
			PID:         prior.PID,
			Disposition: prior.Disposition,
		})
	}

	s.doc = processInfoDocument{
		EarlierRuns: earlierRuns,
		StartTime:   time.Now().UTC(),
		PID:         os.Getpid(),
		Disposition: "running",
	}
	return s.persistLocked()
}

// Stop implements component.Lifecycle: records this run's disposition
// and persists the document one final time.
func (s *ProcessInfoService) Stop(ctx context.Context, willReload bool) error {
	if err := s.Transition(component.StateStopping); err != nil {
		return err
	}

	s.mu.Lock()
	s.doc.Disposition = "stopped"
	if willReload {
		s.doc.Disposition = "reloaded"
	}
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Transition(component.StateStopped)
}

func (s *ProcessInfoService) persistLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling process-info document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ferrors.Wrap(ferrors.KindIOError, err, "creating process-info directory")
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return ferrors.Wrap(ferrors.KindIOError, err, "writing process-info document")
	}
	return nil
}
