// Package store owns durable state: local JSON files in the working
// directory, the Supabase REST uplink with its bounded retry queue, session
// lifecycle, and trade logging. Persistence never blocks trading; failed
// uploads queue for later retry.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"oracle-trader/pkg/types"
)

const (
	sessionStateFile = ".session_state.json"
	pendingFile      = "pending_uploads.json"
	cacheDir         = "cache"
)

// LocalStorage reads and writes the runtime's working-directory files. All
// writes are atomic (temp file then rename) so a crash never leaves a
// half-written state file.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage roots the storage at baseDir, defaulting to the current
// directory.
func NewLocalStorage(baseDir string) *LocalStorage {
	if baseDir == "" {
		baseDir = "."
	}
	return &LocalStorage{baseDir: baseDir}
}

func (s *LocalStorage) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (s *LocalStorage) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// SessionState is the crash-recovery snapshot for the current session.
type SessionState struct {
	SessionID      string   `json:"session_id"`
	StartTime      string   `json:"start_time"`
	InitialBalance float64  `json:"initial_balance"`
	Symbols        []string `json:"symbols"`
	Status         string   `json:"status"`
	LastHeartbeat  string   `json:"last_heartbeat,omitempty"`
	CurrentBalance float64  `json:"current_balance,omitempty"`
}

// SaveSessionState writes the ephemeral RUNNING snapshot.
func (s *LocalStorage) SaveSessionState(state SessionState) error {
	return s.writeJSON(filepath.Join(s.baseDir, sessionStateFile), state)
}

// LoadSessionState reads the snapshot; found is false when none exists.
func (s *LocalStorage) LoadSessionState() (SessionState, bool, error) {
	var state SessionState
	found, err := s.readJSON(filepath.Join(s.baseDir, sessionStateFile), &state)
	return state, found, err
}

// ClearSessionState removes the snapshot (clean shutdown).
func (s *LocalStorage) ClearSessionState() error {
	err := os.Remove(filepath.Join(s.baseDir, sessionStateFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SavePending persists the upload retry queue across restarts.
func (s *LocalStorage) SavePending(ops []PendingOp) error {
	return s.writeJSON(filepath.Join(s.baseDir, pendingFile), ops)
}

// LoadPending restores the persisted retry queue.
func (s *LocalStorage) LoadPending() ([]PendingOp, error) {
	var ops []PendingOp
	if _, err := s.readJSON(filepath.Join(s.baseDir, pendingFile), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// ClearPending removes the persisted queue.
func (s *LocalStorage) ClearPending() error {
	err := os.Remove(filepath.Join(s.baseDir, pendingFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// CacheBars stores a symbol's warmup bars locally.
func (s *LocalStorage) CacheBars(symbol string, bars []types.Candle) error {
	return s.writeJSON(filepath.Join(s.baseDir, cacheDir, symbol+"_bars.json"), bars)
}

// LoadCachedBars returns the locally cached bars, nil when absent.
func (s *LocalStorage) LoadCachedBars(symbol string) ([]types.Candle, error) {
	var bars []types.Candle
	if _, err := s.readJSON(filepath.Join(s.baseDir, cacheDir, symbol+"_bars.json"), &bars); err != nil {
		return nil, err
	}
	return bars, nil
}
