package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// maxRetryQueue bounds the upload retry queue; when full, the oldest entry
// is dropped so a long outage cannot grow memory without limit.
const maxRetryQueue = 1000

// PendingOp is one failed upload waiting for retry.
type PendingOp struct {
	Table     string         `json:"table"`
	Operation string         `json:"operation"` // insert, upsert, update
	Data      map[string]any `json:"data"`
	FilterKey string         `json:"filter_key,omitempty"`
	FilterVal string         `json:"filter_val,omitempty"`
}

// Supabase talks to the PostgREST endpoint. Every write either lands or is
// queued; callers on the trading path never see an error from the Log
// helpers and never block on the network beyond the client timeout.
type Supabase struct {
	http    *resty.Client
	enabled bool
	logger  *slog.Logger

	mu    sync.Mutex
	queue []PendingOp
}

// NewSupabase builds a client. Empty url or key disables it; every method
// then no-ops.
func NewSupabase(url, key string, logger *slog.Logger) *Supabase {
	s := &Supabase{
		enabled: url != "" && key != "",
		logger:  logger.With("component", "supabase"),
	}
	if !s.enabled {
		s.logger.Info("persistence disabled")
		return s
	}
	s.http = resty.New().
		SetBaseURL(url+"/rest/v1").
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("apikey", key).
		SetHeader("Authorization", "Bearer "+key)
	return s
}

// Enabled reports whether the client has credentials.
func (s *Supabase) Enabled() bool { return s.enabled }

// Insert writes one record. On failure the record is queued for retry.
func (s *Supabase) Insert(ctx context.Context, table string, data map[string]any) error {
	return s.execute(ctx, PendingOp{Table: table, Operation: "insert", Data: data})
}

// Upsert writes one record, merging on the table's conflict key.
func (s *Supabase) Upsert(ctx context.Context, table string, data map[string]any) error {
	return s.execute(ctx, PendingOp{Table: table, Operation: "upsert", Data: data})
}

// Update patches rows where filterKey equals filterVal.
func (s *Supabase) Update(ctx context.Context, table string, data map[string]any, filterKey, filterVal string) error {
	return s.execute(ctx, PendingOp{
		Table: table, Operation: "update", Data: data,
		FilterKey: filterKey, FilterVal: filterVal,
	})
}

func (s *Supabase) execute(ctx context.Context, op PendingOp) error {
	if !s.enabled {
		return nil
	}
	if err := s.send(ctx, op); err != nil {
		s.logger.Warn("upload failed, queueing",
			"table", op.Table, "operation", op.Operation, "error", err)
		s.enqueue(op)
		return err
	}
	return nil
}

func (s *Supabase) send(ctx context.Context, op PendingOp) error {
	req := s.http.R().SetContext(ctx).SetBody(op.Data)

	var resp *resty.Response
	var err error
	switch op.Operation {
	case "insert":
		resp, err = req.SetHeader("Prefer", "return=minimal").Post("/" + op.Table)
	case "upsert":
		resp, err = req.
			SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
			Post("/" + op.Table)
	case "update":
		resp, err = req.
			SetHeader("Prefer", "return=minimal").
			SetQueryParam(op.FilterKey, "eq."+op.FilterVal).
			Patch("/" + op.Table)
	default:
		return fmt.Errorf("unknown operation %q", op.Operation)
	}
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: status %d: %s", op.Operation, op.Table, resp.StatusCode(), resp.String())
	}
	return nil
}

func (s *Supabase) enqueue(op PendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= maxRetryQueue {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, op)
}

// Query reads rows with equality filters, an optional "-column" descending
// order, and a limit.
func (s *Supabase) Query(ctx context.Context, table string, filters map[string]string, order string, limit int) ([]map[string]any, error) {
	if !s.enabled {
		return nil, nil
	}
	req := s.http.R().SetContext(ctx).SetQueryParam("select", "*")
	for k, v := range filters {
		req.SetQueryParam(k, "eq."+v)
	}
	if order != "" {
		if order[0] == '-' {
			req.SetQueryParam("order", order[1:]+".desc")
		} else {
			req.SetQueryParam("order", order+".asc")
		}
	}
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(limit))
	}

	resp, err := req.Get("/" + table)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("query %s: status %d", table, resp.StatusCode())
	}
	var rows []map[string]any
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("query %s: decode: %w", table, err)
	}
	return rows, nil
}

// LogEvent inserts an event record, queueing on failure. Never returns an
// error to the caller.
func (s *Supabase) LogEvent(ctx context.Context, eventType string, data map[string]any, sessionID string) {
	if !s.enabled {
		return
	}
	payload, _ := json.Marshal(data)
	s.execute(ctx, PendingOp{Table: "events", Operation: "insert", Data: map[string]any{
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"event_type": eventType,
		"data":       string(payload),
	}})
}

// RetryPending drains the retry queue, stopping at the first failure so the
// remainder waits for the next sweep. Returns how many uploads succeeded.
func (s *Supabase) RetryPending(ctx context.Context) int {
	if !s.enabled {
		return 0
	}
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	done := 0
	for i, op := range pending {
		if err := s.send(ctx, op); err != nil {
			s.mu.Lock()
			s.queue = append(pending[i:], s.queue...)
			if len(s.queue) > maxRetryQueue {
				s.queue = s.queue[:maxRetryQueue]
			}
			s.mu.Unlock()
			break
		}
		done++
	}
	if done > 0 {
		s.logger.Info("retried pending uploads", "succeeded", done, "remaining", s.PendingCount())
	}
	return done
}

// PendingCount returns the retry-queue depth.
func (s *Supabase) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// PendingOps snapshots the queue for persistence to disk.
func (s *Supabase) PendingOps() []PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOp, len(s.queue))
	copy(out, s.queue)
	return out
}

// RestorePending seeds the queue from disk at startup.
func (s *Supabase) RestorePending(ops []PendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, ops...)
	if len(s.queue) > maxRetryQueue {
		s.queue = s.queue[len(s.queue)-maxRetryQueue:]
	}
}
