// Package health watches the runtime: per-symbol bar heartbeats, broker
// connectivity, process memory, and the persistence retry backlog.
package health

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// heartbeatTimeout accommodates M15 bars plus broker delays before a
	// silent symbol is flagged.
	heartbeatTimeout = 1200 * time.Second

	memoryLimitMB   = 1000
	pendingOpsLimit = 100
)

// Report is one health snapshot.
type Report struct {
	Healthy  bool     `json:"healthy"`
	Issues   []string `json:"issues"`
	MemoryMB float64  `json:"memory_mb"`
	UptimeS  float64  `json:"uptime_s"`
}

// Monitor aggregates health probes. Connected and PendingCount are supplied
// by the orchestrator so the package stays free of broker and store imports.
type Monitor struct {
	Connected    func() bool
	PendingCount func() int

	mu         sync.Mutex
	heartbeats map[string]time.Time
	startTime  time.Time
	now        func() time.Time
}

// NewMonitor creates a monitor anchored at the current time.
func NewMonitor() *Monitor {
	return &Monitor{
		heartbeats: make(map[string]time.Time),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Update records a fresh bar heartbeat for a symbol.
func (m *Monitor) Update(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[symbol] = m.now()
}

// ResetSymbol drops a symbol's heartbeat tracking, used on model unload.
func (m *Monitor) ResetSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.heartbeats, symbol)
}

// Check evaluates all probes and returns the snapshot. Issues are advisory;
// only the caller decides whether to act on them.
func (m *Monitor) Check() Report {
	m.mu.Lock()
	now := m.now()
	var issues []string

	if m.Connected != nil && !m.Connected() {
		issues = append(issues, "broker disconnected")
	}

	for symbol, last := range m.heartbeats {
		if elapsed := now.Sub(last); elapsed > heartbeatTimeout {
			issues = append(issues, fmt.Sprintf("%s: no bars for %ds", symbol, int(elapsed.Seconds())))
		}
	}

	uptime := now.Sub(m.startTime).Seconds()
	m.mu.Unlock()

	memMB := processMemoryMB()
	if memMB > memoryLimitMB {
		issues = append(issues, fmt.Sprintf("high memory: %.0fMB", memMB))
	}

	if m.PendingCount != nil {
		if n := m.PendingCount(); n > pendingOpsLimit {
			issues = append(issues, fmt.Sprintf("persistence backlog: %d pending", n))
		}
	}

	return Report{
		Healthy:  len(issues) == 0,
		Issues:   issues,
		MemoryMB: roundTenth(memMB),
		UptimeS:  float64(int(uptime)),
	}
}

// processMemoryMB reads the resident set size from /proc. Returns 0 on
// platforms without procfs.
func processMemoryMB() float64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
