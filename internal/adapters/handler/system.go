package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"ig-autoreply/internal/core/services"
)

// Pinger is satisfied by the database and Redis adapters
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves health, host metrics and the pause switch
type SystemHandler struct {
	deps      map[string]Pinger
	pause     *services.PauseSwitch
	threshold float64 // watchdog disk threshold, percent
	diskPath  string
	version   string
	startedAt time.Time
}

// NewSystemHandler creates the handler. deps are pinged by the health check;
// a nil entry is skipped.
func NewSystemHandler(deps map[string]Pinger, pause *services.PauseSwitch, threshold float64, diskPath, version string) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		pause:     pause,
		threshold: threshold,
		diskPath:  diskPath,
		version:   version,
		startedAt: time.Now(),
	}
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse is returned by GET /health
type HealthResponse struct {
	OK           bool              `json:"ok"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Paused       bool              `json:"paused"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health pings every dependency. Any failure turns the response into 503.
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:           true,
		Version:      h.version,
		Uptime:       formatDuration(time.Since(h.startedAt)),
		Paused:       h.pause.IsPaused(),
		Dependencies: make(map[string]string, len(h.deps)),
	}
	for name, dep := range h.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			slog.Warn("Health check dependency down", "dependency", name, "error", err)
			resp.OK = false
			resp.Dependencies[name] = "down"
			continue
		}
		resp.Dependencies[name] = "up"
	}

	if !resp.OK {
		writeJSON(w, r, APIResponse{Code: http.StatusServiceUnavailable, Message: "Degraded", Data: resp})
		return
	}
	writeJSON(w, r, NewSuccessResponse(resp))
}

// ============================================================================
// System Metrics
// ============================================================================

// SystemMetricsResponse represents host health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current host metrics
// GET /api/system/metrics
func (h *SystemHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 200ms)
	var cpuPercent float64
	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = toGB(memStat.Used)
		ramTotalGB = toGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		diskUsedGB = toGB(diskStat.Used)
		diskTotalGB = toGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    diskPercent >= h.threshold,
		WatchdogThreshold: h.threshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, h.threshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
	)
	writeJSON(w, r, NewSuccessResponse(response))
}

// ============================================================================
// Pause switch
// ============================================================================

type pauseRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// GetPause handles GET /api/system/pause
func (h *SystemHandler) GetPause(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, NewSuccessResponse(h.pause.Status()))
}

// Pause handles POST /api/system/pause. Matched comments are skipped until resumed.
func (h *SystemHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody)).Decode(&req); err != nil {
			writeJSON(w, r, BadRequestResponse("Invalid JSON body"))
			return
		}
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = r.Header.Get(ownerHeader)
	}
	h.pause.Pause(strings.TrimSpace(req.Reason), by)
	writeJSON(w, r, NewSuccessResponse(h.pause.Status()))
}

// Resume handles POST /api/system/resume
func (h *SystemHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.pause.Resume(r.Header.Get(ownerHeader))
	writeJSON(w, r, NewSuccessResponse(h.pause.Status()))
}

// ============================================================================
// Helpers
// ============================================================================

func toGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

// diskWarningLevel is "warning" from the watchdog threshold and "critical"
// ten points above it
func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	default:
		return "critical"
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
