package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"

	"github.com/jmylchreest/fetcharr/internal/engine"
)

// RemuxAvailability reports whether an ffmpeg binary can be resolved.
type RemuxAvailability interface {
	Available() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version      string
	startTime    time.Time
	db           *gorm.DB
	scheduler    *engine.Scheduler
	remuxer      RemuxAvailability
	downloadsDir string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler sets the scheduler for queue health reporting.
func (h *HealthHandler) WithScheduler(s *engine.Scheduler) *HealthHandler {
	h.scheduler = s
	return h
}

// WithRemuxer sets the remuxer for ffmpeg availability reporting.
func (h *HealthHandler) WithRemuxer(r RemuxAvailability) *HealthHandler {
	h.remuxer = r
	return h
}

// WithDownloadsDir sets the directory reported in disk usage.
func (h *HealthHandler) WithDownloadsDir(dir string) *HealthHandler {
	h.downloadsDir = dir
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics, queue counts, and ffmpeg availability",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)

	var queue QueueHealth
	if h.scheduler != nil {
		info := h.scheduler.GetQueueInfo()
		queue = QueueHealth{
			Active:        info.Active,
			Queued:        info.Queued,
			MaxConcurrent: info.MaxConcurrent,
		}
	}

	ffmpegHealth := FFmpegHealth{}
	if h.remuxer != nil {
		ffmpegHealth.Available = h.remuxer.Available()
	}

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	checks := map[string]string{
		"database": dbHealth.Status,
		"ffmpeg":   "missing",
	}
	if ffmpegHealth.Available {
		checks["ffmpeg"] = "ok"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Disk:          h.getDiskInfo(),
			Components: HealthComponents{
				Database: dbHealth,
				FFmpeg:   ffmpegHealth,
				Queue:    queue,
			},
			Checks: checks,
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15

		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}

	return info
}

// getDiskInfo returns usage for the downloads directory filesystem.
func (h *HealthHandler) getDiskInfo() DiskInfo {
	info := DiskInfo{Path: h.downloadsDir}
	if h.downloadsDir == "" {
		return info
	}

	usage, err := disk.Usage(h.downloadsDir)
	if err != nil || usage == nil {
		return info
	}

	const gb = 1024 * 1024 * 1024
	info.TotalGB = float64(usage.Total) / gb
	info.UsedGB = float64(usage.Used) / gb
	info.FreeGB = float64(usage.Free) / gb
	info.UsedPercent = usage.UsedPercent
	return info
}

// getDatabaseHealth returns database health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
	}

	return health
}
