package services

import (
	"log/slog"
	"sync"
	"time"
)

// PauseSwitch is the operator kill switch for outbound replies. While
// paused, comments are still audited and matched but nothing is sent and
// no send record is written, so a later redelivery can still reply.
type PauseSwitch struct {
	mu       sync.RWMutex
	paused   bool
	pausedBy string
	pausedAt time.Time
	reason   string
}

// PauseStatus is the switch state as reported by the system API
type PauseStatus struct {
	Paused   bool      `json:"paused"`
	Reason   string    `json:"reason,omitempty"`
	PausedBy string    `json:"paused_by,omitempty"`
	PausedAt time.Time `json:"paused_at,omitempty"`
}

// NewPauseSwitch returns a switch in the running state
func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{}
}

// IsPaused reports whether replies are suspended
func (p *PauseSwitch) IsPaused() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Pause suspends replies
func (p *PauseSwitch) Pause(reason, by string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = true
	p.reason = reason
	p.pausedBy = by
	p.pausedAt = time.Now()

	slog.Warn("Auto-replies paused",
		"reason", reason,
		"paused_by", by,
	)
}

// Resume re-enables replies
func (p *PauseSwitch) Resume(by string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		return
	}
	duration := time.Since(p.pausedAt)
	p.paused = false
	p.reason = ""
	p.pausedBy = ""
	p.pausedAt = time.Time{}

	slog.Info("Auto-replies resumed",
		"resumed_by", by,
		"duration", duration,
	)
}

// Status returns a snapshot of the switch
func (p *PauseSwitch) Status() PauseStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PauseStatus{
		Paused:   p.paused,
		Reason:   p.reason,
		PausedBy: p.pausedBy,
		PausedAt: p.pausedAt,
	}
}
