package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/metrics"
)

const (
	defaultCheckInterval = 60 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus represents the current health state of a provider.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthChecker periodically checks provider health and tracks status.
type HealthChecker struct {
	mu            sync.RWMutex
	providers     []Provider
	log           zerolog.Logger
	statuses      map[string]*HealthStatus
	checkInterval time.Duration
	checkTimeout  time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewHealthChecker creates a health checker that monitors the given
// providers. A non-positive interval uses the default.
func NewHealthChecker(providers []Provider, log zerolog.Logger, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &HealthChecker{
		providers:     providers,
		log:           log,
		statuses:      make(map[string]*HealthStatus),
		checkInterval: interval,
		checkTimeout:  defaultCheckTimeout,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start begins the background health check loop.
func (hc *HealthChecker) Start() {
	go hc.run()
}

// Stop signals the health check loop to terminate and waits for it to finish.
func (hc *HealthChecker) Stop() {
	close(hc.stopCh)
	<-hc.stopped
}

// IsHealthy returns whether a provider is currently healthy.
func (hc *HealthChecker) IsHealthy(name string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	if !ok {
		// Unknown provider is considered unhealthy.
		return false
	}
	return status.Healthy
}

// GetStatus returns the full health status for a provider.
func (hc *HealthChecker) GetStatus(name string) (HealthStatus, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	if !ok {
		return HealthStatus{}, false
	}
	return *status, true
}

// GetAllStatuses returns a snapshot of all provider health statuses.
func (hc *HealthChecker) GetAllStatuses() map[string]HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	result := make(map[string]HealthStatus, len(hc.statuses))
	for name, status := range hc.statuses {
		result[name] = *status
	}
	return result
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	// Run an initial check immediately.
	hc.checkAll()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.checkAll()
		}
	}
}

func (hc *HealthChecker) checkAll() {
	for _, p := range hc.providers {
		hc.checkProvider(p)
	}
}

func (hc *HealthChecker) checkProvider(p Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	defer cancel()

	err := p.HealthCheck(ctx)
	name := p.GetName()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	status, ok := hc.statuses[name]
	if !ok {
		status = &HealthStatus{Healthy: true}
		hc.statuses[name] = status
	}

	status.LastCheck = time.Now()

	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures >= unhealthyThreshold {
			if status.Healthy {
				hc.log.Warn().Err(err).Str("provider", name).Msg("provider marked unhealthy")
			}
			status.Healthy = false
		}
	} else {
		// 1 success resets to healthy.
		if !status.Healthy {
			hc.log.Info().Str("provider", name).Msg("provider recovered")
		}
		status.ConsecutiveFailures = 0
		status.Healthy = true
		status.LastError = ""
	}

	gauge := 0.0
	if status.Healthy {
		gauge = 1
	}
	metrics.ProviderHealthy.WithLabelValues(name).Set(gauge)
}
