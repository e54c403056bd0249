package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	// promauto registers on package init, so reaching this point means no
	// duplicate registration panicked.
	tests := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"AllowListDecisionsTotal", AllowListDecisionsTotal},
		{"PolicyOutcomesTotal", PolicyOutcomesTotal},
		{"BackendCallDuration", BackendCallDuration},
		{"BackendErrorsTotal", BackendErrorsTotal},
		{"DispatchTotal", DispatchTotal},
		{"DispatchDuration", DispatchDuration},
		{"RateLimitedTotal", RateLimitedTotal},
		{"ArchiveErrorsTotal", ArchiveErrorsTotal},
		{"ProviderHealthy", ProviderHealthy},
		{"UnsubscribeTotal", UnsubscribeTotal},
		{"APIRequestsTotal", APIRequestsTotal},
		{"APIRequestDuration", APIRequestDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s is nil", tt.name)
			}
		})
	}
}

func TestLabelledCounters(t *testing.T) {
	AllowListDecisionsTotal.WithLabelValues("allowed").Inc()
	PolicyOutcomesTotal.WithLabelValues("SendMailWithPIIScan", "pii_detected").Inc()
	BackendErrorsTotal.WithLabelValues("pii").Inc()
	DispatchTotal.WithLabelValues("rest", "sent").Inc()
	UnsubscribeTotal.WithLabelValues("suppressed").Inc()
	APIRequestsTotal.WithLabelValues("POST", "/api/SendMailViaREST", "200").Inc()
}

func TestHistograms(t *testing.T) {
	BackendCallDuration.WithLabelValues("content-safety").Observe(0.2)
	DispatchDuration.WithLabelValues("exchange").Observe(1.5)
	APIRequestDuration.WithLabelValues("GET", "/api/Unsubscribe").Observe(0.05)
}

func TestGauges(t *testing.T) {
	ProviderHealthy.WithLabelValues("acs").Set(1)
	ProviderHealthy.WithLabelValues("exchange").Set(0)
}
