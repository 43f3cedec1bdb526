package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CampaignClaims counts slot claims by campaign and outcome (claimed|already_claimed|full|disabled|not_started|ended|not_found|error).
	CampaignClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialkit_campaign_claims_total",
			Help: "Total number of campaign slot claim attempts",
		},
		[]string{"campaign", "result"},
	)

	// RewardGrants counts ledger writes by reward type and outcome (granted|exists|error).
	RewardGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialkit_reward_grants_total",
			Help: "Total number of reward grant attempts",
		},
		[]string{"reward_type", "result"},
	)

	// RewardDays accumulates trial days granted per reward type.
	RewardDays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialkit_reward_days_total",
			Help: "Trial days granted through the reward ledger",
		},
		[]string{"reward_type"},
	)

	// ReferralTransitions counts referral state transitions by target status.
	ReferralTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialkit_referral_transitions_total",
			Help: "Total number of referral state transitions",
		},
		[]string{"status"},
	)

	// QuotaChecks counts quota evaluations by quota type, plan and outcome (allow|deny).
	QuotaChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialkit_quota_checks_total",
			Help: "Total number of quota checks",
		},
		[]string{"quota_type", "plan", "result"},
	)

	// EventFailures counts audit events that could not be delivered to the tracker.
	EventFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trialkit_event_failures_total",
			Help: "Domain events dropped because the tracker failed",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trialkit_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
