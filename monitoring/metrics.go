package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimsTotal counts claim attempts by kind (daily, ad, task) and outcome
	// (ok or an error code such as COOLDOWN_ACTIVE).
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_claims_total",
			Help: "Total number of reward claim attempts",
		},
		[]string{"kind", "outcome"},
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_points_awarded_total",
			Help: "Points credited to accounts by source",
		},
		[]string{"kind"},
	)

	AdDisplayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_ad_display_total",
			Help: "Ad display outcomes reported alongside ad claims",
		},
		[]string{"outcome"},
	)

	WithdrawalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_withdrawal_requests_total",
			Help: "Withdrawal requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	WithdrawalResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_withdrawal_resolutions_total",
			Help: "Administrative withdrawal decisions by outcome",
		},
		[]string{"decision", "outcome"},
	)

	ReferralCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_referral_credits_total",
			Help: "Referral credits applied on account creation",
		},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_event_subscribers",
			Help: "Open ledger event stream subscriptions",
		},
	)
)
