package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanResolver(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	resolve := NewPlanResolver([]string{"admin@example.com", " "})

	tests := []struct {
		name    string
		account Account
		trial   *time.Time
		want    Plan
	}{
		{"admin override", Account{Email: "ADMIN@example.com", Plan: PlanFree}, nil, PlanStandard},
		{"active trial", Account{Plan: PlanFree}, &future, PlanStandard},
		{"expired trial", Account{Plan: PlanFree}, &past, PlanFree},
		{"stored standard", Account{Plan: PlanStandard}, nil, PlanStandard},
		{"unknown stored plan", Account{Plan: "enterprise"}, nil, PlanFree},
		{"empty", Account{}, nil, PlanFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolve(tt.account, tt.trial, now))
		})
	}
}

func TestParsePlan(t *testing.T) {
	require.Equal(t, PlanStandard, ParsePlan(" Standard "))
	require.Equal(t, PlanFree, ParsePlan(""))
}
