package services

import (
	"strings"
	"time"
)

// Plan is a billing plan name.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
)

// Valid reports whether the plan is known.
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanStandard
}

// ParsePlan normalises a stored plan value, defaulting to free.
func ParsePlan(value string) Plan {
	plan := Plan(strings.ToLower(strings.TrimSpace(value)))
	if !plan.Valid() {
		return PlanFree
	}
	return plan
}

// Account is the caller identity as known to the billing system.
type Account struct {
	Email string
	Plan  Plan
}

// PlanResolver returns the plan whose limits apply to the account right now.
type PlanResolver func(account Account, trialEndsAt *time.Time, now time.Time) Plan

// NewPlanResolver builds the default resolver: admin emails always get standard,
// an active trial gets standard, everyone else keeps their stored plan.
func NewPlanResolver(adminEmails []string) PlanResolver {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}

	return func(account Account, trialEndsAt *time.Time, now time.Time) Plan {
		if _, ok := admins[strings.ToLower(strings.TrimSpace(account.Email))]; ok {
			return PlanStandard
		}
		if trialEndsAt != nil && trialEndsAt.After(now) {
			return PlanStandard
		}
		return ParsePlan(string(account.Plan))
	}
}
