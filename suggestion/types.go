/*
Package suggestion is the Grade Suggestion Engine.

PURPOSE:
  Proposes a one-step grade increase for employees who have spent enough
  whole years at their current grade. A suggestion expires if nobody acts on
  it; approving one applies a SENIORITY change to the profile ledger, dated
  by the contract appendix that authorized it.

STATUS TRANSITIONS:
  PENDING --approve--> APPROVED
  PENDING --reject---> REJECTED
  PENDING --sweep----> EXPIRED
  Everything else is terminal.

OPEN SUGGESTION:
  PENDING, or APPROVED for the grade the employee still holds. A scan never
  creates a second open suggestion for an employee.
*/
package suggestion

import (
	"time"

	"github.com/warp/insurance-engine/generic"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected, StatusExpired},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

type Suggestion struct {
	ID             string
	EmployeeID     generic.EmployeeID
	ProfileID      string
	CurrentGrade   generic.Grade
	SuggestedGrade generic.Grade
	TenureYears    int
	Status         Status
	SuggestedAt    time.Time
	ExpiresAt      time.Time
	AppendixID     *generic.DocumentID
	DecidedBy      string
	DecidedAt      *time.Time
	Note           string
}

// PastDue reports whether the suggestion's window closed before now.
func (s Suggestion) PastDue(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// isOpenFor reports whether s blocks a new suggestion for an employee at grade.
func (s Suggestion) isOpenFor(grade generic.Grade) bool {
	switch s.Status {
	case StatusPending:
		return true
	case StatusApproved:
		return s.CurrentGrade == grade
	}
	return false
}

// Policy holds the scan thresholds.
type Policy struct {
	SeniorityYears int
	TTLDays        int
	MaxGrade       generic.Grade
}

func DefaultPolicy() Policy {
	return Policy{SeniorityYears: 3, TTLDays: 90, MaxGrade: generic.MaxGrade}
}
