package servicing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestFixture() Request {
	return Request{
		ID:              "sr-1",
		DeviceID:        "LXB-20240101-001",
		OrganizationID:  "org_A",
		AllocationID:    "alloc-1",
		RequestType:     TypeRepair,
		IssueCategories: []IssueCategory{IssueHardware, IssueBattery},
		Priority:        PriorityHigh,
		Status:          StatusPending,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, requestFixture().Validate())

	cases := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"empty id", func(r *Request) { r.ID = "" }, ErrEmptyID},
		{"empty device", func(r *Request) { r.DeviceID = "" }, ErrEmptyDeviceID},
		{"empty org", func(r *Request) { r.OrganizationID = "" }, ErrEmptyOrganizationID},
		{"empty allocation", func(r *Request) { r.AllocationID = "" }, ErrEmptyAllocationID},
		{"bad type", func(r *Request) { r.RequestType = "UPGRADE" }, ErrInvalidRequestType},
		{"bad category", func(r *Request) { r.IssueCategories = []IssueCategory{"COSMETIC"} }, ErrInvalidIssueCategory},
		{"bad priority", func(r *Request) { r.Priority = "URGENT" }, ErrInvalidPriority},
		{"bad status", func(r *Request) { r.Status = "OPEN" }, ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := requestFixture()
			tc.mutate(&request)
			assert.True(t, errors.Is(request.Validate(), tc.wantErr))
		})
	}
}

func TestForwardProgression(t *testing.T) {
	request := requestFixture()
	at := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	path := []Status{
		StatusAcknowledged,
		StatusDiagnosed,
		StatusInProgress,
		StatusWaitingParts,
		StatusInProgress,
		StatusTesting,
		StatusCompleted,
	}
	for i, next := range path {
		require.NoError(t, request.Transition(next, "", "tech-1", at.Add(time.Duration(i)*time.Hour)))
	}
	assert.Equal(t, StatusCompleted, request.Status)
	require.Len(t, request.StatusHistory, len(path))
	for i, entry := range request.StatusHistory {
		assert.Equal(t, path[i], entry.Status)
	}
}

func TestBackwardTransitionsRejected(t *testing.T) {
	denied := []struct {
		from Status
		to   Status
	}{
		{StatusAcknowledged, StatusPending},
		{StatusDiagnosed, StatusAcknowledged},
		{StatusTesting, StatusDiagnosed},
		{StatusCompleted, StatusInProgress},
		{StatusCancelled, StatusPending},
		{StatusPending, StatusTesting},
		{StatusPending, StatusCompleted},
	}
	for _, tc := range denied {
		request := requestFixture()
		request.Status = tc.from
		err := request.Transition(tc.to, "", "", time.Now())
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.True(t, errors.Is(err, ErrInvalidStatusTransition), "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.from, request.Status)
		assert.Empty(t, request.StatusHistory)
	}
}

func TestCancellableFromAnyOpenState(t *testing.T) {
	for from := range map[Status]bool{
		StatusPending:      true,
		StatusAcknowledged: true,
		StatusDiagnosed:    true,
		StatusInProgress:   true,
		StatusWaitingParts: true,
		StatusTesting:      true,
		StatusEscalated:    true,
	} {
		assert.True(t, CanTransition(from, StatusCancelled), "from %s", from)
	}
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
}

func TestEscalationBranch(t *testing.T) {
	for from, want := range map[Status]bool{
		StatusPending:      false,
		StatusAcknowledged: true,
		StatusDiagnosed:    true,
		StatusInProgress:   true,
		StatusWaitingParts: true,
		StatusTesting:      true,
		StatusCompleted:    false,
	} {
		assert.Equal(t, want, CanTransition(from, StatusEscalated), "from %s", from)
	}
	assert.True(t, CanTransition(StatusEscalated, StatusInProgress))
}

func TestCostApprovable(t *testing.T) {
	request := requestFixture()
	for status, want := range map[Status]bool{
		StatusPending:      false,
		StatusDiagnosed:    true,
		StatusWaitingParts: true,
		StatusInProgress:   false,
		StatusCompleted:    false,
	} {
		request.Status = status
		assert.Equal(t, want, request.CostApprovable(), "status %s", status)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StatusCompleted))
	assert.True(t, Terminal(StatusCancelled))
	assert.False(t, Terminal(StatusEscalated))
	assert.False(t, Terminal(StatusPending))
}
