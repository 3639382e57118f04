package transaction

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusPendingValidation, true},
		{StatusInitiated, StatusPendingApproval, true},
		{StatusInitiated, StatusRejected, true},
		{StatusInitiated, StatusCancelled, true},
		{StatusInitiated, StatusApproved, false},
		{StatusInitiated, StatusCompleted, false},
		{StatusPendingValidation, StatusPendingApproval, true},
		{StatusPendingValidation, StatusApproved, false},
		{StatusPendingApproval, StatusApproved, true},
		{StatusPendingApproval, StatusRejected, true},
		{StatusPendingApproval, StatusInitiated, false},
		{StatusApproved, StatusCompleted, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusInitiated, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusInitiated, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminals := []Status{StatusRejected, StatusCompleted, StatusCancelled}
	for _, s := range terminals {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		for _, next := range []Status{StatusInitiated, StatusPendingValidation, StatusPendingApproval, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled} {
			if s.CanTransitionTo(next) {
				t.Errorf("terminal %s must not transition to %s", s, next)
			}
		}
	}
	for _, s := range []Status{StatusInitiated, StatusPendingValidation, StatusPendingApproval, StatusApproved} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDeletableStatuses(t *testing.T) {
	want := map[Status]bool{
		StatusInitiated:         true,
		StatusPendingValidation: true,
		StatusRejected:          true,
		StatusCancelled:         true,
		StatusPendingApproval:   false,
		StatusApproved:          false,
		StatusCompleted:         false,
	}
	for s, deletable := range want {
		if got := s.Deletable(); got != deletable {
			t.Errorf("%s deletable: got %v, want %v", s, got, deletable)
		}
	}
}

func TestSources(t *testing.T) {
	from := sources(StatusCancelled)
	want := map[Status]bool{StatusInitiated: true, StatusPendingValidation: true, StatusPendingApproval: true, StatusApproved: true}
	if len(from) != len(want) {
		t.Fatalf("sources(cancelled): got %v", from)
	}
	for _, s := range from {
		if !want[s] {
			t.Errorf("unexpected source %s for cancelled", s)
		}
	}
}
