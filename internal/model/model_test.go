package model

import "testing"

func TestProposalStatusConcluded(t *testing.T) {
	tests := []struct {
		status ProposalStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusRegistered, true},
		{StatusFailed, true},
		{StatusAccepted, true},
	}

	for _, tt := range tests {
		if got := tt.status.Concluded(); got != tt.want {
			t.Errorf("ProposalStatus(%q).Concluded() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNotificationStatusConcluded(t *testing.T) {
	tests := []struct {
		status NotificationStatus
		want   bool
	}{
		{NotificationPending, false},
		{NotificationProcessing, false},
		{NotificationSent, true},
		{NotificationFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Concluded(); got != tt.want {
			t.Errorf("NotificationStatus(%q).Concluded() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
