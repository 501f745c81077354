package webhook

import (
	"testing"

	"callorchestrator/internal/store"
)

func TestContactOutcomeForMapsTerminalStatuses(t *testing.T) {
	cases := []struct {
		status       store.CallStatus
		wantOutcome  store.ContactStatus
		wantLastCall string
	}{
		{store.CallCompleted, store.ContactCompleted, "completed"},
		{store.CallNoAnswer, store.ContactNoAnswer, "no_answer"},
		{store.CallBusy, store.ContactFailed, "busy"},
		{store.CallCanceled, store.ContactFailed, "canceled"},
		{store.CallFailed, store.ContactFailed, "failed"},
	}

	for _, c := range cases {
		gotOutcome, gotLastCall := contactOutcomeFor(c.status)
		if gotOutcome != c.wantOutcome || gotLastCall != c.wantLastCall {
			t.Errorf("contactOutcomeFor(%v) = (%v, %q), want (%v, %q)",
				c.status, gotOutcome, gotLastCall, c.wantOutcome, c.wantLastCall)
		}
	}
}

func TestProviderStatusToCallStatusCoversKnownVocabulary(t *testing.T) {
	want := []string{"queued", "ringing", "in-progress", "answered", "completed", "busy", "no-answer", "failed", "canceled"}
	for _, status := range want {
		if _, ok := providerStatusToCallStatus[status]; !ok {
			t.Errorf("providerStatusToCallStatus missing entry for %q", status)
		}
	}
	if len(providerStatusToCallStatus) != len(want) {
		t.Errorf("providerStatusToCallStatus has %d entries, want %d", len(providerStatusToCallStatus), len(want))
	}
}

func TestAnsweredAliasMapsToInProgress(t *testing.T) {
	if providerStatusToCallStatus["answered"] != store.CallInProgress {
		t.Errorf("expected \"answered\" to alias CallInProgress")
	}
}
