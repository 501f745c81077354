package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"callorchestrator/internal/store"
)

// PlaceCallForContact builds the provider control-document URL, places
// the call through the TelephonyClient, and persists the resulting Call
// row (spec §4.7.3).
//
// This function does not itself hold any concurrency-bound resource (the
// caller already reserved a slot by checking |activeCalls| < max before
// looping), but it follows an "only persist/track on confirmed success"
// discipline — a placement failure leaves no trace in
// activeCalls and is reported to the caller for ResolveContact handling.
func (e *Engine) PlaceCallForContact(ctx context.Context, campaign *store.Campaign, contact *store.ContactAssociation) (*store.Call, error) {
	from := campaign.Agent.CallerID
	if campaign.Agent.RotateCallerID {
		from = e.callerID.Select(ctx, campaign.Agent.Region, campaign.Agent.CallerID)
	}

	controlURL := e.controlDocs.BuildURL(campaign.ID.String(), contact.ContactID.String(), campaign.Agent.AgentID)

	callID, err := e.telephony.PlaceCall(ctx, contact.PhoneNumber, from, campaign.Agent.Region, controlURL)
	if err != nil {
		return nil, fmt.Errorf("engine: placing call to %s: %w", contact.PhoneNumber, err)
	}

	campaignID := campaign.ID
	contactID := contact.ContactID
	call := &store.Call{
		ProviderCallID: callID,
		Status:         store.CallInitiated,
		From:           from,
		To:             contact.PhoneNumber,
		Direction:      "outbound",
		StartTime:      time.Now(),
		CampaignID:     &campaignID,
		ContactID:      &contactID,
	}
	if err := e.calls.Save(ctx, call); err != nil {
		log.Printf("[Engine] WARNING: call %s placed but failed to persist: %v", callID, err)
	}
	e.events.PublishNewCall(callID, campaign.ID.String())

	return call, nil
}
