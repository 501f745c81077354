package engine

import (
	"context"

	"callorchestrator/internal/store"
)

// TelephonyClient is the narrow contract the Engine needs from the
// telephony provider (spec §4.4).
type TelephonyClient interface {
	PlaceCall(ctx context.Context, to, from, region, controlDocumentURL string) (callID string, err error)
	HangUp(ctx context.Context, callID string) error
}

// EventPublisher is the narrow contract the Engine needs from the
// Event Bus (spec §6).
type EventPublisher interface {
	PublishCallUpdate(callID string, status string, fields map[string]any)
	PublishNewCall(callID string, campaignID string)
	PublishCallEnded(callID string)
	PublishCampaignStatus(campaignID string, status string)
	PublishCampaignStats(campaignID string, stats store.CampaignStats)
}

// ControlDocumentBuilder builds the provider control-document URL
// (TwiML or equivalent) that instructs the provider to open a media
// stream to the Media Bridge, carrying the campaign's agent
// configuration as stream parameters (spec §4.7.3).
type ControlDocumentBuilder interface {
	BuildURL(campaignID, contactID, agentID string) string
}
