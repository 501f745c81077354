package telephony

import (
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"net/url"
)

// ControlDocumentBuilder builds the URL the provider fetches when a
// call is answered, and serves the TwiML/LaML document it returns. The
// document instructs the provider to open a media-stream WebSocket to
// the Media Bridge, carrying campaign/contact/agent identifiers as
// stream parameters (spec §4.7.3). Grounded on the pack's
// CallHandlers.HandleIncomingCall and its TwiMLResponse/Start/Stream
// XML structs; Stream gains a Parameter child here, which the source
// file omitted.
type ControlDocumentBuilder struct {
	publicURL string
}

func NewControlDocumentBuilder(publicURL string) *ControlDocumentBuilder {
	return &ControlDocumentBuilder{publicURL: publicURL}
}

// BuildURL satisfies engine.ControlDocumentBuilder.
func (b *ControlDocumentBuilder) BuildURL(campaignID, contactID, agentID string) string {
	v := url.Values{}
	v.Set("campaign_id", campaignID)
	v.Set("contact_id", contactID)
	v.Set("agent_id", agentID)
	return fmt.Sprintf("%s/telephony/control-document?%s", b.publicURL, v.Encode())
}

type twiMLResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect connect  `xml:"Connect"`
}

type connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  stream   `xml:"Stream"`
}

type stream struct {
	XMLName    xml.Name    `xml:"Stream"`
	URL        string      `xml:"url,attr"`
	Parameters []parameter `xml:"Parameter"`
}

type parameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// ServeControlDocument is the HTTP handler the provider fetches at the
// URL produced by BuildURL. It echoes the campaign/contact/agent ids
// back as stream parameters so the Media Bridge can look up the
// matching campaign/agent configuration once the stream opens.
func (b *ControlDocumentBuilder) ServeControlDocument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wsURL := fmt.Sprintf("%s/outbound-media-stream", wsBase(b.publicURL))

	doc := twiMLResponse{
		Connect: connect{
			Stream: stream{
				URL: wsURL,
				Parameters: []parameter{
					{Name: "campaign_id", Value: q.Get("campaign_id")},
					{Name: "contact_id", Value: q.Get("contact_id")},
					{Name: "agent_id", Value: q.Get("agent_id")},
				},
			},
		},
	}

	output, err := xml.Marshal(doc)
	if err != nil {
		log.Printf("[ControlDocument] marshal failed: %v", err)
		http.Error(w, "failed to generate control document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	w.Write(output)
}

// wsBase rewrites an http(s) public URL to its ws(s) equivalent.
func wsBase(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil {
		return publicURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
