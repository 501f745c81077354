package telephony

import (
	"encoding/xml"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestBuildURLEncodesIdentifiers(t *testing.T) {
	b := NewControlDocumentBuilder("https://orchestrator.example.com")
	got := b.BuildURL("campaign one", "contact/2", "agent&3")

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("BuildURL produced an unparseable URL: %v", err)
	}
	if u.Path != "/telephony/control-document" {
		t.Errorf("path = %q, want /telephony/control-document", u.Path)
	}
	q := u.Query()
	if q.Get("campaign_id") != "campaign one" || q.Get("contact_id") != "contact/2" || q.Get("agent_id") != "agent&3" {
		t.Errorf("unexpected query values: %+v", q)
	}
}

func TestWsBaseRewritesScheme(t *testing.T) {
	cases := map[string]string{
		"https://orchestrator.example.com": "wss://orchestrator.example.com",
		"http://localhost:8080":            "ws://localhost:8080",
	}
	for in, want := range cases {
		if got := wsBase(in); got != want {
			t.Errorf("wsBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestServeControlDocumentEchoesParametersAsXML(t *testing.T) {
	b := NewControlDocumentBuilder("https://orchestrator.example.com")
	target := b.BuildURL("c1", "k1", "a1")

	req := httptest.NewRequest("GET", target, nil)
	rec := httptest.NewRecorder()
	b.ServeControlDocument(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content-type = %q, want application/xml", ct)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, xml.Header) {
		t.Errorf("body missing XML header: %q", body)
	}

	var doc twiMLResponse
	if err := xml.Unmarshal([]byte(strings.TrimPrefix(body, xml.Header)), &doc); err != nil {
		t.Fatalf("unmarshaling response body: %v", err)
	}
	if !strings.HasSuffix(doc.Connect.Stream.URL, "/outbound-media-stream") {
		t.Errorf("stream url = %q, want suffix /outbound-media-stream", doc.Connect.Stream.URL)
	}
	if !strings.HasPrefix(doc.Connect.Stream.URL, "wss://") {
		t.Errorf("stream url = %q, want wss:// scheme", doc.Connect.Stream.URL)
	}

	params := map[string]string{}
	for _, p := range doc.Connect.Stream.Parameters {
		params[p.Name] = p.Value
	}
	if params["campaign_id"] != "c1" || params["contact_id"] != "k1" || params["agent_id"] != "a1" {
		t.Errorf("unexpected stream parameters: %+v", params)
	}
}
