package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
)

func testLead() leads.Lead {
	return leads.Lead{
		ID:         "lead-1",
		Phone:      "+36201234567",
		Source:     "personal-loan",
		FullName:   "Anna Kovacs",
		LoanAmount: 500000,
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.RegisterLender("magnet_bank", NewLenderOffer("magnet_bank"))
	r.RegisterFallback(NewCampaignInvite())
	return r
}

func TestRenderLenderOffer(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	entry := model.QueueEntry{
		Kind:       model.KindLenderSuccess,
		LenderName: "magnet_bank",
		Priority:   1,
	}

	p, err := r.Render(entry, testLead())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if p.Template != "lender_offer_magnet_bank" {
		t.Fatalf("template = %q", p.Template)
	}
	if p.Params["lender"] != "Magnet Bank" {
		t.Fatalf("lender param = %q, want display name", p.Params["lender"])
	}
	if p.Params["amount"] != "500000" {
		t.Fatalf("amount param = %q", p.Params["amount"])
	}

	body := p.Params["body"]
	for _, want := range []string{"Anna Kovacs", "Magnet Bank", "500000"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
	if strings.Contains(body, "{") {
		t.Fatalf("body %q contains unexpanded placeholder", body)
	}
}

func TestRenderFallbackCampaign(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	entry := model.QueueEntry{Kind: model.KindFallbackCampaign}

	p, err := r.Render(entry, testLead())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if p.Template != "fallback_campaign" {
		t.Fatalf("template = %q", p.Template)
	}
	if !strings.Contains(p.Params["body"], "Anna Kovacs") {
		t.Fatalf("body %q missing name", p.Params["body"])
	}
}

func TestRenderMissingName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	lead := testLead()
	lead.FullName = ""

	p, err := r.Render(model.QueueEntry{Kind: model.KindFallbackCampaign}, lead)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(p.Params["body"], "there,") {
		t.Fatalf("body %q should fall back to a neutral salutation", p.Params["body"])
	}
}

func TestRenderUnknownLender(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	entry := model.QueueEntry{Kind: model.KindLenderSuccess, LenderName: "ghostbank"}

	_, err := r.Render(entry, testLead())
	if !errors.Is(err, ErrUnknownLender) {
		t.Fatalf("expected ErrUnknownLender, got %v", err)
	}
}

func TestRenderNoFallbackRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Render(model.QueueEntry{Kind: model.KindFallbackCampaign}, testLead())
	if err == nil {
		t.Fatal("expected error when no fallback template is registered")
	}
}

func TestRenderUnknownKind(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	_, err := r.Render(model.QueueEntry{Kind: "postcard"}, testLead())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPayloadSnapshot(t *testing.T) {
	t.Parallel()

	p := Payload{Template: "tpl", Params: map[string]string{"k": "v"}}
	snap := p.Snapshot()
	if !strings.Contains(snap, `"template":"tpl"`) || !strings.Contains(snap, `"k":"v"`) {
		t.Fatalf("snapshot = %q", snap)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"magnet_bank":  "Magnet Bank",
		"acme":         "Acme",
		"credit-union": "Credit Union",
	}
	for in, want := range cases {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
