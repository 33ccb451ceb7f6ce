package render

import (
	"strconv"
	"strings"

	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
)

const (
	lenderOfferBody = "Good news {name}! {lender} accepted your loan request of {amount} HUF. Tap below to see your offer."
	campaignBody    = "{name}, your application is still open. Check today's partner offers and finish in a few minutes."

	fallbackName = "there"
)

// LenderOffer is the standard "a lender accepted your application" template.
type LenderOffer struct {
	Lender      string
	DisplayName string
	TemplateID  string
}

// NewLenderOffer derives the display name and RCS template id from the
// lender's registry name, e.g. "magnet_bank" -> "Magnet Bank".
func NewLenderOffer(lender string) LenderOffer {
	return LenderOffer{
		Lender:      lender,
		DisplayName: displayName(lender),
		TemplateID:  "lender_offer_" + lender,
	}
}

func (t LenderOffer) Render(lead leads.Lead, entry model.QueueEntry) (Payload, error) {
	name := lead.FullName
	if name == "" {
		name = fallbackName
	}
	amount := strconv.Itoa(lead.LoanAmount)

	body := strings.NewReplacer(
		"{name}", name,
		"{lender}", t.DisplayName,
		"{amount}", amount,
	).Replace(lenderOfferBody)

	return Payload{
		Template: t.TemplateID,
		Params: map[string]string{
			"name":     name,
			"lender":   t.DisplayName,
			"amount":   amount,
			"priority": strconv.Itoa(entry.Priority),
			"body":     body,
		},
	}, nil
}

// CampaignInvite is the fallback template used when no lender accepted.
type CampaignInvite struct {
	TemplateID string
}

func NewCampaignInvite() CampaignInvite {
	return CampaignInvite{TemplateID: "fallback_campaign"}
}

func (t CampaignInvite) Render(lead leads.Lead, _ model.QueueEntry) (Payload, error) {
	name := lead.FullName
	if name == "" {
		name = fallbackName
	}

	body := strings.NewReplacer("{name}", name).Replace(campaignBody)

	return Payload{
		Template: t.TemplateID,
		Params: map[string]string{
			"name": name,
			"body": body,
		},
	}, nil
}

func displayName(lender string) string {
	words := strings.FieldsFunc(lender, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
