package model

// LenderPriority is one row of a source's ordered lender configuration.
// Priority values are unique within a rule; lower means more preferred.
type LenderPriority struct {
	Lender    string `json:"lender"`
	Priority  int    `json:"priority"`
	DelayDays int    `json:"delayDays"`
}

type FallbackCampaign struct {
	Enabled   bool `json:"enabled"`
	DelayDays int  `json:"delayDays"`
}

// OperatingHours is the daily wall-clock send window for a source.
// StartTime and EndTime are "HH:MM" in the given IANA timezone.
type OperatingHours struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
}

// DistributionRule is the per-source rcsConfig document. The distribution
// engine owns it; the dispatch core only reads it.
type DistributionRule struct {
	Source         string           `json:"source"`
	Enabled        bool             `json:"enabled"`
	LenderPriority []LenderPriority `json:"lenderPriority"`
	Fallback       FallbackCampaign `json:"fallbackCampaign"`
	Hours          OperatingHours   `json:"operatingHours"`
}

// Lender returns the configured row for the named lender.
func (r DistributionRule) Lender(name string) (LenderPriority, bool) {
	for _, lp := range r.LenderPriority {
		if lp.Lender == name {
			return lp, true
		}
	}
	return LenderPriority{}, false
}

// Primary returns the configured lender holding the best (lowest) priority.
// Its delay anchors the stagger for the second promoted candidate.
func (r DistributionRule) Primary() (LenderPriority, bool) {
	var best LenderPriority
	found := false
	for _, lp := range r.LenderPriority {
		if !found || lp.Priority < best.Priority {
			best = lp
			found = true
		}
	}
	return best, found
}
