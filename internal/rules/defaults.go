package rules

import "github.com/opensource-commerce/kestrel/internal/domain"

// DefaultRules returns the stock rule set installed on first start, one
// rule per supported kind. Scores and thresholds mirror a conservative
// storefront configuration; operators tune them through the rules API.
func DefaultRules() []*domain.Rule {
	buyAmount := 500.0
	return []*domain.Rule{
		{
			ID:       "anonymous-customer",
			Label:    "Anonymous Customer",
			Kind:     domain.KindAnonymousCustomer,
			Score:    9,
			Enabled:  true,
			Position: 0,
		},
		{
			ID:       "mismatched-ip",
			Label:    "Order IP Differs From Prior Orders",
			Kind:     domain.KindCheckUserIP,
			Score:    13,
			Enabled:  true,
			Position: 1,
		},
		{
			ID:      "rapid-repeat-order",
			Label:   "Order Completed Within Last Minutes",
			Kind:    domain.KindLastMinute,
			Score:   5,
			Enabled: true,
			Params: domain.RuleParams{
				LastMinute: 5,
			},
			Position: 2,
		},
		{
			ID:       "po-box-address",
			Label:    "Billing Address Is A PO Box",
			Kind:     domain.KindPOBox,
			Score:    8,
			Enabled:  true,
			Position: 3,
		},
		{
			ID:      "flagged-product",
			Label:   "Order Contains A Flagged Product",
			Kind:    domain.KindProductAttribute,
			Score:   5,
			Enabled: false,
			Params: domain.RuleParams{
				ItemConditions: []string{`item.flagged == true`},
			},
			Position: 4,
		},
		{
			ID:      "high-total-price",
			Label:   "Order Total Exceeds Price Threshold",
			Kind:    domain.KindTotalPrice,
			Score:   5,
			Enabled: true,
			Params: domain.RuleParams{
				BuyAmount: &buyAmount,
			},
			Position: 5,
		},
		{
			ID:      "high-total-quantity",
			Label:   "Order Quantity Exceeds Threshold",
			Kind:    domain.KindTotalQuantity,
			Score:   5,
			Enabled: true,
			Params: domain.RuleParams{
				BuyQuantity: 10,
			},
			Position: 6,
		},
	}
}
