package model

import "sort"

// CreditPackage is a purchasable bundle of credits. Price is in cents.
type CreditPackage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

var creditPackages = map[string]CreditPackage{
	"starter": {
		ID: "starter", Name: "Starter", Credits: 50, PriceCents: 49900, Currency: "usd",
		Description: "For small teams converting a handful of SOPs.",
	},
	"professional": {
		ID: "professional", Name: "Professional", Credits: 150, PriceCents: 129900, Currency: "usd",
		Description: "For training departments with a steady document pipeline.",
	},
	"enterprise": {
		ID: "enterprise", Name: "Enterprise", Credits: 500, PriceCents: 399900, Currency: "usd",
		Description: "For organizations rolling out training at scale.",
	},
}

func CreditPackageByID(id string) (CreditPackage, bool) {
	p, ok := creditPackages[id]
	return p, ok
}

// CreditPackages returns the catalog ordered by credit amount.
func CreditPackages() []CreditPackage {
	out := make([]CreditPackage, 0, len(creditPackages))
	for _, p := range creditPackages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
