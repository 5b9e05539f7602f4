package squarewebhook

import "strings"

// CreditPackage maps a purchasable Square payment amount to the credits it
// buys. The catalog is deliberately small and hard-coded; package changes
// ship as code so the webhook and the storefront can never disagree.
type CreditPackage struct {
	Name        string
	AmountCents int64
	Currency    string
	Credits     int64
}

var creditPackages = []CreditPackage{
	{Name: "starter", AmountCents: 499, Currency: "USD", Credits: 50},
	{Name: "creator", AmountCents: 999, Currency: "USD", Credits: 120},
	{Name: "studio", AmountCents: 2499, Currency: "USD", Credits: 350},
}

// PackageForAmount resolves the package a completed payment paid for.
func PackageForAmount(amountCents int64, currency string) (CreditPackage, bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, pkg := range creditPackages {
		if pkg.AmountCents == amountCents && pkg.Currency == currency {
			return pkg, true
		}
	}
	return CreditPackage{}, false
}
