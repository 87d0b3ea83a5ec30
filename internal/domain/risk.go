package domain

import "strings"

// RiskLevel grades how damaging the exposed data of a breach is.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Checked from most to least severe; anything unmatched is low.
var riskClasses = []struct {
	level   RiskLevel
	classes []string
}{
	{RiskCritical, []string{
		"passwords",
		"credit cards",
		"credit card cvvs",
		"bank account numbers",
		"security questions and answers",
		"partial credit card data",
		"financial data",
	}},
	{RiskHigh, []string{
		"phone numbers",
		"physical addresses",
		"social security numbers",
		"government issued ids",
		"passport numbers",
		"drivers licenses",
		"national ids",
		"tax identifiers",
		"dates of birth",
	}},
	{RiskMedium, []string{
		"email addresses",
		"usernames",
		"ip addresses",
		"device information",
		"browser user agent details",
		"employers",
		"job titles",
	}},
}

// RiskLevelFor grades a list of data-class labels. Matching is case-insensitive substring.
func RiskLevelFor(dataClasses []string) RiskLevel {
	if len(dataClasses) == 0 {
		return RiskLow
	}

	normalized := make([]string, len(dataClasses))
	for i, dc := range dataClasses {
		normalized[i] = strings.ToLower(strings.TrimSpace(dc))
	}

	for _, tier := range riskClasses {
		for _, class := range tier.classes {
			for _, dc := range normalized {
				if strings.Contains(dc, class) {
					return tier.level
				}
			}
		}
	}
	return RiskLow
}
