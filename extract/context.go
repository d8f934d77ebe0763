package extract

import (
	"regexp"
	"strings"
)

// Gender labels
const (
	LabelMale   = "male"
	LabelFemale = "female"
	LabelPerson = "person"
)

// QueryContext holds the demographic and budget hints found in a query
type QueryContext struct {
	IsMale        bool   `json:"is_male"`
	IsFemale      bool   `json:"is_female"`
	AgeContext    string `json:"age_context,omitempty"`
	BudgetContext string `json:"budget_context,omitempty"`
	GenderLabel   string `json:"gender_label"`
}

var (
	malePattern = regexp.MustCompile(`(?i)\b(?:brother|father|dad|daddy|husband|boyfriend|son|grandpa|grandfather|grandson|uncle|nephew|him|his|he|boy|man|guy)s?\b`)

	femalePattern = regexp.MustCompile(`(?i)\b(?:sister|mother|mom|mum|mommy|wife|girlfriend|daughter|grandma|grandmother|granddaughter|aunt|niece|her|she|girl|woman|women|lady)s?\b`)

	ageContextPattern = regexp.MustCompile(`(?i)\b\d+(?:\s*(?:-|–|to)\s*\d+)?[\s-]*(?:years?|yrs?|yr)[\s-]*old\b`)

	budgetContextPattern = regexp.MustCompile(`(?i)budget\s*:?\s*(\$?\s*\d[\d,]*(?:\.\d+)?(?:\s*(?:-|–|to)\s*\$?\s*\d[\d,]*(?:\.\d+)?)?)|(\$?\s*\d[\d,]*(?:\.\d+)?(?:\s*(?:-|–|to)\s*\$?\s*\d[\d,]*(?:\.\d+)?)?)\s*budget`)
)

// Context extracts gender, age and budget hints from text. When both or
// neither gender word lists match, both flags are false and the label is
// LabelPerson.
func Context(text string) QueryContext {
	qc := QueryContext{GenderLabel: LabelPerson}

	male := malePattern.MatchString(text)
	female := femalePattern.MatchString(text)
	if male != female {
		qc.IsMale, qc.IsFemale = male, female
		if male {
			qc.GenderLabel = LabelMale
		} else {
			qc.GenderLabel = LabelFemale
		}
	}

	if m := ageContextPattern.FindString(text); m != "" {
		qc.AgeContext = normalizeSpace(m)
	}
	if m := budgetContextPattern.FindStringSubmatch(text); m != nil {
		budget := m[1]
		if budget == "" {
			budget = m[2]
		}
		qc.BudgetContext = strings.TrimSpace(normalizeSpace(budget))
	}
	return qc
}
