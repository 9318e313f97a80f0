package knowledge

import (
	"golang.org/x/text/cases"
)

// Merge folds incoming into base and returns the result. Neither input is modified.
//
// Category names, and business names within a category, are matched without
// regard to case; the spelling already present in base wins, and a name first
// seen in incoming becomes canonical for later case variants. A new
// category/business pair is inserted as a copy of the incoming record. For an
// existing pair, BusinessInfo fields and recommendation and suggestion entries
// are unioned, with incoming values replacing those under the same key.
// Nothing present in base is ever removed.
func Merge(base, incoming *Document) *Document {
	merged := base.Clone()
	if incoming == nil {
		return merged
	}

	fold := cases.Fold()
	categoryNames := make(map[string]string, merged.Len())
	for _, name := range merged.CategoryNames() {
		folded := fold.String(name)
		if _, seen := categoryNames[folded]; !seen {
			categoryNames[folded] = name
		}
	}

	for category, businesses := range incoming.Categories() {
		folded := fold.String(category)
		canonical, ok := categoryNames[folded]
		if !ok {
			canonical = category
			categoryNames[folded] = canonical
		}
		target := merged.EnsureCategory(canonical)

		businessNames := make(map[string]string, target.Len())
		for _, name := range target.Keys() {
			f := fold.String(name)
			if _, seen := businessNames[f]; !seen {
				businessNames[f] = name
			}
		}

		for business, record := range businesses.All() {
			f := fold.String(business)
			existingName, found := businessNames[f]
			if !found {
				businessNames[f] = business
				target.Set(business, record.Clone())
				continue
			}
			existing, _ := target.Get(existingName)
			mergeRecord(existing, record)
		}
	}
	return merged
}

func mergeRecord(into, from *BusinessRecord) {
	if from == nil {
		return
	}
	union(&into.BusinessInfo, &from.BusinessInfo)
	union(&into.Recommendations.Positive, &from.Recommendations.Positive)
	union(&into.Recommendations.Negative, &from.Recommendations.Negative)
	union(&into.Suggestions, &from.Suggestions)
}

func union(into, from *Fields) {
	for k, v := range from.All() {
		into.Set(k, v)
	}
}
