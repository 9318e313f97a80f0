package knowledge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/edgard/bizcircle/internal/errors"
)

// infoAliases maps the lowercased prefix of a legacy "Key: value" line to the
// canonical BusinessInfo field name.
var infoAliases = map[string]string{
	"phone":     "phone",
	"insta":     "Insta",
	"instagram": "Insta",
	"site":      "Site",
	"website":   "Site",
	"email":     "email",
	"fb":        "Facebook",
	"facebook":  "Facebook",
	"address":   "address",
}

// sectionAliases maps lowercased record keys to their canonical section.
var sectionAliases = map[string]string{
	"businessinfo":    SectionBusinessInfo,
	"busniessinfo":    SectionBusinessInfo,
	"recommendations": SectionRecommendations,
	"suggestions":     SectionSuggestions,
	"positive":        SectionPositive,
	"negative":        SectionNegative,
}

// Decode parses an extraction response into a Document.
//
// The top level must be an object of categories, each an object of businesses,
// each an object of sections. Missing or null sections decode as empty.
// BusinessInfo may be an object or a list of "Key: value" lines. A surrounding
// markdown code fence is ignored. Structural violations are reported as
// MALFORMED_EXTRACTION errors.
func Decode(data []byte) (*Document, error) {
	data = stripCodeFence(data)
	if len(data) == 0 {
		return nil, apperrors.NewMalformedExtraction("extraction response is empty", nil)
	}
	if !gjson.ValidBytes(data) {
		return nil, apperrors.NewMalformedExtraction("extraction response is not valid JSON", nil)
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, apperrors.NewMalformedExtraction(
			fmt.Sprintf("extraction response top level is %s, want object", kind(root)), nil)
	}

	doc := NewDocument()
	var decodeErr error
	root.ForEach(func(catKey, catVal gjson.Result) bool {
		category := catKey.String()
		if catVal.Type == gjson.Null {
			doc.EnsureCategory(category)
			return true
		}
		if !catVal.IsObject() {
			decodeErr = malformed(fmt.Sprintf("category %q is %s, want object", category, kind(catVal)))
			return false
		}
		cat := doc.EnsureCategory(category)
		catVal.ForEach(func(bizKey, bizVal gjson.Result) bool {
			business := bizKey.String()
			record, err := decodeRecord(bizVal)
			if err != nil {
				decodeErr = malformed(fmt.Sprintf("business %q in category %q: %v", business, category, err))
				return false
			}
			cat.Set(business, record)
			return true
		})
		return decodeErr == nil
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return doc, nil
}

func malformed(msg string) error {
	return apperrors.NewMalformedExtraction(msg, nil)
}

func decodeRecord(v gjson.Result) (*BusinessRecord, error) {
	record := &BusinessRecord{}
	if v.Type == gjson.Null {
		return record, nil
	}
	if !v.IsObject() {
		return nil, fmt.Errorf("record is %s, want object", kind(v))
	}

	var err error
	v.ForEach(func(key, val gjson.Result) bool {
		switch sectionAliases[strings.ToLower(key.String())] {
		case SectionBusinessInfo:
			err = decodeInfo(val, &record.BusinessInfo)
		case SectionRecommendations:
			err = decodeRecommendations(val, record)
		case SectionSuggestions:
			err = decodeEntries(val, &record.Suggestions)
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", key.String(), err)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func decodeRecommendations(v gjson.Result, record *BusinessRecord) error {
	if v.Type == gjson.Null {
		return nil
	}
	if !v.IsObject() {
		return fmt.Errorf("section is %s, want object", kind(v))
	}
	var err error
	v.ForEach(func(key, val gjson.Result) bool {
		switch sectionAliases[strings.ToLower(key.String())] {
		case SectionPositive:
			err = decodeEntries(val, &record.Recommendations.Positive)
		case SectionNegative:
			err = decodeEntries(val, &record.Recommendations.Negative)
		case SectionSuggestions:
			// Some responses nest suggestions under Recommendations.
			err = decodeEntries(val, &record.Suggestions)
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", key.String(), err)
		}
		return err == nil
	})
	return err
}

func decodeEntries(v gjson.Result, into *Fields) error {
	if v.Type == gjson.Null {
		return nil
	}
	if !v.IsObject() {
		return fmt.Errorf("section is %s, want object", kind(v))
	}
	v.ForEach(func(key, val gjson.Result) bool {
		into.Set(key.String(), scalarText(val))
		return true
	})
	return nil
}

func decodeInfo(v gjson.Result, into *Fields) error {
	switch {
	case v.Type == gjson.Null:
		return nil
	case v.IsObject():
		return decodeEntries(v, into)
	case v.IsArray():
		var lines []string
		v.ForEach(func(_, line gjson.Result) bool {
			lines = append(lines, scalarText(line))
			return true
		})
		*into = NormalizeInfoLines(lines)
		return nil
	default:
		return fmt.Errorf("section is %s, want object or list", kind(v))
	}
}

// NormalizeInfoLines converts a legacy list of "Key: value" lines into
// BusinessInfo fields. Known keys are renamed through the alias table; other
// keys are kept as written. Lines without both a key and a value are dropped.
func NormalizeInfoLines(lines []string) Fields {
	var info Fields
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if canonical, known := infoAliases[strings.ToLower(key)]; known {
			key = canonical
		}
		info.Set(key, value)
	}
	return info
}

func scalarText(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}

func kind(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	}
	switch v.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	default:
		return "unknown"
	}
}

func stripCodeFence(data []byte) []byte {
	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	} else {
		return nil
	}
	data = bytes.TrimSpace(data)
	data = bytes.TrimSuffix(data, []byte("```"))
	return bytes.TrimSpace(data)
}
