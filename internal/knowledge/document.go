// Package knowledge models the business-recommendation knowledge base and
// implements decoding of extraction responses and the cumulative merge.
//
// A Document maps category name to business name to BusinessRecord. The same
// type serves as a single extraction result and as the cumulative knowledge
// base persisted in snapshots. Key order is preserved end to end.
package knowledge

import (
	"encoding/json"
	"iter"
)

// Section names as they appear in the serialized document.
const (
	SectionBusinessInfo    = "BusinessInfo"
	SectionRecommendations = "Recommendations"
	SectionSuggestions     = "Suggestions"
	SectionPositive        = "Positive"
	SectionNegative        = "Negative"
)

// Recommendations holds first-hand experiences, split by sentiment.
type Recommendations struct {
	Positive Fields `json:"Positive"`
	Negative Fields `json:"Negative"`
}

// BusinessRecord is everything known about one business.
type BusinessRecord struct {
	BusinessInfo    Fields          `json:"BusinessInfo"`
	Recommendations Recommendations `json:"Recommendations"`
	Suggestions     Fields          `json:"Suggestions"`
}

// Clone returns a deep copy of r.
func (r *BusinessRecord) Clone() *BusinessRecord {
	if r == nil {
		return &BusinessRecord{}
	}
	return &BusinessRecord{
		BusinessInfo: r.BusinessInfo.Clone(identity[string]),
		Recommendations: Recommendations{
			Positive: r.Recommendations.Positive.Clone(identity[string]),
			Negative: r.Recommendations.Negative.Clone(identity[string]),
		},
		Suggestions: r.Suggestions.Clone(identity[string]),
	}
}

// EntrySections returns the three entry-keyed sections in canonical order.
func (r *BusinessRecord) EntrySections() []*Fields {
	return []*Fields{&r.Recommendations.Positive, &r.Recommendations.Negative, &r.Suggestions}
}

// EntryCount returns the total number of recommendation and suggestion entries.
func (r *BusinessRecord) EntryCount() int {
	return r.Recommendations.Positive.Len() + r.Recommendations.Negative.Len() + r.Suggestions.Len()
}

// Category maps business name to record.
type Category = OrderedMap[*BusinessRecord]

func cloneCategory(c *Category) *Category {
	out := c.Clone((*BusinessRecord).Clone)
	return &out
}

// Document is a category → business → record mapping.
// KnowledgeBase is the same shape, used for the cumulative result.
type Document struct {
	categories OrderedMap[*Category]
}

// KnowledgeBase is the cumulative document persisted in snapshots.
type KnowledgeBase = Document

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Category returns the category stored under the exact name.
func (d *Document) Category(name string) (*Category, bool) {
	return d.categories.Get(name)
}

// EnsureCategory returns the category stored under name, creating it if absent.
func (d *Document) EnsureCategory(name string) *Category {
	if c, ok := d.categories.Get(name); ok {
		return c
	}
	c := &Category{}
	d.categories.Set(name, c)
	return c
}

// Business returns the record stored under the exact category and business names.
func (d *Document) Business(category, business string) (*BusinessRecord, bool) {
	c, ok := d.categories.Get(category)
	if !ok {
		return nil, false
	}
	return c.Get(business)
}

// SetBusiness stores record under category and business, creating the category if needed.
func (d *Document) SetBusiness(category, business string, record *BusinessRecord) {
	if record == nil {
		record = &BusinessRecord{}
	}
	d.EnsureCategory(category).Set(business, record)
}

// Categories iterates categories in order.
func (d *Document) Categories() iter.Seq2[string, *Category] {
	return d.categories.All()
}

// CategoryNames returns the category names in order.
func (d *Document) CategoryNames() []string {
	return d.categories.Keys()
}

// Len returns the number of categories.
func (d *Document) Len() int {
	return d.categories.Len()
}

// BusinessCount returns the number of category/business pairs.
func (d *Document) BusinessCount() int {
	n := 0
	for _, c := range d.categories.All() {
		n += c.Len()
	}
	return n
}

// Walk calls fn for every business record in order until fn returns false.
func (d *Document) Walk(fn func(category, business string, record *BusinessRecord) bool) {
	for cat, c := range d.categories.All() {
		for biz, rec := range c.All() {
			if !fn(cat, biz, rec) {
				return
			}
		}
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	return &Document{categories: d.categories.Clone(cloneCategory)}
}

// MarshalJSON writes the document with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.categories.MarshalJSON()
}

// UnmarshalJSON decodes a document leniently, with the same rules as Decode.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Decode(data)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// Encode serializes the document as compact JSON.
func (d *Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}
