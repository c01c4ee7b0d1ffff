package chunk

import (
	"slices"
	"strings"
)

// Metadata is the optional structured record attached to a chunk.
// Nil pointers and nil slices mean the field is absent; an empty string is a present value.
type Metadata struct {
	Title         *string  `json:"title,omitempty"`
	Category      *string  `json:"category,omitempty"`
	SubCategory   *string  `json:"sub_category,omitempty"`
	Topic         *string  `json:"topic,omitempty"`
	ContentType   *string  `json:"content_type,omitempty"`
	Summary       *string  `json:"summary,omitempty"`
	EffectiveDate *string  `json:"effective_date,omitempty"`
	Year          *int     `json:"year,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	FundCodes     []string `json:"fund_codes,omitempty"`
	Citations     []string `json:"ilcs_citations,omitempty"`
}

// Filterable field names.
const (
	FieldTitle         = "title"
	FieldCategory      = "category"
	FieldSubCategory   = "sub_category"
	FieldTopic         = "topic"
	FieldContentType   = "content_type"
	FieldEffectiveDate = "effective_date"
	FieldYear          = "year"
	FieldKeywords      = "keywords"
	FieldEntities      = "entities"
	FieldFundCodes     = "fund_codes"
	FieldCitations     = "ilcs_citations"
)

// Tags returns the string values stored under key. ok is false when the field is absent.
func (m *Metadata) Tags(key string) (values []string, ok bool) {
	if m == nil {
		return nil, false
	}
	one := func(p *string) ([]string, bool) {
		if p == nil {
			return nil, false
		}
		return []string{*p}, true
	}
	many := func(s []string) ([]string, bool) {
		return s, s != nil
	}
	switch key {
	case FieldTitle:
		return one(m.Title)
	case FieldCategory:
		return one(m.Category)
	case FieldSubCategory:
		return one(m.SubCategory)
	case FieldTopic:
		return one(m.Topic)
	case FieldContentType:
		return one(m.ContentType)
	case FieldEffectiveDate:
		return one(m.EffectiveDate)
	case FieldKeywords:
		return many(m.Keywords)
	case FieldEntities:
		return many(m.Entities)
	case FieldFundCodes:
		return many(m.FundCodes)
	case FieldCitations:
		return many(m.Citations)
	}
	return nil, false
}

// Numeric returns the numeric value stored under key.
func (m *Metadata) Numeric(key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	if key == FieldYear && m.Year != nil {
		return float64(*m.Year), true
	}
	return 0, false
}

// IsEmpty reports whether no field is present.
func (m *Metadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.Title == nil && m.Category == nil && m.SubCategory == nil && m.Topic == nil &&
		m.ContentType == nil && m.Summary == nil && m.EffectiveDate == nil && m.Year == nil &&
		m.Keywords == nil && m.Entities == nil && m.FundCodes == nil && m.Citations == nil
}

// Clone returns a deep copy. Clone of nil is nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := &Metadata{
		Title:         cloneString(m.Title),
		Category:      cloneString(m.Category),
		SubCategory:   cloneString(m.SubCategory),
		Topic:         cloneString(m.Topic),
		ContentType:   cloneString(m.ContentType),
		Summary:       cloneString(m.Summary),
		EffectiveDate: cloneString(m.EffectiveDate),
		Keywords:      slices.Clone(m.Keywords),
		Entities:      slices.Clone(m.Entities),
		FundCodes:     slices.Clone(m.FundCodes),
		Citations:     slices.Clone(m.Citations),
	}
	if m.Year != nil {
		y := *m.Year
		c.Year = &y
	}
	return c
}

// Str returns a pointer to a trimmed copy of s, or nil when s is blank.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
