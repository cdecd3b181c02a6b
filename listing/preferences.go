package listing

import (
	"encoding/json"
	"sort"
)

// Category is the bucket a service item is sorted into by a listing owner.
type Category string

const (
	CategoryMustHave      Category = "must_have"
	CategoryNiceToHave    Category = "nice_to_have"
	CategoryNotInterested Category = "not_interested"
)

// Valid reports whether c names one of the three buckets.
func (c Category) Valid() bool {
	switch c {
	case CategoryMustHave, CategoryNiceToHave, CategoryNotInterested:
		return true
	}
	return false
}

// Preferences holds three disjoint item sets. An item belongs to at most one bucket; assigning
// it to a bucket removes it from the others.
type Preferences struct {
	buckets map[string]Category
}

// Assign moves item into c.
func (p *Preferences) Assign(item string, c Category) bool {
	if item == "" || !c.Valid() {
		return false
	}
	if p.buckets == nil {
		p.buckets = make(map[string]Category)
	}
	p.buckets[item] = c
	return true
}

// Remove drops item from whichever bucket holds it.
func (p *Preferences) Remove(item string) {
	delete(p.buckets, item)
}

// CategoryOf resolves the bucket holding item.
func (p Preferences) CategoryOf(item string) (Category, bool) {
	c, ok := p.buckets[item]
	return c, ok
}

// Items returns the sorted members of c.
func (p Preferences) Items(c Category) []string {
	out := make([]string, 0, len(p.buckets))
	for item, bucket := range p.buckets {
		if bucket == c {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy that shares no state with p.
func (p Preferences) Clone() Preferences {
	if p.buckets == nil {
		return Preferences{}
	}
	out := Preferences{buckets: make(map[string]Category, len(p.buckets))}
	for item, c := range p.buckets {
		out.buckets[item] = c
	}
	return out
}

// Len is the number of categorised items.
func (p Preferences) Len() int {
	return len(p.buckets)
}

type preferencesJSON struct {
	MustHave      []string `json:"mustHave"`
	NiceToHave    []string `json:"niceToHave"`
	NotInterested []string `json:"notInterested"`
}

// MarshalJSON always emits all three buckets, empty ones as [].
func (p Preferences) MarshalJSON() ([]byte, error) {
	return json.Marshal(preferencesJSON{
		MustHave:      p.Items(CategoryMustHave),
		NiceToHave:    p.Items(CategoryNiceToHave),
		NotInterested: p.Items(CategoryNotInterested),
	})
}

// UnmarshalJSON accepts the three-array wire form. When an item appears in more than one array,
// the later bucket wins so the sets stay disjoint.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw preferencesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.buckets = make(map[string]Category, len(raw.MustHave)+len(raw.NiceToHave)+len(raw.NotInterested))
	for _, item := range raw.MustHave {
		p.Assign(item, CategoryMustHave)
	}
	for _, item := range raw.NiceToHave {
		p.Assign(item, CategoryNiceToHave)
	}
	for _, item := range raw.NotInterested {
		p.Assign(item, CategoryNotInterested)
	}
	return nil
}
