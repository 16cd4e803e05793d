package models

import (
	"encoding/json"
	"fmt"
)

// CorpusTag identifies which of an assistant's two corpora an artifact belongs to.
// The zero value is not a valid tag.
type CorpusTag uint8

const (
	CorpusOwn CorpusTag = iota + 1
	CorpusSupporting
)

// AllCorpora lists both tags in display order.
var AllCorpora = []CorpusTag{CorpusOwn, CorpusSupporting}

// ParseCorpusTag converts the wire form ("own" or "supporting") into a CorpusTag.
func ParseCorpusTag(s string) (CorpusTag, error) {
	switch s {
	case "own":
		return CorpusOwn, nil
	case "supporting":
		return CorpusSupporting, nil
	}
	return 0, fmt.Errorf("invalid corpus tag %q", s)
}

// String returns the wire form of the tag.
func (t CorpusTag) String() string {
	switch t {
	case CorpusOwn:
		return "own"
	case CorpusSupporting:
		return "supporting"
	}
	return fmt.Sprintf("CorpusTag(%d)", uint8(t))
}

// Valid reports whether t is one of the two defined tags.
func (t CorpusTag) Valid() bool {
	return t == CorpusOwn || t == CorpusSupporting
}

// Other returns the opposite corpus.
func (t CorpusTag) Other() CorpusTag {
	if t == CorpusOwn {
		return CorpusSupporting
	}
	return CorpusOwn
}

func (t CorpusTag) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid corpus tag %d", uint8(t))
	}
	return json.Marshal(t.String())
}

func (t *CorpusTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("corpus tag must be a string: %w", err)
	}
	parsed, err := ParseCorpusTag(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
