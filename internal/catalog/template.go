package catalog

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"sort"

	json "github.com/goccy/go-json"
)

// DefaultLanguage is the fallback when a template has no variant for the
// requested language.
const DefaultLanguage = "en"

// Variants is one or more interchangeable texts. In files it is either a
// string or a list of strings.
type Variants []string

func (v *Variants) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Variants{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("expected string or list of strings")
	}
	*v = list
	return nil
}

// Template maps a language code to its variants. A bare string or list in a
// file is stored under DefaultLanguage.
type Template map[string]Variants

func (t *Template) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = nil
		return nil
	}
	if b[0] == '"' || b[0] == '[' {
		var v Variants
		if err := v.UnmarshalJSON(b); err != nil {
			return err
		}
		*t = Template{DefaultLanguage: v}
		return nil
	}
	var m map[string]Variants
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*t = m
	return nil
}

func (t Template) IsEmpty() bool {
	for _, v := range t {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// IntN is satisfied by *rand.Rand from math/rand/v2.
type IntN interface {
	IntN(n int) int
}

// PickVariant selects a text for lang, falling back to DefaultLanguage and
// then to the first language in sorted order. A nil rng uses the global
// source.
func PickVariant(t Template, lang string, rng IntN) string {
	v := t.variants(lang)
	switch len(v) {
	case 0:
		return ""
	case 1:
		return v[0]
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(v))
	} else {
		i = rand.IntN(len(v))
	}
	return v[i]
}

func (t Template) variants(lang string) Variants {
	if v := t[lang]; len(v) > 0 {
		return v
	}
	if v := t[DefaultLanguage]; len(v) > 0 {
		return v
	}
	keys := make([]string, 0, len(t))
	for k, v := range t {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return t[keys[0]]
}

// Localized is a single text per language.
type Localized map[string]string

// Get returns the text for lang, falling back to DefaultLanguage.
func (l Localized) Get(lang string) string {
	if s, ok := l[lang]; ok {
		return s
	}
	return l[DefaultLanguage]
}
