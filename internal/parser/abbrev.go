package parser

import (
	"regexp"
	"strings"
	"sync"
)

// Full titles of the form "Functional programming (FP) - R. Slavescu - 40"
// teach the abbreviation table; short titles like "FP 479" expand through it.
var (
	fullTitleRe  = regexp.MustCompile(`^\s*([\p{L}][\p{L}\s.]+?)\s*\(([A-Z]{2,6})\)\s*-`)
	shortTitleRe = regexp.MustCompile(`^\s*([A-Z]{2,6})\b`)
)

// AbbrevTable maps learned subject abbreviations to full names. Safe for
// concurrent use; the merger learns from one source while expanding another.
type AbbrevTable struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewAbbrevTable() *AbbrevTable {
	return &AbbrevTable{m: make(map[string]string)}
}

// Learn records the mapping taught by a full-form title, if any.
func (a *AbbrevTable) Learn(title string) {
	m := fullTitleRe.FindStringSubmatch(title)
	if m == nil {
		return
	}
	name := titleCase(m[1])
	abbrev := m[2]
	if name == "" || abbrev == "" {
		return
	}
	a.mu.Lock()
	if _, ok := a.m[abbrev]; !ok {
		a.m[abbrev] = name
	}
	a.mu.Unlock()
}

// Expand replaces a leading known abbreviation with its full subject name.
// Unknown abbreviations pass through unchanged.
func (a *AbbrevTable) Expand(title string) string {
	m := shortTitleRe.FindStringSubmatch(title)
	if m == nil {
		return title
	}
	a.mu.RLock()
	full, ok := a.m[m[1]]
	a.mu.RUnlock()
	if !ok {
		return title
	}
	return full + strings.TrimPrefix(title, m[0])
}

// Mappings returns a copy of the learned table.
func (a *AbbrevTable) Mappings() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.m))
	for k, v := range a.m {
		out[k] = v
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
