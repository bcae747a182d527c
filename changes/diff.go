package changes

import (
	"strings"
	"time"

	"llmb/shared"
)

// =============================================================================
// FINGERPRINTS AND DIFFS
// =============================================================================
//
// A fingerprint is the sha256 of the normalized text plus its length and
// word count. Section hashes allow the diff to name what moved: the text is
// split into blank-line-separated sections, each keyed by a short excerpt of
// its first line.
//
// =============================================================================

// Significance grades how much a change matters
type Significance string

const (
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

// Fingerprint identifies one version of a page's text
type Fingerprint struct {
	Hash       string `json:"hash"`
	TextLength int    `json:"textLength"`
	WordCount  int    `json:"wordCount"`

	// SectionHashes maps a section excerpt to the hash of its content
	SectionHashes map[string]string `json:"sectionHashes,omitempty"`
}

// ChangeRecord describes one observed change of a tracked URL
type ChangeRecord struct {
	Timestamp       time.Time    `json:"timestamp"`
	AddedSections   []string     `json:"addedSections,omitempty"`
	RemovedSections []string     `json:"removedSections,omitempty"`
	WordCountDelta  int          `json:"wordCountDelta"`
	Significance    Significance `json:"significance"`
	PreviousHash    string       `json:"previousHash"`
	NewHash         string       `json:"newHash"`
}

// sectionKeyWords bounds the excerpt used to name a section
const sectionKeyWords = 8

// NormalizeText collapses all whitespace runs to single spaces and trims.
// Fingerprints are computed over normalized text so markup-only reflows do
// not register as changes.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ComputeFingerprint builds the fingerprint of a text snapshot
func ComputeFingerprint(text string) Fingerprint {
	normalized := NormalizeText(text)
	fp := Fingerprint{
		Hash:       shared.HashString(normalized),
		TextLength: len(normalized),
		WordCount:  len(strings.Fields(normalized)),
	}

	sections := splitSections(text)
	if len(sections) > 1 {
		fp.SectionHashes = make(map[string]string, len(sections))
		for _, section := range sections {
			fp.SectionHashes[sectionKey(section)] = shared.HashString(NormalizeText(section))
		}
	}
	return fp
}

// splitSections breaks raw text on blank lines
func splitSections(text string) []string {
	var sections []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(block) != "" {
			sections = append(sections, block)
		}
	}
	return sections
}

// sectionKey names a section by the leading words of its first line
func sectionKey(section string) string {
	line := section
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	words := strings.Fields(line)
	if len(words) > sectionKeyWords {
		words = words[:sectionKeyWords]
	}
	return strings.Join(words, " ")
}

// diffFingerprints computes the semantic delta between two fingerprints
func diffFingerprints(prev, curr Fingerprint, now time.Time) ChangeRecord {
	record := ChangeRecord{
		Timestamp:      now,
		WordCountDelta: curr.WordCount - prev.WordCount,
		PreviousHash:   prev.Hash,
		NewHash:        curr.Hash,
	}

	for key, hash := range curr.SectionHashes {
		if prevHash, ok := prev.SectionHashes[key]; !ok || prevHash != hash {
			record.AddedSections = append(record.AddedSections, key)
		}
	}
	for key := range prev.SectionHashes {
		if _, ok := curr.SectionHashes[key]; !ok {
			record.RemovedSections = append(record.RemovedSections, key)
		}
	}

	record.Significance = gradeChange(prev, record)
	return record
}

// gradeChange maps the size of a delta onto a significance level
func gradeChange(prev Fingerprint, record ChangeRecord) Significance {
	churn := len(record.AddedSections) + len(record.RemovedSections)

	delta := record.WordCountDelta
	if delta < 0 {
		delta = -delta
	}
	ratio := 1.0
	if prev.WordCount > 0 {
		ratio = float64(delta) / float64(prev.WordCount)
	}

	switch {
	case ratio > 0.3 || churn >= 3:
		return SignificanceHigh
	case ratio > 0.1 || churn >= 1:
		return SignificanceMedium
	default:
		return SignificanceLow
	}
}
