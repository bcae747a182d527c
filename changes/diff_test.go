package changes

import (
	"testing"
	"time"
)

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Hello   world\n\nsecond\tline ")
	if got != "Hello world second line" {
		t.Errorf("normalized = %q", got)
	}
}

func TestComputeFingerprint_StableUnderReflow(t *testing.T) {
	a := ComputeFingerprint("Breaking news\n\nThe market moved today.")
	b := ComputeFingerprint("Breaking   news\nThe market\tmoved today.")

	if a.Hash != b.Hash {
		t.Error("whitespace reflow changed the hash")
	}
	if a.WordCount != 6 {
		t.Errorf("wordCount = %d, want 6", a.WordCount)
	}
	if a.TextLength != len("Breaking news The market moved today.") {
		t.Errorf("textLength = %d", a.TextLength)
	}
}

func TestComputeFingerprint_Sections(t *testing.T) {
	fp := ComputeFingerprint("Intro paragraph here\n\nPricing details follow\n\nContact us at the office")
	if len(fp.SectionHashes) != 3 {
		t.Fatalf("sections = %d, want 3", len(fp.SectionHashes))
	}
	if _, ok := fp.SectionHashes["Pricing details follow"]; !ok {
		t.Errorf("missing section key, have %v", fp.SectionHashes)
	}

	// Single-block text carries no section map
	single := ComputeFingerprint("just one block of text")
	if single.SectionHashes != nil {
		t.Errorf("sectionHashes = %v, want nil", single.SectionHashes)
	}
}

func TestSectionKey_TruncatesLongLines(t *testing.T) {
	key := sectionKey("one two three four five six seven eight nine ten\nrest")
	if key != "one two three four five six seven eight" {
		t.Errorf("key = %q", key)
	}
}

func TestDiffFingerprints(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	prev := ComputeFingerprint("Intro stays the same\n\nOld announcement going away")
	curr := ComputeFingerprint("Intro stays the same\n\nFresh announcement arriving right now")

	record := diffFingerprints(prev, curr, now)
	if record.PreviousHash != prev.Hash || record.NewHash != curr.Hash {
		t.Error("hashes not carried into the record")
	}
	if len(record.AddedSections) != 1 || record.AddedSections[0] != "Fresh announcement arriving right now" {
		t.Errorf("added = %v", record.AddedSections)
	}
	if len(record.RemovedSections) != 1 || record.RemovedSections[0] != "Old announcement going away" {
		t.Errorf("removed = %v", record.RemovedSections)
	}
	if record.WordCountDelta != 1 {
		t.Errorf("wordCountDelta = %d, want 1", record.WordCountDelta)
	}
}

func TestGradeChange(t *testing.T) {
	cases := []struct {
		name      string
		prevWords int
		delta     int
		churn     int
		want      Significance
	}{
		{"tiny delta no churn", 100, 5, 0, SignificanceLow},
		{"moderate delta", 100, 15, 0, SignificanceMedium},
		{"one section moved", 100, 2, 1, SignificanceMedium},
		{"large delta", 100, 40, 0, SignificanceHigh},
		{"heavy churn", 100, 2, 3, SignificanceHigh},
		{"shrink counts too", 100, -35, 0, SignificanceHigh},
		{"empty previous", 0, 10, 0, SignificanceHigh},
	}

	for _, tc := range cases {
		record := ChangeRecord{WordCountDelta: tc.delta}
		for i := 0; i < tc.churn; i++ {
			record.AddedSections = append(record.AddedSections, "s")
		}
		got := gradeChange(Fingerprint{WordCount: tc.prevWords}, record)
		if got != tc.want {
			t.Errorf("%s: significance = %s, want %s", tc.name, got, tc.want)
		}
	}
}
