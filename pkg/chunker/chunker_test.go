package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

func testConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		TargetWords:      10,
		OverlapWords:     3,
		MinDocumentWords: 5,
	}
}

// genWords returns "w0 w1 ... w(n-1)".
func genWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func testDoc(text string) *compliance.PolicyDocument {
	return &compliance.PolicyDocument{
		DocID:    "aml-policy",
		Title:    "AML Policy",
		Source:   compliance.SourceInternal,
		Topic:    compliance.TopicAML,
		Version:  3,
		RawText:  text,
		IsActive: true,
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ChunkingConfig
	}{
		{"zero target", config.ChunkingConfig{TargetWords: 0, OverlapWords: 0}},
		{"negative overlap", config.ChunkingConfig{TargetWords: 10, OverlapWords: -1}},
		{"overlap equals target", config.ChunkingConfig{TargetWords: 10, OverlapWords: 10}},
		{"overlap exceeds target", config.ChunkingConfig{TargetWords: 10, OverlapWords: 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("New(%+v) expected error, got nil", tt.cfg)
			}
		})
	}
}

func TestNew_DefaultsAccepted(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := New(cfg.Chunking); err != nil {
		t.Fatalf("New with default chunking config failed: %v", err)
	}
}

func TestSplit_FullCoverage(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// 25 words, target 10, overlap 3: windows start at 0, 7, 14, 21. The
	// last window holds only 4 words and must still be emitted.
	doc := testDoc(genWords(25))
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	seen := make(map[string]bool)
	for _, ch := range chunks {
		for _, w := range strings.Fields(ch.Text) {
			seen[w] = true
		}
	}
	for i := 0; i < 25; i++ {
		if !seen[fmt.Sprintf("w%d", i)] {
			t.Errorf("word w%d missing from all chunks", i)
		}
	}

	last := chunks[len(chunks)-1]
	if got := len(strings.Fields(last.Text)); got != 4 {
		t.Errorf("final partial chunk has %d words, want 4", got)
	}
}

func TestSplit_OverlapSharedBetweenChunks(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks, err := c.Split(testDoc(genWords(25)))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Text)
		cur := strings.Fields(chunks[i].Text)

		// With overlap 3 the first 3 words of each chunk repeat the last
		// 3 words of the previous one.
		tail := prev[len(prev)-3:]
		head := cur[:3]
		for j := range tail {
			if tail[j] != head[j] {
				t.Errorf("chunk %d overlap mismatch: tail %v vs head %v", i, tail, head)
				break
			}
		}
	}
}

func TestSplit_SequenceAndIDs(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks, err := c.Split(testDoc(genWords(25)))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for i, ch := range chunks {
		if ch.Seq != i {
			t.Errorf("chunk %d has seq %d", i, ch.Seq)
		}
		want := compliance.ChunkID("aml-policy", 3, i)
		if ch.ChunkID != want {
			t.Errorf("chunk %d ID = %q, want %q", i, ch.ChunkID, want)
		}
	}

	// Splitting the same document again yields identical IDs.
	again, err := c.Split(testDoc(genWords(25)))
	if err != nil {
		t.Fatalf("second Split failed: %v", err)
	}
	for i := range chunks {
		if chunks[i].ChunkID != again[i].ChunkID {
			t.Errorf("chunk IDs not stable: %q vs %q", chunks[i].ChunkID, again[i].ChunkID)
		}
	}
}

func TestSplit_SectionBoundaries(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	text := "Section 1: Scope\n" +
		strings.Repeat("alpha ", 15) + "\n" +
		"Section 2: Reporting Obligations\n" +
		strings.Repeat("beta ", 15)

	chunks, err := c.Split(testDoc(text))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for _, ch := range chunks {
		hasAlpha := strings.Contains(ch.Text, "alpha")
		hasBeta := strings.Contains(ch.Text, "beta")
		if hasAlpha && hasBeta {
			t.Errorf("chunk %q spans two sections", ch.ChunkID)
		}
		switch {
		case hasAlpha && ch.Section != "Section 1: Scope":
			t.Errorf("alpha chunk tagged with section %q", ch.Section)
		case hasBeta && ch.Section != "Section 2: Reporting Obligations":
			t.Errorf("beta chunk tagged with section %q", ch.Section)
		}
	}
}

func TestSplit_SectionHeadingForms(t *testing.T) {
	tests := []struct {
		name    string
		heading string
	}{
		{"section", "Section 4"},
		{"article", "Article 12: Sanctions Screening"},
		{"chapter", "chapter 2"},
		{"numbered", "4.1 Customer Due Diligence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(testConfig())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			text := tt.heading + "\n" + strings.Repeat("word ", 12)
			chunks, err := c.Split(testDoc(text))
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if chunks[0].Section != tt.heading {
				t.Errorf("section = %q, want %q", chunks[0].Section, tt.heading)
			}
		})
	}
}

func TestSplit_TextBeforeFirstHeadingKept(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	text := "preamble introduction overview summary context\n" +
		"Section 1: Scope\n" +
		strings.Repeat("body ", 8)

	chunks, err := c.Split(testDoc(text))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if !strings.Contains(chunks[0].Text, "preamble") {
		t.Errorf("leading text lost: first chunk is %q", chunks[0].Text)
	}
	if chunks[0].Section != "" {
		t.Errorf("leading chunk should have no section title, got %q", chunks[0].Section)
	}
}

func TestSplit_EmptySectionDropped(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Section 1 has no body: two headings back to back.
	text := "Section 1: Reserved\n" +
		"Section 2: Scope\n" +
		strings.Repeat("body ", 8)

	chunks, err := c.Split(testDoc(text))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			t.Errorf("whitespace-only chunk emitted: %q", ch.ChunkID)
		}
		if ch.Section == "Section 1: Reserved" {
			t.Errorf("empty section produced chunk %q", ch.ChunkID)
		}
	}
}

func TestSplit_ShortDocumentRejected(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = c.Split(testDoc("too short"))
	if err == nil {
		t.Fatal("expected error for document below minimum length")
	}
	var inputErr *compliance.InputError
	if !errors.As(err, &inputErr) {
		t.Errorf("expected InputError, got %T", err)
	}
}

func TestSplit_SingleChunkDocument(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chunks, err := c.Split(testDoc(genWords(7)))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if got := len(strings.Fields(chunks[0].Text)); got != 7 {
		t.Errorf("single chunk has %d words, want 7", got)
	}
}

func TestSplit_MetadataInherited(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	doc := testDoc(genWords(12))
	doc.Source = compliance.SourceOFAC
	doc.Topic = compliance.TopicSanctions
	doc.Version = 7
	doc.IsActive = false

	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for _, ch := range chunks {
		if ch.DocID != doc.DocID || ch.Version != 7 {
			t.Errorf("chunk identity mismatch: %s v%d", ch.DocID, ch.Version)
		}
		if ch.Source != compliance.SourceOFAC || ch.Topic != compliance.TopicSanctions {
			t.Errorf("chunk metadata mismatch: source=%s topic=%s", ch.Source, ch.Topic)
		}
		if ch.IsActive {
			t.Error("chunk should inherit IsActive=false from document")
		}
	}
}

func TestSplit_MissingDocID(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	doc := testDoc(genWords(12))
	doc.DocID = ""
	if _, err := c.Split(doc); err == nil {
		t.Fatal("expected error for empty doc_id")
	}
}
