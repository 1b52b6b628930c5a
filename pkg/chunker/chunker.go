package chunker

import (
	"log/slog"
	"regexp"
	"strings"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// sectionPattern matches lines that look like section headings: "Section 3",
// "Article 12: Reporting", "Chapter 2", or numbered headings such as "4.1
// Customer Due Diligence". Matched against whitespace-trimmed lines.
var sectionPattern = regexp.MustCompile(`(?i)^(?:section|article|chapter|\d+\.?\d*)\s+\S.*$`)

// Chunker splits policy documents into overlapping, metadata-tagged chunks.
// Chunks prefer section boundaries: when headings are detected, windows never
// span two sections. The whole document is always covered; only empty or
// whitespace-only chunks are dropped.
type Chunker struct {
	targetWords  int
	overlapWords int
	minDocWords  int
	logger       *slog.Logger
}

// New creates a Chunker from configuration. Returns an error if the overlap
// is not strictly less than the target chunk length, since the window could
// never advance.
func New(cfg config.ChunkingConfig) (*Chunker, error) {
	if cfg.TargetWords <= 0 {
		return nil, compliance.NewInputError("chunking.target_words", "must be positive")
	}
	if cfg.OverlapWords < 0 || cfg.OverlapWords >= cfg.TargetWords {
		return nil, compliance.NewInputError("chunking.overlap_words", "must be non-negative and strictly less than target words")
	}

	return &Chunker{
		targetWords:  cfg.TargetWords,
		overlapWords: cfg.OverlapWords,
		minDocWords:  cfg.MinDocumentWords,
		logger:       slog.Default().With("component", "chunker"),
	}, nil
}

// Split divides a document into chunks carrying the document's metadata.
// Chunk sequence numbers are assigned in document order, so chunk IDs are
// stable for a given (doc_id, version, text).
//
// Returns an InputError if the document is shorter than the configured
// minimum; such documents hold nothing meaningful to retrieve.
func (c *Chunker) Split(doc *compliance.PolicyDocument) ([]compliance.PolicyChunk, error) {
	if strings.TrimSpace(doc.DocID) == "" {
		return nil, compliance.NewInputError("doc_id", "must not be empty")
	}

	totalWords := len(strings.Fields(doc.RawText))
	if totalWords < c.minDocWords {
		return nil, compliance.NewInputError("raw_text",
			"document too short to index")
	}

	var chunks []compliance.PolicyChunk
	seq := 0

	sections := detectSections(doc.RawText)
	if len(sections) == 0 {
		sections = []section{{title: "", text: doc.RawText}}
	}

	for _, sec := range sections {
		words := strings.Fields(sec.text)
		step := c.targetWords - c.overlapWords

		for start := 0; start < len(words); start += step {
			end := start + c.targetWords
			if end > len(words) {
				end = len(words)
			}

			text := strings.Join(words[start:end], " ")
			if strings.TrimSpace(text) == "" {
				continue
			}

			chunks = append(chunks, compliance.PolicyChunk{
				ChunkID:  compliance.ChunkID(doc.DocID, doc.Version, seq),
				DocID:    doc.DocID,
				Version:  doc.Version,
				Seq:      seq,
				Section:  sec.title,
				Text:     text,
				Source:   doc.Source,
				Topic:    doc.Topic,
				IsActive: doc.IsActive,
			})
			seq++

			// The final window reached the end; a further overlap-only
			// window would add no new words.
			if end == len(words) {
				break
			}
		}
	}

	if len(chunks) == 0 {
		return nil, compliance.NewInputError("raw_text", "document contains no chunkable text")
	}

	c.logger.Debug("document chunked",
		"doc_id", doc.DocID,
		"version", doc.Version,
		"words", totalWords,
		"chunks", len(chunks))

	return chunks, nil
}

// Section is a detected heading plus the body text that follows it.
// Documents without headings come back as a single untitled section.
type Section struct {
	Title string
	Text  string
}

// Sections exposes the heading detection used for chunking, so callers that
// compare document versions see the same section boundaries the chunks carry.
func Sections(text string) []Section {
	detected := detectSections(text)
	if detected == nil {
		return []Section{{Text: text}}
	}

	out := make([]Section, 0, len(detected))
	for _, sec := range detected {
		out = append(out, Section{Title: sec.title, Text: sec.text})
	}
	return out
}

// section is a heading plus the text that follows it until the next heading.
type section struct {
	title string
	text  string
}

// detectSections splits text on heading lines. Text before the first heading
// is returned as an untitled leading section so no content is lost. Returns
// nil when the document has no headings at all.
func detectSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	current := section{}
	var body []string
	sawHeading := false

	flush := func() {
		current.text = strings.Join(body, "\n")
		if current.title != "" || strings.TrimSpace(current.text) != "" {
			sections = append(sections, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if sectionPattern.MatchString(trimmed) {
			flush()
			current = section{title: trimmed}
			sawHeading = true
			continue
		}
		body = append(body, line)
	}
	flush()

	if !sawHeading {
		return nil
	}
	return sections
}
