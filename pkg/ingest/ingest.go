// Package ingest loads policy documents from YAML files and keeps a watched
// directory in sync with the index. Files describe a document's identity and
// text; versions are assigned by the index on each content change.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/index"
	"arbiter-hq/themis/pkg/ledger"
)

// policyFile is the on-disk YAML shape of one policy document.
type policyFile struct {
	DocID     string    `yaml:"doc_id"`
	Title     string    `yaml:"title"`
	Source    string    `yaml:"source"`
	Topic     string    `yaml:"topic"`
	ValidFrom time.Time `yaml:"valid_from"`
	Text      string    `yaml:"text"`
}

// LoadFile reads and validates one policy YAML file. Source and topic are
// case-insensitive in the file; the version is left for the index to assign.
func LoadFile(path string) (*compliance.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", filepath.Base(path), err)
	}

	if strings.TrimSpace(pf.DocID) == "" {
		return nil, compliance.NewInputError("doc_id", fmt.Sprintf("missing in %s", filepath.Base(path)))
	}
	if strings.TrimSpace(pf.Text) == "" {
		return nil, compliance.NewInputError("text", fmt.Sprintf("missing in %s", filepath.Base(path)))
	}

	doc := &compliance.PolicyDocument{
		DocID:     strings.TrimSpace(pf.DocID),
		Title:     strings.TrimSpace(pf.Title),
		Source:    compliance.Source(strings.ToUpper(strings.TrimSpace(pf.Source))),
		Topic:     compliance.Topic(strings.ToUpper(strings.TrimSpace(pf.Topic))),
		RawText:   pf.Text,
		ValidFrom: pf.ValidFrom,
	}
	if !compliance.ValidSource(doc.Source) {
		return nil, compliance.NewInputError("source", fmt.Sprintf("unknown source %q in %s", pf.Source, filepath.Base(path)))
	}
	if !compliance.ValidTopic(doc.Topic) {
		return nil, compliance.NewInputError("topic", fmt.Sprintf("unknown topic %q in %s", pf.Topic, filepath.Base(path)))
	}
	return doc, nil
}

// DocumentIndexer indexes one policy document version. Implemented by
// index.Manager.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc *compliance.PolicyDocument) (*index.Result, error)
}

// Ingestor moves policy files into the index, skipping files whose text
// matches the already active version so repeated sweeps and editor touches
// do not mint new versions.
type Ingestor struct {
	indexer DocumentIndexer
	store   ledger.Storage
	logger  *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(indexer DocumentIndexer, store ledger.Storage) *Ingestor {
	return &Ingestor{
		indexer: indexer,
		store:   store,
		logger:  slog.Default().With("component", "ingest"),
	}
}

// IngestFile loads one policy file and indexes it as a new version. The
// returned bool reports whether indexing happened; an unchanged document is
// skipped with a nil result.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (*index.Result, bool, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, false, err
	}

	active, err := in.store.ActiveDocument(ctx, doc.DocID)
	if err == nil && active.RawText == doc.RawText {
		return nil, false, nil
	}
	if err != nil && !compliance.IsNotFound(err) {
		return nil, false, err
	}

	result, err := in.indexer.IndexDocument(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Summary reports the outcome of one directory sweep.
type Summary struct {
	Indexed int
	Skipped int
	Failed  int
}

// IngestDir sweeps every policy YAML file directly under dir, in name order.
// A file that fails to load or index is logged and counted; it never stops
// the sweep.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (*Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}

	summary := &Summary{}
	for _, entry := range entries {
		if entry.IsDir() || !isPolicyFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		result, indexed, err := in.IngestFile(ctx, path)
		switch {
		case err != nil:
			summary.Failed++
			in.logger.Error("policy ingest failed", "path", path, "error", err)
		case !indexed:
			summary.Skipped++
			in.logger.Debug("policy unchanged, skipped", "path", path)
		default:
			summary.Indexed++
			in.logger.Info("policy ingested",
				"path", path,
				"doc_id", result.DocID,
				"version", result.Version,
				"chunks", result.Chunks)
		}
	}
	return summary, nil
}

// isPolicyFile reports whether a file name looks like a policy YAML file.
// Hidden files are ignored so editor swap files never reach the index.
func isPolicyFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
