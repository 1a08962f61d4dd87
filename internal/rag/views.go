package rag

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/themis-legal/themis/pkg/models"
)

// ContextResult is a rendered context block plus the sources behind it.
type ContextResult struct {
	Context string         `json:"context"`
	Sources []SearchResult `json:"sources"`
}

// Empty reports whether no context was retrieved.
func (c ContextResult) Empty() bool { return c.Context == "" }

func (s *Service) view(ctx context.Context, query string, opts SearchOptions) ContextResult {
	results := s.Search(ctx, query, opts)
	return ContextResult{Context: BuildContext(results), Sources: results}
}

// Legislation searches statutes and codes.
func (s *Service) Legislation(ctx context.Context, query string) ContextResult {
	return s.view(ctx, query, SearchOptions{SourceType: models.SourceLegislation, Limit: 5, MinConfidence: Threshold(0.7)})
}

// Jurisprudence searches court decisions and precedents.
func (s *Service) Jurisprudence(ctx context.Context, query string) ContextResult {
	return s.view(ctx, query, SearchOptions{SourceType: models.SourceJurisprudence, Limit: 5, MinConfidence: Threshold(0.7)})
}

// CaseTag is the tag ingestion uses to link a document chunk to a case.
func CaseTag(caseID string) string { return "case:" + caseID }

// Document searches ingested documents, restricted to caseID when given.
func (s *Service) Document(ctx context.Context, query, caseID string) ContextResult {
	opts := SearchOptions{SourceType: models.SourceDocument, Limit: 3, MinConfidence: Threshold(0.6)}
	if caseID != "" {
		opts.Tags = []string{CaseTag(caseID)}
	}
	return s.view(ctx, query, opts)
}

// Section labels used by Comprehensive.
const (
	LabelLegislation   = "=== LEGISLAÇÃO ==="
	LabelJurisprudence = "=== JURISPRUDÊNCIA ==="
	LabelDocuments     = "=== DOCUMENTOS DO CASO ==="
)

// Comprehensive runs the legislation, jurisprudence and document views
// concurrently and joins the non-empty ones under labelled sections.
func (s *Service) Comprehensive(ctx context.Context, query, caseID string) ContextResult {
	var parts [3]ContextResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parts[0] = s.Legislation(gctx, query)
		return nil
	})
	g.Go(func() error {
		parts[1] = s.Jurisprudence(gctx, query)
		return nil
	})
	g.Go(func() error {
		parts[2] = s.Document(gctx, query, caseID)
		return nil
	})
	_ = g.Wait() // views never fail

	labels := [3]string{LabelLegislation, LabelJurisprudence, LabelDocuments}
	var sections []string
	var sources []SearchResult
	for i, p := range parts {
		if p.Empty() {
			continue
		}
		sections = append(sections, labels[i]+"\n"+p.Context)
		sources = append(sources, p.Sources...)
	}
	return ContextResult{Context: strings.Join(sections, "\n\n"), Sources: sources}
}
