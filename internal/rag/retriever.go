// Package rag implements offline keyword retrieval over local PromQL and
// LogQL reference documents. Planning prompts are enriched with the best
// matching chunks so a small model does not have to remember query syntax.
package rag

import (
	"crypto/md5" // #nosec G401 -- content fingerprint, not a security boundary
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Document is one indexed chunk of a reference file.
type Document struct {
	ID      string
	Content string
	Source  string // file the chunk came from
}

// SearchResult pairs a document with its relevance score.
type SearchResult struct {
	Document Document
	Score    float64
}

// Retriever is the search interface the planner uses. An empty retriever
// (no docs found) is valid and returns nothing.
type Retriever interface {
	Search(query string, topK int) []SearchResult
	Context(query string, maxChars int) string
}

// BM25 parameters, standard values.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true,
	"under": true, "again": true, "then": true, "once": true,
	"here": true, "there": true, "when": true, "where": true,
	"why": true, "how": true, "all": true, "each": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"no": true, "nor": true, "not": true, "only": true, "own": true,
	"same": true, "so": true, "than": true, "too": true, "very": true,
	"just": true, "and": true, "but": true, "if": true, "or": true,
	"because": true, "until": true, "while": true, "this": true, "that": true,
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

// Tokenize lowercases, extracts identifier-like tokens and drops stop
// words.
func Tokenize(text string) []string {
	var tokens []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if stopWords[tok] || len(tok) < 2 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// DocsRetriever is a BM25 index over markdown chunks.
type DocsRetriever struct {
	docs      []Document
	docTokens [][]string
	docFreq   map[string]int
	avgLen    float64
	logger    *zap.Logger
}

// LoadDir indexes every .md and .txt file under dir. A missing directory
// is not an error: retrieval degrades to an empty index.
func LoadDir(dir string, logger *zap.Logger) *DocsRetriever {
	r := &DocsRetriever{docFreq: make(map[string]int), logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Query reference docs not available, retrieval disabled",
			zap.String("dir", dir),
			zap.Error(err),
		)
		return r
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".md" && ext != ".txt" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path) // #nosec G304 -- path from configured docs dir
		if err != nil {
			logger.Warn("Failed to read reference doc", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, chunk := range splitChunks(string(data)) {
			r.add(Document{
				ID:      fingerprint(chunk),
				Content: chunk,
				Source:  entry.Name(),
			})
		}
	}

	r.finalize()
	logger.Info("Query reference index built",
		zap.String("dir", dir),
		zap.Int("chunks", len(r.docs)),
	)
	return r
}

// NewFromDocuments builds an index from in-memory documents. Tests use it.
func NewFromDocuments(docs []Document, logger *zap.Logger) *DocsRetriever {
	r := &DocsRetriever{docFreq: make(map[string]int), logger: logger}
	for _, d := range docs {
		if d.ID == "" {
			d.ID = fingerprint(d.Content)
		}
		r.add(d)
	}
	r.finalize()
	return r
}

func (r *DocsRetriever) add(doc Document) {
	tokens := Tokenize(doc.Content)
	if len(tokens) == 0 {
		return
	}
	r.docs = append(r.docs, doc)
	r.docTokens = append(r.docTokens, tokens)

	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			r.docFreq[tok]++
		}
	}
}

func (r *DocsRetriever) finalize() {
	if len(r.docTokens) == 0 {
		return
	}
	total := 0
	for _, toks := range r.docTokens {
		total += len(toks)
	}
	r.avgLen = float64(total) / float64(len(r.docTokens))
}

// Len returns the number of indexed chunks.
func (r *DocsRetriever) Len() int { return len(r.docs) }

// Search ranks chunks against the query with BM25.
func (r *DocsRetriever) Search(query string, topK int) []SearchResult {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || len(r.docs) == 0 {
		return nil
	}

	n := float64(len(r.docs))
	var results []SearchResult
	for i, docToks := range r.docTokens {
		tf := make(map[string]int, len(docToks))
		for _, tok := range docToks {
			tf[tok]++
		}

		score := 0.0
		docLen := float64(len(docToks))
		for _, qt := range queryTokens {
			freq := float64(tf[qt])
			if freq == 0 {
				continue
			}
			df := float64(r.docFreq[qt])
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			score += idf * (freq * (bm25K1 + 1)) /
				(freq + bm25K1*(1-bm25B+bm25B*docLen/r.avgLen))
		}
		if score > 0 {
			results = append(results, SearchResult{Document: r.docs[i], Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Context concatenates the best matching chunks up to maxChars, formatted
// for direct prompt injection. Returns "" when nothing matches.
func (r *DocsRetriever) Context(query string, maxChars int) string {
	results := r.Search(query, 5)
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Query language reference\n\n")
	for _, res := range results {
		chunk := strings.TrimSpace(res.Document.Content)
		if b.Len()+len(chunk)+2 > maxChars {
			break
		}
		b.WriteString(chunk)
		b.WriteString("\n\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "## Query language reference" {
		return ""
	}
	return out
}

// splitChunks cuts a markdown file into heading-delimited sections,
// falling back to paragraph splits for long unstructured text.
func splitChunks(content string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if len(text) >= 20 {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") && current.Len() > 0 {
			flush()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return chunks
}

func fingerprint(content string) string {
	sum := md5.Sum([]byte(content)) // #nosec G401
	return hex.EncodeToString(sum[:])[:12]
}
