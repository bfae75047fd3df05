package rag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

var sampleDocs = []Document{
	{Content: "# CPU usage\nUse rate(node_cpu_seconds_total{mode=\"idle\"}[5m]) to measure CPU usage per instance."},
	{Content: "# Memory\nnode_memory_MemAvailable_bytes reports available memory. Combine with MemTotal for a ratio."},
	{Content: "# LogQL error search\nUse {job=\"varlogs\"} |= \"error\" to filter error lines from a log stream."},
}

func TestSearchRanksRelevantChunksFirst(t *testing.T) {
	r := NewFromDocuments(sampleDocs, zap.NewNop())

	results := r.Search("how do I measure cpu usage", 2)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if !strings.Contains(results[0].Document.Content, "node_cpu_seconds_total") {
		t.Errorf("expected CPU chunk first, got %q", results[0].Document.Content)
	}
}

func TestSearchNoMatch(t *testing.T) {
	r := NewFromDocuments(sampleDocs, zap.NewNop())
	if results := r.Search("zzzunknownzzz", 3); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestContextRespectsBudget(t *testing.T) {
	r := NewFromDocuments(sampleDocs, zap.NewNop())

	ctx := r.Context("cpu memory error logs", 10000)
	if ctx == "" {
		t.Fatal("expected non-empty context")
	}
	if !strings.HasPrefix(ctx, "## Query language reference") {
		t.Errorf("missing header: %q", ctx)
	}

	small := r.Context("cpu memory error logs", 60)
	if len(small) > 200 {
		t.Errorf("context exceeded budget: %d chars", len(small))
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	r := LoadDir("/nonexistent/docs", zap.NewNop())
	if r.Len() != 0 {
		t.Errorf("expected empty index, got %d chunks", r.Len())
	}
	if ctx := r.Context("cpu", 1000); ctx != "" {
		t.Errorf("expected empty context from empty index, got %q", ctx)
	}
}

func TestLoadDirIndexesMarkdown(t *testing.T) {
	dir := t.TempDir()
	content := "# PromQL basics\nrate() computes the per-second rate over a range vector.\n\n# Aggregations\nsum by (instance) groups series per instance.\n"
	if err := os.WriteFile(filepath.Join(dir, "promql.md"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// Non-doc files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := LoadDir(dir, zap.NewNop())
	if r.Len() != 2 {
		t.Fatalf("expected 2 chunks, got %d", r.Len())
	}

	results := r.Search("per-second rate", 1)
	if len(results) == 0 || !strings.Contains(results[0].Document.Content, "rate()") {
		t.Errorf("unexpected search results: %+v", results)
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The rate of http_requests_total in the last 5m")
	joined := strings.Join(tokens, " ")
	if strings.Contains(joined, "the") || strings.Contains(joined, " of ") {
		t.Errorf("stop words survived: %v", tokens)
	}
	found := false
	for _, tok := range tokens {
		if tok == "http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Errorf("identifier token lost: %v", tokens)
	}
}
