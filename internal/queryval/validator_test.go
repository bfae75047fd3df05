package queryval

import (
	"strings"
	"testing"
)

func TestValidatePromQL(t *testing.T) {
	v := New()

	tests := []struct {
		name        string
		query       string
		shouldError bool
	}{
		{
			name:        "simple metric",
			query:       "up",
			shouldError: false,
		},
		{
			name:        "metric with labels",
			query:       `node_cpu_seconds_total{mode="idle"}`,
			shouldError: false,
		},
		{
			name:        "rate over selector",
			query:       `rate(node_cpu_seconds_total{mode="idle"}[5m])`,
			shouldError: false,
		},
		{
			name:        "aggregation with by clause",
			query:       `sum by (instance) (rate(http_requests_total[5m]))`,
			shouldError: false,
		},
		{
			name:        "empty query",
			query:       "",
			shouldError: true,
		},
		{
			name:        "sql select",
			query:       "SELECT * FROM metrics WHERE cpu > 90",
			shouldError: true,
		},
		{
			name:        "sql and between matchers",
			query:       `cpu_usage{instance="a"} AND job="node"`,
			shouldError: true,
		},
		{
			name:        "unbalanced parens",
			query:       "invalid(((",
			shouldError: true,
		},
		{
			name:        "aggregation without parens",
			query:       "sum",
			shouldError: true,
		},
		{
			name:        "invalid metric name",
			query:       "123metric",
			shouldError: true,
		},
		{
			name:        "quoted time comparison",
			query:       `cpu_usage >= "2024-01-01"`,
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidatePromQL(tt.query)
			if res.Valid == tt.shouldError {
				t.Errorf("ValidatePromQL(%q) valid=%v, want valid=%v (errors: %v)",
					tt.query, res.Valid, !tt.shouldError, res.Errors)
			}
		})
	}
}

func TestValidatePromQLRangeFunctionWarning(t *testing.T) {
	v := New()
	res := v.ValidatePromQL("rate(http_requests_total)")
	if !res.Valid {
		t.Fatalf("expected valid with warning, got errors: %v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a missing-duration warning")
	}
}

func TestValidateLogQL(t *testing.T) {
	v := New()

	tests := []struct {
		name        string
		query       string
		shouldError bool
	}{
		{
			name:        "selector with line filter",
			query:       `{job="varlogs"} |= "error"`,
			shouldError: false,
		},
		{
			name:        "bare selector",
			query:       `{namespace="default", pod=~"api.*"}`,
			shouldError: false,
		},
		{
			name:        "empty query",
			query:       "",
			shouldError: true,
		},
		{
			name:        "missing selector",
			query:       `level = "error"`,
			shouldError: true,
		},
		{
			name:        "sql shaped with and",
			query:       `job='myapp' AND level='error'`,
			shouldError: true,
		},
		{
			name:        "empty selector",
			query:       `{}`,
			shouldError: true,
		},
		{
			name:        "inline time bound",
			query:       `{job="app"} |= "2024-01-01T00:00"`,
			shouldError: true,
		},
		{
			name:        "unbalanced braces",
			query:       `{job="app" |= "error"`,
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateLogQL(tt.query)
			if res.Valid == tt.shouldError {
				t.Errorf("ValidateLogQL(%q) valid=%v, want valid=%v (errors: %v)",
					tt.query, res.Valid, !tt.shouldError, res.Errors)
			}
		})
	}
}

func TestValidateAndFixLogQLCorrection(t *testing.T) {
	v := New()

	// SQL-shaped query gets rewritten into a proper selector.
	fixed, res := v.ValidateAndFix(`job = 'myapp' AND level = 'error'`, TypeLogQL)
	if !res.Valid {
		t.Fatalf("expected corrected query to validate, got errors: %v", res.Errors)
	}
	if fixed != `{job="myapp", level="error"}` {
		t.Errorf("unexpected correction: %q", fixed)
	}
}

func TestValidateAndFixStripsTimeCondition(t *testing.T) {
	v := New()

	fixed, res := v.ValidateAndFix(`pod = 'my-pod' AND log_time >= '2024-01-01'`, TypeLogQL)
	if !res.Valid {
		t.Fatalf("expected corrected query to validate, got errors: %v", res.Errors)
	}
	if strings.Contains(fixed, "log_time") {
		t.Errorf("time condition survived correction: %q", fixed)
	}
	if fixed != `{pod="my-pod"}` {
		t.Errorf("unexpected correction: %q", fixed)
	}
}

func TestValidateAndFixKeepsOriginalWhenUnfixable(t *testing.T) {
	v := New()

	original := `log_time >= '2024-01-01'`
	fixed, res := v.ValidateAndFix(original, TypeLogQL)
	if res.Valid {
		t.Fatal("expected unfixable query to stay invalid")
	}
	if fixed != original {
		t.Errorf("unfixable query was rewritten: %q", fixed)
	}
}

func TestValidateAndFixIdempotent(t *testing.T) {
	v := New()

	queries := []string{
		`{job="varlogs"} |= "error"`,
		`rate(node_cpu_seconds_total[5m])`,
		"up",
	}
	types := []QueryType{TypeLogQL, TypePromQL, TypePromQL}

	for i, q := range queries {
		fixed, res := v.ValidateAndFix(q, types[i])
		if !res.Valid {
			t.Fatalf("expected %q to be valid: %v", q, res.Errors)
		}
		if fixed != q {
			t.Errorf("valid query was rewritten: %q -> %q", q, fixed)
		}

		// Running the fix twice must not change the result again.
		again, _ := v.ValidateAndFix(fixed, types[i])
		if again != fixed {
			t.Errorf("correction is not idempotent: %q -> %q", fixed, again)
		}
	}
}

func TestSanitizeQuery(t *testing.T) {
	v := New()

	sanitized, warnings := v.SanitizeQuery(`{{job="app"}} |= "error"`, TypeLogQL)
	if sanitized != `{job="app"} |= "error"` {
		t.Errorf("doubled braces not collapsed: %q", sanitized)
	}
	if len(warnings) == 0 {
		t.Error("expected a sanitize warning")
	}

	clean, warnings := v.SanitizeQuery("up", TypePromQL)
	if clean != "up" || len(warnings) != 0 {
		t.Errorf("clean query was altered: %q %v", clean, warnings)
	}
}

func TestContainsGrafanaVariables(t *testing.T) {
	v := New()

	withVars := []string{
		`rate(node_cpu_seconds_total{instance="$instance"}[5m])`,
		`{job="${job}"}`,
		`up{instance="[[instance]]"}`,
	}
	for _, q := range withVars {
		if !v.ContainsGrafanaVariables(q) {
			t.Errorf("expected variables detected in %q", q)
		}
	}

	without := []string{
		"up",
		`{job="varlogs"} |= "error"`,
	}
	for _, q := range without {
		if v.ContainsGrafanaVariables(q) {
			t.Errorf("false positive variable detection in %q", q)
		}
	}
}

func TestIsValidDatasourceUID(t *testing.T) {
	v := New()

	valid := []string{"PBFA97CFB590B2093", "loki-main", "abc_123"}
	for _, uid := range valid {
		if !v.IsValidDatasourceUID(uid) {
			t.Errorf("expected %q to be valid", uid)
		}
	}

	invalid := []string{"", "uid with spaces", "<uid>", "$datasource"}
	for _, uid := range invalid {
		if v.IsValidDatasourceUID(uid) {
			t.Errorf("expected %q to be invalid", uid)
		}
	}
}
