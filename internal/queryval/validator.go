// Package queryval validates LLM-generated PromQL and LogQL queries
// before they are sent to a backend. Small models frequently emit
// SQL-shaped queries; the validator rejects those outright and attempts a
// mechanical rewrite for the common LogQL mistakes.
package queryval

import (
	"regexp"
	"strings"
)

// QueryType selects the grammar to validate against.
type QueryType string

const (
	TypePromQL QueryType = "promql"
	TypeLogQL  QueryType = "logql"
)

// Result is the outcome of validating one query.
type Result struct {
	Valid     bool
	Original  string
	Corrected string // set when a rewrite was produced, empty otherwise
	Errors    []string
	Warnings  []string
}

// sqlPatterns are constructs that belong to SQL, not to PromQL or LogQL.
// Any hit is an error on its own.
var sqlPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)\bAND\b`), "AND"},
	{regexp.MustCompile(`(?i)\bOR\b`), "OR"},
	{regexp.MustCompile(`(?i)\bSELECT\b`), "SELECT"},
	{regexp.MustCompile(`(?i)\bFROM\b`), "FROM"},
	{regexp.MustCompile(`(?i)\bWHERE\b`), "WHERE"},
	{regexp.MustCompile(`>=\s*['"]`), ">= with quotes (time comparison)"},
	{regexp.MustCompile(`<=\s*['"]`), "<= with quotes (time comparison)"},
}

var (
	promqlMetricPattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*`)
	logqlLabelSelector  = regexp.MustCompile(`^\s*\{[^}]*\}`)
	labelBlockPattern   = regexp.MustCompile(`\{([^}]*)\}`)
	labelMatcherPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*\s*(!?=~?)\s*["'][^"']*["']$`)

	logqlTimePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)log_time\s*[<>=]`),
		regexp.MustCompile(`(?i)timestamp\s*[<>=]`),
		regexp.MustCompile(`(?i)@timestamp\s*[<>=]`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`),
	}

	singleQuoteMatcher = regexp.MustCompile(`(\w+)\s*=\s*'([^']*)'`)
	sqlAndSeparator    = regexp.MustCompile(`(?i)\s+AND\s+`)
	timeCondition      = regexp.MustCompile(`(?i),?\s*\w*time\w*\s*[<>=]+\s*['"][^'"]*['"]`)

	grafanaVariable  = regexp.MustCompile(`\$\{?[a-zA-Z_][a-zA-Z0-9_]*\}?|\[\[[^\]]+\]\]`)
	datasourceUIDRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,40}$`)
	leadingSelectors = regexp.MustCompile(`^\s*\{[^}]*\}`)
)

// promqlAggregations are the PromQL aggregation operators.
var promqlAggregations = map[string]bool{
	"sum": true, "min": true, "max": true, "avg": true, "count": true,
	"stddev": true, "stdvar": true, "topk": true, "bottomk": true,
	"count_values": true, "quantile": true,
}

// promqlRangeFunctions are functions that take a range vector.
var promqlRangeFunctions = map[string]bool{
	"rate": true, "irate": true, "increase": true, "delta": true,
	"idelta": true, "deriv": true, "predict_linear": true, "changes": true,
	"resets": true, "avg_over_time": true, "min_over_time": true,
	"max_over_time": true, "sum_over_time": true, "count_over_time": true,
	"stddev_over_time": true, "stdvar_over_time": true, "last_over_time": true,
	"present_over_time": true, "quantile_over_time": true, "absent_over_time": true,
}

// Validator checks query syntax for the two supported grammars.
type Validator struct{}

// New creates a Validator.
func New() *Validator { return &Validator{} }

// Validate dispatches on query type.
func (v *Validator) Validate(query string, qt QueryType) Result {
	if qt == TypePromQL {
		return v.ValidatePromQL(query)
	}
	return v.ValidateLogQL(query)
}

// ValidatePromQL checks a PromQL expression.
func (v *Validator) ValidatePromQL(query string) Result {
	res := Result{Original: query}
	corrected := strings.TrimSpace(query)

	if corrected == "" {
		res.Errors = append(res.Errors, "query is empty")
		return res
	}

	for _, p := range sqlPatterns {
		if p.re.MatchString(corrected) {
			res.Errors = append(res.Errors, "SQL construct '"+p.name+"' detected; this is not PromQL")
		}
	}

	// The expression must open with an aggregation, a range function or a
	// metric name.
	firstToken := corrected
	if i := strings.Index(firstToken, "("); i >= 0 {
		firstToken = firstToken[:i]
	}
	if i := strings.Index(firstToken, "{"); i >= 0 {
		firstToken = firstToken[:i]
	}
	firstToken = strings.TrimSpace(firstToken)

	switch {
	case promqlAggregations[strings.ToLower(firstToken)]:
		if !strings.Contains(corrected, "(") {
			res.Errors = append(res.Errors, "aggregation '"+firstToken+"' requires parentheses")
		}
	case promqlRangeFunctions[strings.ToLower(firstToken)]:
		if !strings.Contains(corrected, "[") {
			res.Warnings = append(res.Warnings, "range function '"+firstToken+"' usually requires a [duration]")
		}
	default:
		if !promqlMetricPattern.MatchString(firstToken) {
			res.Errors = append(res.Errors, "invalid metric name: '"+firstToken+"'")
		}
	}

	if strings.Contains(corrected, "{") {
		if m := labelBlockPattern.FindStringSubmatch(corrected); m != nil {
			validateLabelMatchers(m[1], &res)
		}
	}

	if strings.Count(corrected, "(") != strings.Count(corrected, ")") {
		res.Errors = append(res.Errors, "unbalanced parentheses")
	}
	if strings.Count(corrected, "{") != strings.Count(corrected, "}") {
		res.Errors = append(res.Errors, "unbalanced curly braces")
	}
	if strings.Count(corrected, "[") != strings.Count(corrected, "]") {
		res.Errors = append(res.Errors, "unbalanced square brackets")
	}

	res.Valid = len(res.Errors) == 0
	if corrected != query {
		res.Corrected = corrected
	}
	return res
}

// ValidateLogQL checks a LogQL expression. A missing leading label
// selector triggers an automatic rewrite attempt; the rewrite is only
// trusted once it passes validation itself (see ValidateAndFix).
func (v *Validator) ValidateLogQL(query string) Result {
	res := Result{Original: query}
	trimmed := strings.TrimSpace(query)
	corrected := trimmed

	if corrected == "" {
		res.Errors = append(res.Errors, "query is empty")
		return res
	}

	for _, p := range sqlPatterns {
		if p.re.MatchString(corrected) {
			res.Errors = append(res.Errors, "SQL construct '"+p.name+"' detected; LogQL uses {label=\"value\"} selectors")
		}
	}

	if !logqlLabelSelector.MatchString(corrected) {
		res.Errors = append(res.Errors, `LogQL must start with a label selector {...}, e.g. {job="varlogs"} |= "error"`)
		corrected = attemptLogQLCorrection(corrected)
		if corrected != trimmed {
			res.Warnings = append(res.Warnings, "attempted automatic correction: "+corrected)
		}
	}

	if m := labelBlockPattern.FindStringSubmatch(corrected); m != nil {
		if strings.TrimSpace(m[1]) == "" {
			res.Errors = append(res.Errors, "label selector is empty, at least one label is required")
		} else {
			validateLabelMatchers(m[1], &res)
		}
	}

	for _, p := range logqlTimePatterns {
		if p.MatchString(corrected) {
			res.Errors = append(res.Errors, "time bounds belong in the start/end API parameters, not inside the LogQL query")
			break
		}
	}

	if strings.Count(corrected, "{") != strings.Count(corrected, "}") {
		res.Errors = append(res.Errors, "unbalanced curly braces")
	}

	if strings.Contains(corrected, "|") {
		validateLogQLPipeline(corrected, &res)
	}

	res.Valid = len(res.Errors) == 0
	if corrected != trimmed {
		res.Corrected = corrected
	}
	return res
}

// ValidateAndFix validates a query and, when invalid but a rewrite was
// produced, re-validates the rewrite. The rewrite is returned only when it
// passes on its own.
func (v *Validator) ValidateAndFix(query string, qt QueryType) (string, Result) {
	result := v.Validate(query, qt)
	if result.Valid {
		return query, result
	}

	if result.Corrected != "" {
		revalidated := v.Validate(result.Corrected, qt)
		if revalidated.Valid {
			return result.Corrected, revalidated
		}
	}

	return query, result
}

func validateLabelMatchers(labelContent string, res *Result) {
	for _, matcher := range strings.Split(labelContent, ",") {
		matcher = strings.TrimSpace(matcher)
		if matcher == "" {
			continue
		}
		if !labelMatcherPattern.MatchString(matcher) {
			if strings.Contains(matcher, "='") || strings.Contains(matcher, "= '") {
				res.Warnings = append(res.Warnings, "double quotes are preferred for label values: "+matcher)
			} else {
				res.Errors = append(res.Errors, "invalid label matcher: "+matcher)
			}
		}
	}
}

func validateLogQLPipeline(query string, res *Result) {
	afterSelector := strings.TrimSpace(leadingSelectors.ReplaceAllString(query, ""))
	if afterSelector == "" {
		return
	}

	stages := strings.Split(afterSelector, "|")
	for i, stage := range stages {
		stage = strings.TrimSpace(stage)
		if stage == "" {
			continue
		}
		// Only the first stage is constrained: it must be a line filter.
		if i == 0 && !strings.HasPrefix(stage, "=") && !strings.HasPrefix(stage, "~") && !strings.HasPrefix(stage, "!") {
			res.Warnings = append(res.Warnings, "unknown pipeline stage: |"+stage)
		}
	}
}

// attemptLogQLCorrection mechanically rewrites an SQL-shaped query towards
// LogQL: double-quote label values, turn AND into a comma, strip inline
// time conditions and wrap the rest in a selector. Returns the input
// unchanged when the rewrite would produce an empty selector.
func attemptLogQLCorrection(query string) string {
	corrected := query

	corrected = singleQuoteMatcher.ReplaceAllString(corrected, `$1="$2"`)
	corrected = sqlAndSeparator.ReplaceAllString(corrected, ", ")
	corrected = timeCondition.ReplaceAllString(corrected, "")

	if !strings.HasPrefix(strings.TrimSpace(corrected), "{") {
		corrected = "{" + strings.TrimSpace(corrected) + "}"
	}

	if strings.TrimSpace(corrected) == "{}" {
		return query
	}
	return corrected
}

// SanitizeQuery normalizes template escaping artifacts before validation.
// LLMs occasionally emit doubled braces from prompt templates.
func (v *Validator) SanitizeQuery(query string, _ QueryType) (string, []string) {
	var warnings []string
	sanitized := query

	if strings.Contains(sanitized, "{{") || strings.Contains(sanitized, "}}") {
		sanitized = strings.ReplaceAll(sanitized, "{{", "{")
		sanitized = strings.ReplaceAll(sanitized, "}}", "}")
		warnings = append(warnings, "collapsed doubled braces")
	}

	if v.ContainsGrafanaVariables(sanitized) {
		warnings = append(warnings, "query contains Grafana template variables")
	}

	return sanitized, warnings
}

// ContainsGrafanaVariables reports whether the query still carries Grafana
// dashboard template variables ($var, ${var}, [[var]]). Such queries
// cannot execute as-is and are skipped.
func (v *Validator) ContainsGrafanaVariables(query string) bool {
	return grafanaVariable.MatchString(query)
}

// IsValidDatasourceUID checks that a UID looks like something Grafana
// could have issued rather than a hallucinated placeholder.
func (v *Validator) IsValidDatasourceUID(uid string) bool {
	return datasourceUIDRe.MatchString(uid)
}
