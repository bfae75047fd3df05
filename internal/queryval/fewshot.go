package queryval

// Few-shot example blocks injected into regeneration prompts when every
// query in a plan failed validation.

const PromQLFewshotExamples = "## PromQL query examples\n\n" +
	"### CPU usage\n" +
	"- overall: `100 - (avg by (instance) (rate(node_cpu_seconds_total{mode=\"idle\"}[5m])) * 100)`\n" +
	"- per job: `rate(node_cpu_seconds_total{job=\"node-exporter\", mode!=\"idle\"}[5m])`\n\n" +
	"### Memory usage\n" +
	"- in use: `node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes`\n" +
	"- ratio: `(1 - node_memory_MemAvailable_bytes/node_memory_MemTotal_bytes) * 100`\n\n" +
	"### Disk usage\n" +
	"- used: `node_filesystem_size_bytes - node_filesystem_avail_bytes`\n" +
	"- ratio: `(1 - node_filesystem_avail_bytes/node_filesystem_size_bytes) * 100`\n\n" +
	"### HTTP requests\n" +
	"- request rate: `rate(http_requests_total[5m])`\n" +
	"- error rate: `rate(http_requests_total{status=~\"5..\"}[5m])`\n" +
	"- latency: `histogram_quantile(0.99, rate(http_request_duration_seconds_bucket[5m]))`\n\n" +
	"### Container metrics\n" +
	"- CPU: `rate(container_cpu_usage_seconds_total{container!=\"\"}[5m])`\n" +
	"- memory: `container_memory_usage_bytes{container!=\"\"}`\n\n" +
	"### Target state\n" +
	"- up state: `up{job=\"target-job\"}`\n" +
	"- target count: `count(up)`\n"

const LogQLFewshotExamples = "## LogQL query examples\n\n" +
	"### Basic log search\n" +
	"- error logs: `{job=\"varlogs\"} |= \"error\"`\n" +
	"- warning and above: `{job=\"varlogs\"} |~ \"error|warn|fatal\"`\n" +
	"- specific file: `{job=\"varlogs\", filename=\"/var/log/syslog\"}`\n\n" +
	"### Kubernetes logs\n" +
	"- by namespace: `{namespace=\"default\"}`\n" +
	"- by pod: `{namespace=\"monitoring\", pod=~\"prometheus.*\"}`\n" +
	"- by container: `{namespace=\"default\", container=\"app\"} |= \"error\"`\n\n" +
	"### Log pipelines\n" +
	"- JSON parsing: `{job=\"app\"} | json`\n" +
	"- field extraction: `{job=\"app\"} | json | level=\"error\"`\n" +
	"- regex extraction: `{job=\"app\"} | regexp \"user=(?P<user>\\\\w+)\"`\n\n" +
	"### Log aggregation\n" +
	"- error count: `count_over_time({job=\"app\"} |= \"error\" [5m])`\n" +
	"- log rate: `rate({job=\"app\"}[1m])`\n" +
	"- grouped count: `sum by (level) (count_over_time({job=\"app\"} | json [5m]))`\n\n" +
	"### Exclusion\n" +
	"- exclude a string: `{job=\"varlogs\"} != \"healthcheck\"`\n" +
	"- exclude several: `{job=\"varlogs\"} != \"healthcheck\" != \"metrics\"`\n\n" +
	"### Important: LogQL is not SQL\n" +
	"- WRONG: `SELECT * FROM logs WHERE level = 'error'`\n" +
	"- RIGHT: `{job=\"varlogs\"} |= \"error\"`\n" +
	"- WRONG: `pod_name = 'my-pod' AND timestamp >= '2024-01-01'`\n" +
	"- RIGHT: `{pod=\"my-pod\"}` (time bounds go in the API parameters)\n"

// FewshotExamples returns the example block for one query type.
func FewshotExamples(qt QueryType) string {
	if qt == TypePromQL {
		return PromQLFewshotExamples
	}
	return LogQLFewshotExamples
}

// AllFewshotExamples returns both example blocks.
func AllFewshotExamples() string {
	return PromQLFewshotExamples + "\n" + LogQLFewshotExamples
}
