package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	boardEventName   = "board.request.metrics"
	boardEventDomain = "kanban"

	attrRoute       = "http.route"
	attrStatusCode  = "http.status_code"
	attrTotalMillis = "kanban.board.total_ms"
	attrAuthMillis  = "kanban.board.auth_ms"
	attrFetchMillis = "kanban.board.fetch_ms"
	attrEncodeMs    = "kanban.board.encode_ms"
	attrColumns     = "kanban.board.columns"
	attrTasks       = "kanban.board.tasks"
	attrRevision    = "kanban.board.revision"
	attrErrorStage  = "kanban.board.error_stage"
)

var recordAPI = sonic.Config{UseNumber: true}.Froze()

type logRecord struct {
	EventName    string         `json:"event.name"`
	EventDomain  string         `json:"event.domain"`
	SeverityText string         `json:"severity_text"`
	Attributes   map[string]any `json:"attributes"`
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(v float64) {
	n.Count++
	n.Sum += v
	n.Min = min(n.Min, v)
	n.Max = max(n.Max, v)
}

type numericSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

func (n *numericStats) summary() numericSummary {
	if n == nil || n.Count == 0 {
		return numericSummary{}
	}
	return numericSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

type summaryOutput struct {
	EventName      string                    `json:"event_name"`
	EventDomain    string                    `json:"event_domain"`
	TotalEvents    int                       `json:"total_events"`
	SeverityCounts map[string]int            `json:"severity_counts"`
	StatusCounts   map[string]int            `json:"status_counts"`
	RouteCounts    map[string]int            `json:"route_counts"`
	DurationMs     map[string]numericSummary `json:"duration_ms"`
	Columns        numericSummary            `json:"columns"`
	Tasks          numericSummary            `json:"tasks"`
	MaxRevision    int64                     `json:"max_revision"`
	ErrorStages    map[string]int            `json:"error_stages,omitempty"`
	SkippedLines   int                       `json:"skipped_lines"`
}

// collector aggregates board read entries from a JSON log stream.
type collector struct {
	eventName   string
	eventDomain string

	count       int
	severities  map[string]int
	statuses    map[int]int
	routes      map[string]int
	durations   map[string]*numericStats
	columns     *numericStats
	tasks       *numericStats
	maxRevision int64
	errorStages map[string]int
	skipped     int
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		severities:  make(map[string]int),
		statuses:    make(map[int]int),
		routes:      make(map[string]int),
		durations:   make(map[string]*numericStats),
		columns:     newNumericStats(),
		tasks:       newNumericStats(),
		errorStages: make(map[string]int),
	}
}

// ingest parses one log line. Lines prefixed by a container name and a
// pipe, as docker compose prints them, are accepted.
func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}
	var rec logRecord
	if err := recordAPI.UnmarshalFromString(trimmed, &rec); err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName {
		return
	}
	if c.eventDomain != "" && rec.EventDomain != c.eventDomain {
		return
	}
	c.add(rec)
}

func (c *collector) add(rec logRecord) {
	c.count++
	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.severities[severity]++

	attrs := rec.Attributes
	if status, ok := asInt(attrs[attrStatusCode]); ok {
		c.statuses[status]++
	}
	if route, ok := attrs[attrRoute].(string); ok && route != "" {
		c.routes[route]++
	}
	for key, name := range map[string]string{
		attrTotalMillis: "total",
		attrAuthMillis:  "auth",
		attrFetchMillis: "fetch",
		attrEncodeMs:    "encode",
	} {
		if v, ok := asFloat(attrs[key]); ok {
			c.duration(name).add(v)
		}
	}
	if v, ok := asFloat(attrs[attrColumns]); ok {
		c.columns.add(v)
	}
	if v, ok := asFloat(attrs[attrTasks]); ok {
		c.tasks.add(v)
	}
	if v, ok := asInt(attrs[attrRevision]); ok {
		c.maxRevision = max(c.maxRevision, int64(v))
	}
	if stage, ok := attrs[attrErrorStage].(string); ok && stage != "" {
		c.errorStages[stage]++
	}
}

func (c *collector) duration(name string) *numericStats {
	s, ok := c.durations[name]
	if !ok {
		s = newNumericStats()
		c.durations[name] = s
	}
	return s
}

func (c *collector) summary() summaryOutput {
	out := summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.count,
		SeverityCounts: c.severities,
		StatusCounts:   make(map[string]int, len(c.statuses)),
		RouteCounts:    c.routes,
		DurationMs:     make(map[string]numericSummary, len(c.durations)),
		Columns:        c.columns.summary(),
		Tasks:          c.tasks.summary(),
		MaxRevision:    c.maxRevision,
		SkippedLines:   c.skipped,
	}
	for status, n := range c.statuses {
		out.StatusCounts[strconv.Itoa(status)] = n
	}
	for name, s := range c.durations {
		out.DurationMs[name] = s.summary()
	}
	if len(c.errorStages) > 0 {
		out.ErrorStages = c.errorStages
	}
	return out
}

func (s summaryOutput) ShortString() string {
	total := s.DurationMs["total"]
	return strings.Join([]string{
		"event=" + s.EventName,
		"total=" + strconv.Itoa(s.TotalEvents),
		"info=" + strconv.Itoa(s.SeverityCounts["INFO"]),
		"warn=" + strconv.Itoa(s.SeverityCounts["WARN"]),
		"error=" + strconv.Itoa(s.SeverityCounts["ERROR"]),
		"avg_total_ms=" + formatFloat(total.Avg),
		"max_total_ms=" + formatFloat(total.Max),
	}, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	default:
		return 0, false
	}
}
