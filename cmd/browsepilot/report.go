package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/browsepilot/pkg/orchestrator"
	"github.com/entrhq/browsepilot/pkg/types"
)

const (
	statusSuccess        = "success"
	statusPartialSuccess = "partial_success"
	statusFailed         = "failed"
)

const (
	colorReset     = "\033[0m"
	colorCyan      = "\033[36m"
	colorSalmon    = "\033[38;5;217m"
	colorYellow    = "\033[33m"
	colorRed       = "\033[31m"
	colorGray      = "\033[90m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
	colorBoldWhite = "\033[1;37m"
)

// Reporter prints task progress to the terminal as events arrive.
type Reporter struct {
	mu      sync.Mutex
	writer  io.Writer
	quiet   bool
	noColor bool
}

// NewReporter creates a reporter writing to w.
func NewReporter(w io.Writer, quiet, noColor bool) *Reporter {
	return &Reporter{writer: w, quiet: quiet, noColor: noColor}
}

func (r *Reporter) color(c string) string {
	if r.noColor {
		return ""
	}
	return c
}

func (r *Reporter) printf(c, format string, args ...any) {
	fmt.Fprintf(r.writer, "%s%s%s\n", r.color(c), fmt.Sprintf(format, args...), r.color(colorReset))
}

// Header prints a prominent header message.
func (r *Reporter) Header(message string) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(r.writer)
	r.printf(colorBoldWhite, "%s", rule)
	r.printf(colorBoldWhite, "  %s", message)
	r.printf(colorBoldWhite, "%s", rule)
}

// Observe renders one task event. It matches orchestrator.Observer.
func (r *Reporter) Observe(e *types.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case types.EventTypeTaskFailed:
		r.printf(colorBoldRed, "✗ Error: %v", e.Error)
		return
	case types.EventTypeSessionClosed:
		if e.Error != nil {
			r.printf(colorYellow, "⚠ Warning: session %s not released: %v", e.SessionID, e.Error)
			return
		}
	}
	if r.quiet {
		return
	}

	switch e.Type {
	case types.EventTypeSessionCreated:
		r.printf(colorSalmon, "Session %s ready", e.SessionID)
		if e.LiveViewURL != "" {
			r.printf(colorGray, "  live view: %s", e.LiveViewURL)
		}
	case types.EventTypeStepPlanned:
		fmt.Fprintln(r.writer)
		r.printf(colorCyan, "[%d] %s", e.StepIndex+1, e.Step.Text)
		if e.Step.Reasoning != "" {
			r.printf(colorGray, "  → %s", e.Step.Reasoning)
		}
	case types.EventTypeStepCompleted:
		r.printf(colorBoldGreen, "  ✓ %s %s", e.Step.Tool, e.Step.Instruction)
	case types.EventTypeStepFailed:
		msg := ""
		if e.Step.Error != nil {
			msg = e.Step.Error.Message
		} else if e.Error != nil {
			msg = e.Error.Error()
		}
		r.printf(colorBoldRed, "  ✗ %s failed: %s", e.Step.Tool, msg)
	case types.EventTypeExtractionCaptured:
		r.printf(colorSalmon, "  Extracted %d field(s)", len(e.Extraction.Data))
	case types.EventTypeSessionPreserved:
		r.printf(colorSalmon, "Session %s kept open", e.SessionID)
	case types.EventTypeSessionClosed:
		r.printf(colorGray, "Session %s closed (%v)", e.SessionID, e.Metadata["reason"])
	}
}

// Summary prints the final report for a run.
func (r *Reporter) Summary(goal string, res *orchestrator.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule := strings.Repeat("=", 70)
	fmt.Fprintln(r.writer)
	r.printf(colorBoldWhite, "%s", rule)
	r.printf(colorBoldWhite, "  TASK SUMMARY")
	r.printf(colorBoldWhite, "%s", rule)

	fmt.Fprint(r.writer, "  Status: ")
	switch summaryStatus(res) {
	case statusSuccess:
		r.printf(colorBoldGreen, "✓ SUCCESS")
	case statusPartialSuccess:
		r.printf(colorYellow, "⚠ PARTIAL SUCCESS")
	default:
		r.printf(colorBoldRed, "✗ FAILED")
	}
	fmt.Fprintf(r.writer, "  Goal: %s\n", goal)
	if res == nil {
		r.printf(colorBoldWhite, "%s", rule)
		return
	}
	fmt.Fprintf(r.writer, "  Duration: %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(r.writer, "  Steps: %d\n", len(res.Steps))
	if res.LiveViewURL != "" {
		fmt.Fprintf(r.writer, "  Live view: %s\n", res.LiveViewURL)
	}

	if res.Extraction != nil && len(res.Extraction.Data) > 0 {
		fmt.Fprintf(r.writer, "\n  Extracted:\n")
		keys := make([]string, 0, len(res.Extraction.Data))
		for k := range res.Extraction.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(r.writer, "    %s: %s\n", k, truncate(fmt.Sprint(res.Extraction.Data[k]), 200))
		}
	}

	if res.Error != "" {
		fmt.Fprintln(r.writer)
		r.printf(colorBoldRed, "  Error Details:")
		r.printf(colorRed, "    %s", res.Error)
	}
	r.printf(colorBoldWhite, "%s", rule)
	fmt.Fprintln(r.writer)
}

func summaryStatus(res *orchestrator.Result) string {
	switch {
	case res == nil || res.Error != "":
		return statusFailed
	case res.Success:
		return statusSuccess
	default:
		return statusPartialSuccess
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ExecutionSummary is the JSON summary written after a run.
type ExecutionSummary struct {
	Status    string               `json:"status"`
	Goal      string               `json:"goal"`
	StartTime time.Time            `json:"startTime"`
	EndTime   time.Time            `json:"endTime"`
	Result    *orchestrator.Result `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// newSummary builds the summary for a finished run. err takes precedence
// over the result's own error text.
func newSummary(goal string, started time.Time, res *orchestrator.Result, err error) *ExecutionSummary {
	s := &ExecutionSummary{
		Status:    summaryStatus(res),
		Goal:      goal,
		StartTime: started,
		EndTime:   time.Now(),
		Result:    res,
	}
	if err != nil {
		s.Status = statusFailed
		s.Error = err.Error()
	}
	return s
}

func writeSummary(path string, s *ExecutionSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
