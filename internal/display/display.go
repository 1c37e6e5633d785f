// Package display formats dispatch results for the terminal.
package display

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nhle/mailpost/internal/dispatch"
	"github.com/nhle/mailpost/internal/model"
	"github.com/nhle/mailpost/internal/theme"
)

// maxBody bounds how much of a response body is shown on one line.
const maxBody = 120

// ResultLine renders one dispatch result: the URL, then the response body
// or the failure.
func ResultLine(r dispatch.Result) string {
	where := theme.MutedStyle.Render(fmt.Sprintf("%s/%d", r.Mailbox, r.UID))
	url := theme.URLStyle.Render(r.URL)
	if r.OK() {
		return fmt.Sprintf("%s %s %s %s", theme.SuccessStyle.Render("✓"), url, where, Truncate(oneLine(r.Body), maxBody))
	}
	return fmt.Sprintf("%s %s %s %s", theme.FailureStyle.Render("✗"), url, where,
		theme.FailureStyle.Render(Truncate(oneLine(r.Err.Error()), maxBody)))
}

// ResultJSON is the --json form of a dispatch result.
type ResultJSON struct {
	URL        string `json:"url"`
	Rule       string `json:"rule"`
	Mailbox    string `json:"mailbox"`
	UID        uint32 `json:"uid"`
	MessageID  string `json:"message_id,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// ResultJSONLine renders a result as a single JSON line.
func ResultJSONLine(r dispatch.Result) (string, error) {
	out := ResultJSON{
		URL:        r.URL,
		Rule:       r.Rule,
		Mailbox:    r.Mailbox,
		UID:        uint32(r.UID),
		MessageID:  r.MessageID,
		StatusCode: r.StatusCode,
		Body:       r.Body,
		Digest:     r.Digest,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// HistoryLine renders one ledger entry.
func HistoryLine(rec model.DispatchRecord, now time.Time) string {
	mark := theme.OutcomeStyle(rec.Succeeded()).Render("●")
	code := theme.StatusCodeStyle(rec.StatusCode).Render(fmt.Sprintf("%3d", rec.StatusCode))
	line := fmt.Sprintf("%s %s %-8s %s %s %s",
		mark,
		code,
		TimeAgo(rec.DispatchedAt, now),
		theme.URLStyle.Render(rec.URL),
		theme.MutedStyle.Render(fmt.Sprintf("%s/%d", rec.Mailbox, rec.UID)),
		rec.Rule,
	)
	if rec.Error != "" {
		line += " " + theme.FailureStyle.Render(Truncate(oneLine(rec.Error), maxBody))
	}
	return line
}

// RuleLines describes the configured rules, one block per rule.
func RuleLines(rules []model.Rule, baseURL string) []string {
	var lines []string
	for i, r := range rules {
		lines = append(lines, theme.HeaderStyle.Render(fmt.Sprintf("rule %d: %s", i+1, r.Name)))
		lines = append(lines, fmt.Sprintf("  url:        %s", dispatch.JoinURL(baseURL, r.URL)))
		lines = append(lines, fmt.Sprintf("  mailbox:    %s", r.Mailbox))
		lines = append(lines, fmt.Sprintf("  query:      %s", strings.Join(r.Query, " ")))
		lines = append(lines, fmt.Sprintf("  syntax:     %s", r.Syntax))
		for _, key := range slices.Sorted(maps.Keys(r.Conditions)) {
			lines = append(lines, fmt.Sprintf("  when %s ~ %v", key, r.Conditions[key]))
		}
		if r.Raw {
			lines = append(lines, "  payload:    raw_message")
		} else {
			lines = append(lines, fmt.Sprintf("  payload:    %s", strings.Join(r.MsgParams, ", ")))
		}
		if len(r.Actions) > 0 {
			actions := make([]string, len(r.Actions))
			for i, a := range r.Actions {
				actions[i] = a.String()
			}
			lines = append(lines, fmt.Sprintf("  actions:    %s", strings.Join(actions, ", ")))
		}
	}
	return lines
}

// TimeAgo formats t relative to now.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
