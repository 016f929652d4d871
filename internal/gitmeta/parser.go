// Package gitmeta extracts a structured CommitMetadata record from the
// trailing ---METADATA--- block of a commit message.
package gitmeta

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/coderunhq/coderun/internal/model"
)

const separator = "---METADATA---"

// Parse locates the first occurrence of the ---METADATA--- separator and
// parses each following "key: value" line into a CommitMetadata. It
// returns (nil, false) if the separator is absent, or if any of
// workflow_id, task_id, terminal_id, or status is missing/empty once
// parsed.
func Parse(commitMessage string) (*model.CommitMetadata, bool) {
	idx := strings.Index(commitMessage, separator)
	if idx < 0 {
		return nil, false
	}

	body := commitMessage[idx+len(separator):]
	fields := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	meta := &model.CommitMetadata{
		WorkflowID:       fields["workflow_id"],
		TaskID:           fields["task_id"],
		TerminalID:       fields["terminal_id"],
		CLI:              fields["cli"],
		Model:            fields["model"],
		Status:           model.CommitMetadataStatus(fields["status"]),
		Severity:         fields["severity"],
		ReviewedTerminal: fields["reviewed_terminal"],
		NextAction:       fields["next_action"],
	}

	if meta.WorkflowID == "" || meta.TaskID == "" || meta.TerminalID == "" || meta.Status == "" {
		return nil, false
	}

	if order, err := strconv.Atoi(fields["terminal_order"]); err == nil {
		meta.TerminalOrder = order
	}
	if meta.NextAction == "" {
		meta.NextAction = "continue"
	}

	if raw, ok := fields["issues"]; ok && raw != "" {
		var issues []model.Issue
		if err := json.Unmarshal([]byte(raw), &issues); err == nil {
			meta.Issues = issues
		}
	}

	return meta, true
}
