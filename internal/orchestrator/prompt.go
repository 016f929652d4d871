package orchestrator

import (
	"fmt"
	"strings"

	"github.com/coderunhq/coderun/internal/model"
)

const maxObjectiveLen = 200

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BuildTaskInstruction renders the pipe-separated task instruction
// string a dispatched terminal receives.
func BuildTaskInstruction(task *model.Task, terminal *model.Terminal, totalTerminals int) string {
	clauses := []string{
		fmt.Sprintf("Start task: %s (%s)", task.Name, task.ID),
	}

	if task.Description != "" {
		if totalTerminals > 1 {
			clauses = append(clauses, "Task objective: "+truncate(task.Description, maxObjectiveLen))
		} else {
			clauses = append(clauses, "Task description: "+task.Description)
		}
	}

	if terminal.Role != "" {
		clauses = append(clauses, "Your role: "+terminal.Role)
	}
	if terminal.RoleDescription != "" {
		clauses = append(clauses, "Role description: "+strings.TrimSpace(terminal.RoleDescription))
	}

	if totalTerminals > 1 {
		clauses = append(clauses,
			fmt.Sprintf("Execution context: terminal %d/%d.", terminal.OrderIndex+1, totalTerminals),
			"Focus only on your scoped role and leave the rest to the other terminals.",
			"When finished, leave concise handoff notes for the next terminal.",
		)
	}

	clauses = append(clauses,
		"Completion contract: when your scoped work is done, you MUST create a git commit before stopping.",
		metadataTemplate(task, terminal),
		"If there are no file changes, create an empty commit with --allow-empty so the orchestrator can observe completion.",
		"Please start implementing immediately.",
	)

	return strings.Join(clauses, " | ")
}

func metadataTemplate(task *model.Task, terminal *model.Terminal) string {
	return fmt.Sprintf(
		"---METADATA---\nworkflow_id: %s\ntask_id: %s\nterminal_id: %s\nterminal_order: %d\nstatus: completed\nnext_action: continue",
		task.WorkflowID, task.ID, terminal.ID, terminal.OrderIndex,
	)
}

// RenderSlashCommand substitutes {{name}}, {{description}}, and
// {{target_branch}} placeholders (plus any custom params) into a preset's
// prompt_template.
func RenderSlashCommand(template string, wf *model.Workflow, params map[string]string) string {
	out := template
	out = strings.ReplaceAll(out, "{{name}}", wf.Name)
	out = strings.ReplaceAll(out, "{{description}}", wf.Description)
	out = strings.ReplaceAll(out, "{{target_branch}}", wf.TargetBranch)
	for k, v := range params {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
