package orchestrator

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// InstructionType is the tagged-union discriminator for LLM-emitted
// instructions.
type InstructionType string

const (
	InstrSendToTerminal   InstructionType = "send_to_terminal"
	InstrStartTask        InstructionType = "start_task"
	InstrReviewCode       InstructionType = "review_code"
	InstrFixIssues        InstructionType = "fix_issues"
	InstrMergeBranch      InstructionType = "merge_branch"
	InstrPauseWorkflow    InstructionType = "pause_workflow"
	InstrCompleteWorkflow InstructionType = "complete_workflow"
	InstrFailWorkflow     InstructionType = "fail_workflow"
)

// Instruction is the decoded form of an LLM instruction response.
type Instruction struct {
	Type InstructionType `json:"type"`

	TerminalID string `json:"terminal_id,omitempty"`
	Message    string `json:"message,omitempty"`

	TaskID      string `json:"task_id,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	CommitHash string   `json:"commit_hash,omitempty"`
	Issues     []string `json:"issues,omitempty"`

	SourceBranch string `json:"source_branch,omitempty"`
	TargetBranch string `json:"target_branch,omitempty"`

	Reason  string `json:"reason,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ParseInstruction attempts to decode content as an Instruction.
// Non-JSON or unrecognized content is not an error: it yields
// (nil, false) so the caller treats it as a no-op. A jsonrepair pass is
// attempted first so near-valid LLM output (trailing commas, unescaped
// newlines) still parses.
func ParseInstruction(content string) (*Instruction, bool) {
	var instr Instruction
	if err := json.Unmarshal([]byte(content), &instr); err == nil && instr.Type != "" {
		return &instr, true
	}

	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &instr); err != nil || instr.Type == "" {
		return nil, false
	}
	return &instr, true
}

// KnownType reports whether t is a recognized instruction discriminator.
func KnownType(t InstructionType) bool {
	switch t {
	case InstrSendToTerminal, InstrStartTask, InstrReviewCode, InstrFixIssues,
		InstrMergeBranch, InstrPauseWorkflow, InstrCompleteWorkflow, InstrFailWorkflow:
		return true
	default:
		return false
	}
}
