package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstructionValidJSON(t *testing.T) {
	content := `{"type":"send_to_terminal","terminal_id":"term-1","message":"continue"}`
	instr, ok := ParseInstruction(content)
	require.True(t, ok)
	assert.Equal(t, InstrSendToTerminal, instr.Type)
	assert.Equal(t, "term-1", instr.TerminalID)
	assert.Equal(t, "continue", instr.Message)
}

func TestParseInstructionRepairsNearValidJSON(t *testing.T) {
	content := `{"type":"pause_workflow","reason":"waiting on review",}`
	instr, ok := ParseInstruction(content)
	require.True(t, ok)
	assert.Equal(t, InstrPauseWorkflow, instr.Type)
	assert.Equal(t, "waiting on review", instr.Reason)
}

func TestParseInstructionRejectsNonJSONProse(t *testing.T) {
	_, ok := ParseInstruction("Sure, I'll get right on that.")
	assert.False(t, ok)
}

func TestParseInstructionRejectsMissingType(t *testing.T) {
	_, ok := ParseInstruction(`{"terminal_id":"term-1"}`)
	assert.False(t, ok)
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(InstrMergeBranch))
	assert.True(t, KnownType(InstrCompleteWorkflow))
	assert.False(t, KnownType(InstructionType("bogus_type")))
}
