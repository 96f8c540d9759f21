package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampInterval(t *testing.T) {
	assert.Equal(t, MinIntervalSeconds, ClampInterval(0))
	assert.Equal(t, MinIntervalSeconds, ClampInterval(-10))
	assert.Equal(t, MinIntervalSeconds, ClampInterval(14))
	assert.Equal(t, 60, ClampInterval(60))
	assert.Equal(t, MaxIntervalSeconds, ClampInterval(3600))
	assert.Equal(t, MaxIntervalSeconds, ClampInterval(99999))
}

func TestSyntheticReplyID(t *testing.T) {
	assert.Equal(t, "AI:1", SyntheticReplyID(1))
	assert.Equal(t, "AI:42", SyntheticReplyID(42))
}

func TestCaseIsOpen(t *testing.T) {
	assert.True(t, (&Case{Stage: StageNew}).IsOpen())
	assert.True(t, (&Case{Stage: StageInProgress}).IsOpen())
	assert.False(t, (&Case{Stage: StageWon}).IsOpen())
	assert.False(t, (&Case{Stage: StageLost}).IsOpen())
	assert.False(t, (&Case{Stage: StageClosed}).IsOpen())
}
