package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/requesterctl/internal/core"
)

func TestPromptOperation(t *testing.T) {
	tests := []struct {
		name     string
		answers  string
		wantOp   core.Operation
		wantPath string
	}{
		{"by name with default path", "deactivate\n\n", core.OperationDeactivate, "requester_ids.txt"},
		{"by number", "3\nbatch/merge_today.csv\n", core.OperationMerge, "batch/merge_today.csv"},
		{"dashed name", "update-external-id\nids.csv\n", core.OperationUpdateExternalID, "ids.csv"},
		{"path without trailing newline", "replace_secondary_emails\nreplace.csv", core.OperationReplaceSecondaryEmails, "replace.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompts bytes.Buffer
			spec, path, err := promptOperation(strings.NewReader(tt.answers), &prompts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, spec.Operation)
			assert.Equal(t, tt.wantPath, path)
			assert.Contains(t, prompts.String(), "Enter action")
			assert.Contains(t, prompts.String(), "default: "+spec.DefaultInput)
		})
	}
}

func TestPromptOperationRejectsUnknownAction(t *testing.T) {
	var prompts bytes.Buffer
	_, _, err := promptOperation(strings.NewReader("purge\n"), &prompts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge")

	_, _, err = promptOperation(strings.NewReader("9\n"), &prompts)
	require.Error(t, err)

	_, _, err = promptOperation(strings.NewReader(""), &prompts)
	require.Error(t, err)
}
