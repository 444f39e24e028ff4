package dispatcher

import (
	"testing"

	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"add slike/a.png", Command{Name: CmdAdd, Arg: "slike/a.png"}},
		{"  ADD   my photos/a b.png  ", Command{Name: CmdAdd, Arg: "my photos/a b.png"}},
		{"process jobs/a.json", Command{Name: CmdProcess, Arg: "jobs/a.json"}},
		{"delete 3", Command{Name: CmdDelete, Arg: "3"}},
		{"describe 3", Command{Name: CmdDescribe, Arg: "3"}},
		{"list", Command{Name: CmdList}},
		{"tasks", Command{Name: CmdTasks}},
		{"exit", Command{Name: CmdExit}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	for _, line := range []string{"", "   ", "resize 1", "add", "process  ", "delete", "describe"} {
		_, err := ParseCommand(line)
		require.Error(t, err, "%q", line)
		assert.True(t, apperrors.IsValidation(err), "%q", line)
	}
}
