package dispatcher

import (
	"strings"

	"github.com/not-nullexception/image-orchestrator/internal/apperrors"
)

// Command names accepted on the command line.
const (
	CmdAdd      = "add"
	CmdProcess  = "process"
	CmdDelete   = "delete"
	CmdList     = "list"
	CmdDescribe = "describe"
	CmdTasks    = "tasks"
	CmdExit     = "exit"
)

var needsArgument = map[string]bool{
	CmdAdd:      true,
	CmdProcess:  true,
	CmdDelete:   true,
	CmdDescribe: true,
	CmdList:     false,
	CmdTasks:    false,
	CmdExit:     false,
}

// Command is one parsed input line.
type Command struct {
	Name string
	Arg  string
}

// ParseCommand splits a line into a command name and its argument. The
// argument is the rest of the line, so paths may contain spaces.
func ParseCommand(line string) (Command, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	if name == "" {
		return Command{}, apperrors.Validation("empty command")
	}
	required, ok := needsArgument[name]
	if !ok {
		return Command{}, apperrors.Validation("unknown command %q, available commands: add, process, delete, list, describe, tasks, exit", name)
	}
	if required && arg == "" {
		return Command{}, apperrors.Validation("command %s requires an argument", name)
	}
	return Command{Name: name, Arg: arg}, nil
}
