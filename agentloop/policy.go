package agentloop

import (
	"strings"
)

// DangerousCommands are refused by run_command. Matching is a
// case-insensitive substring test against the whole command line.
var DangerousCommands = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"git reset --hard",
	"git push --force",
	"git push -f",
	"git clean -f",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/sda",
	"chmod -r 777 /",
	"shutdown",
	"reboot",
	"sudo rm",
	"format c:",
}

// CheckCommand returns a *ToolPolicyError when command matches a
// dangerous pattern.
func CheckCommand(command string) error {
	lower := strings.ToLower(command)
	for _, pattern := range DangerousCommands {
		if strings.Contains(lower, pattern) {
			return &ToolPolicyError{
				Tool:   "run_command",
				Reason: "Blocked dangerous command matching '" + pattern + "'",
			}
		}
	}
	return nil
}
