package invoke

import "strings"

// BuildPrompt assembles the prompt envelope sent to the assistant.
// previousPath is empty when there is no (published) previous folder.
func BuildPrompt(command, memory, previousPath, workDir string) string {
	var sb strings.Builder

	if memory != "" {
		sb.WriteString("# Context/Memory\n")
		sb.WriteString(memory)
		sb.WriteString("\n\n")
	}

	if previousPath != "" {
		sb.WriteString("# Previous Output\n")
		sb.WriteString("Previous execution created files in: ")
		sb.WriteString(previousPath)
		sb.WriteString("\nRead and understand these files as context.\n\n")
	}

	sb.WriteString("# Command\n")
	sb.WriteString(command)
	sb.WriteString("\n\n")

	sb.WriteString("# Output Instructions\n")
	sb.WriteString("Create all output files in: ")
	sb.WriteString(workDir)
	sb.WriteString("\nDo not create files elsewhere.")

	return sb.String()
}
