package permission

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/capgate/capgate/domain/entities"
	"github.com/capgate/capgate/domain/errors"
)

// PromptReply is the human's answer to a permission prompt.
type PromptReply int

const (
	ReplyAllowOnce PromptReply = iota
	ReplyAllowSession
	ReplyAllowAlways
	ReplyDeny
)

// TrustLevel converts a reply to the TrustLevel it should be stored under,
// or ok=false if the reply should not be persisted at all (AllowOnce, Deny).
func (r PromptReply) TrustLevel() (entities.TrustLevel, bool) {
	switch r {
	case ReplyAllowSession:
		return entities.TrustSession, true
	case ReplyAllowAlways:
		return entities.TrustPermanent, true
	default:
		return "", false
	}
}

// Allowed reports whether r grants execution at all.
func (r PromptReply) Allowed() bool {
	return r == ReplyAllowOnce || r == ReplyAllowSession || r == ReplyAllowAlways
}

// Prompter asks a human whether a plugin may run with a requested
// capability set, or whether an escalation from previously granted
// capabilities to newly requested ones should proceed.
type Prompter interface {
	Prompt(plugin string, requested entities.Capabilities) (PromptReply, error)
	PromptEscalation(plugin string, old, requested entities.Capabilities) (PromptReply, error)
	IsInteractive() bool
}

// TerminalPrompter asks on stdin/stdout, parsing a single line reply of
// "y"/"yes" (once), "s"/"session", "a"/"always", or anything else as deny.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalPrompter builds a prompter reading from os.Stdin and writing to
// os.Stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stdout}
}

func (p *TerminalPrompter) IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (p *TerminalPrompter) Prompt(plugin string, requested entities.Capabilities) (PromptReply, error) {
	if !p.IsInteractive() {
		return ReplyDeny, &errors.PromptError{Kind: "non_interactive", Err: fmt.Errorf("cannot prompt for %s outside a terminal", plugin)}
	}

	fmt.Fprintf(p.out, "Plugin %q requests capabilities:\n", plugin)
	describeCapabilities(p.out, requested)
	fmt.Fprint(p.out, "Allow? [y]es-once / [s]ession / [a]lways / [N]o: ")

	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ReplyDeny, &errors.PromptError{Kind: "io", Err: err}
		}
		return ReplyDeny, &errors.PromptError{Kind: "cancelled", Err: fmt.Errorf("no input")}
	}

	return parseReply(scanner.Text()), nil
}

func (p *TerminalPrompter) PromptEscalation(plugin string, old, requested entities.Capabilities) (PromptReply, error) {
	if !p.IsInteractive() {
		return ReplyDeny, &errors.PromptError{Kind: "non_interactive", Err: fmt.Errorf("cannot prompt for %s outside a terminal", plugin)}
	}

	fmt.Fprintf(p.out, "Plugin %q now requests additional capabilities (previously %s, now %s):\n", plugin, old.Hash(), requested.Hash())
	describeCapabilities(p.out, requested)
	fmt.Fprint(p.out, "Allow escalation? [y]es-once / [s]ession / [a]lways / [N]o: ")

	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ReplyDeny, &errors.PromptError{Kind: "io", Err: err}
		}
		return ReplyDeny, &errors.PromptError{Kind: "cancelled", Err: fmt.Errorf("no input")}
	}

	return parseReply(scanner.Text()), nil
}

func parseReply(line string) PromptReply {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return ReplyAllowOnce
	case "s", "session":
		return ReplyAllowSession
	case "a", "always":
		return ReplyAllowAlways
	default:
		return ReplyDeny
	}
}

func describeCapabilities(out io.Writer, caps entities.Capabilities) {
	for _, p := range caps.FSRead {
		fmt.Fprintf(out, "  read  %s (recursive=%v)\n", p.Pattern, p.Recursive)
	}
	for _, p := range caps.FSWrite {
		fmt.Fprintf(out, "  write %s (recursive=%v)\n", p.Pattern, p.Recursive)
	}
	for _, e := range caps.Env {
		fmt.Fprintf(out, "  env   %s\n", e)
	}
	for _, n := range caps.Net {
		fmt.Fprintf(out, "  net   %s\n", n)
	}
	if caps.Stdin || caps.Stdout || caps.Stderr {
		fmt.Fprintf(out, "  stdio stdin=%v stdout=%v stderr=%v\n", caps.Stdin, caps.Stdout, caps.Stderr)
	}
}

// AutoPrompter always answers with a fixed reply, useful for non-interactive
// presets (CI, TrustAll) that never need a human in the loop.
type AutoPrompter struct {
	Reply PromptReply
}

func (a AutoPrompter) IsInteractive() bool { return false }
func (a AutoPrompter) Prompt(string, entities.Capabilities) (PromptReply, error) {
	return a.Reply, nil
}
func (a AutoPrompter) PromptEscalation(string, entities.Capabilities, entities.Capabilities) (PromptReply, error) {
	return a.Reply, nil
}
