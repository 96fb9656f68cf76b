// Package ui is the interactive surface of the tool: the top-level menu,
// yes/no confirmation prompts, and the final run report with its remediation
// text. Every user-visible string comes from the lang tables; the structured
// log is separate and stays English.
package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/breeze-rmm/reseed/internal/bundle"
	"github.com/breeze-rmm/reseed/internal/lang"
	"github.com/breeze-rmm/reseed/internal/pipeline"
)

// Choice is one top-level menu action.
type Choice int

const (
	ChoiceExit Choice = iota
	ChoiceRun
	ChoiceRunStorage
	ChoiceStatus
	ChoiceRestore
	ChoiceUnblock
)

// Console couples an input reader with an output writer for interactive
// prompts. Tests inject a strings.Reader and a bytes.Buffer.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

const ruleWidth = 56

func (c *Console) rule() {
	fmt.Fprintln(c.out, strings.Repeat("-", ruleWidth))
}

// Say prints one line to the console.
func (c *Console) Say(line string) {
	fmt.Fprintln(c.out, line)
}

// Sayf formats one line to the console.
func (c *Console) Sayf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Menu prints the top-level menu and reads a selection. A closed stdin
// answers ChoiceExit.
func (c *Console) Menu(displayName string) Choice {
	text := lang.GetText()

	fmt.Fprintln(c.out)
	c.rule()
	fmt.Fprintf(c.out, text.MenuTitle+"\n", displayName)
	c.rule()

	items := []struct {
		choice Choice
		label  string
	}{
		{ChoiceRun, text.MenuRun},
		{ChoiceRunStorage, text.MenuRunStorage},
		{ChoiceStatus, text.MenuStatus},
		{ChoiceRestore, text.MenuRestore},
		{ChoiceUnblock, text.MenuUnblock},
	}
	for i, item := range items {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, item.label)
	}
	fmt.Fprintf(c.out, "  0) %s\n", text.MenuExit)

	for {
		fmt.Fprintf(c.out, "\n%s [0-%d]: ", text.MenuPrompt, len(items))
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			return ChoiceExit
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || n < 0 || n > len(items) {
			fmt.Fprintln(c.out, text.MenuInvalid)
			if err != nil {
				return ChoiceExit
			}
			continue
		}
		if n == 0 {
			return ChoiceExit
		}
		return items[n-1].choice
	}
}

// Confirm asks a yes/no question. Empty input takes def; a closed stdin
// answers no.
func (c *Console) Confirm(question string, def bool) bool {
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(c.out, "%s %s: ", question, suffix)

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "":
		return def
	default:
		return false
	}
}

// ConfirmDrift renders the version drift warning and asks whether to
// continue. Wired into the pipeline's drift gate.
func (c *Console) ConfirmDrift(installed, verified string) bool {
	text := lang.GetText()
	fmt.Fprintf(c.out, "\n[!] "+text.DriftWarning+"\n", installed, verified)
	return c.Confirm(text.DriftQuestion, false)
}

// ConfirmStorageReadOnly warns about the side effects of pinning
// storage.json and asks whether to do it anyway.
func (c *Console) ConfirmStorageReadOnly() bool {
	text := lang.GetText()
	fmt.Fprintf(c.out, "\n[!] %s\n", text.SetReadOnlyMessage)
	return c.Confirm(text.StorageReadOnlyQuestion, false)
}

// Report renders the terminal state of a run. Every non-success outcome
// names the next step and the paths involved, never a bare failure.
func (c *Console) Report(rep *pipeline.Report, displayName, logPath string) {
	text := lang.GetText()
	fmt.Fprintln(c.out)

	switch rep.State {
	case pipeline.StateInstalled:
		fmt.Fprintln(c.out, text.SuccessMessage)
		fmt.Fprintf(c.out, text.PatchedSummary+"\n", rep.PatchedCount, len(rep.Resources))
		fmt.Fprintf(c.out, text.RestartMessage+"\n", displayName)
		if rep.BackupPath != "" {
			fmt.Fprintf(c.out, "%s %s\n", text.BackupLocation, rep.BackupPath)
		}

	case pipeline.StateUnchanged:
		fmt.Fprintln(c.out, text.AlreadyPatched)

	case pipeline.StateDegraded:
		fmt.Fprintf(c.out, text.SigningDegraded+"\n", rep.Sign.Attempts)
		fmt.Fprintf(c.out, "%s %s\n", text.StagedLocation, rep.StagedPath)
		fmt.Fprintf(c.out, "%s\n  %s\n", text.ManualSignCommand, rep.Sign.ManualCommand)
		fmt.Fprintln(c.out, text.UnblockHint)

	case pipeline.StateRolledBack:
		fmt.Fprintln(c.out, text.RolledBackMessage)
		fmt.Fprintf(c.out, text.ErrorPrefix+"\n", rep.Err)
		if rep.BackupPath != "" {
			fmt.Fprintf(c.out, "%s %s\n", text.BackupLocation, rep.BackupPath)
		}

	case pipeline.StateFailed:
		fmt.Fprintln(c.out, text.UnrecoverableMessage)
		fmt.Fprintf(c.out, text.ErrorPrefix+"\n", rep.Err)
		fmt.Fprintf(c.out, "%s %s\n", text.StagedLocation, rep.StagedPath)
		fmt.Fprintf(c.out, "%s %s\n", text.BackupLocation, rep.BackupPath)

	default:
		var nothing *pipeline.ErrNothingPatched
		if errors.As(rep.Err, &nothing) {
			fmt.Fprintf(c.out, text.NothingToPatch+"\n", displayName)
		}
		fmt.Fprintf(c.out, text.ErrorPrefix+"\n", rep.Err)
		for _, res := range rep.FailedResources() {
			fmt.Fprintf(c.out, "  - %s: %v\n", res.RelPath, res.Err)
		}
		if rep.StagedPath != "" {
			fmt.Fprintf(c.out, "%s %s\n", text.StagedLocation, rep.StagedPath)
		}
		if rep.BackupPath != "" {
			fmt.Fprintf(c.out, "%s %s\n", text.BackupLocation, rep.BackupPath)
		}
	}

	if rep.StorageErr != nil {
		fmt.Fprintf(c.out, text.ErrorPrefix+"\n", rep.StorageErr)
	}
	if logPath != "" {
		fmt.Fprintf(c.out, "%s %s\n", text.LogLocation, logPath)
	}
}

// Status is the read-only inspection result rendered by the status command.
type Status struct {
	Bundle      string
	Version     string
	Resources   []bundle.LocatedResource
	Identifiers map[string]string
	// SignChecked is false on platforms without signature introspection.
	SignChecked bool
	Signed      bool
}

// RenderStatus prints the locate report, the persisted identifiers, and the
// signature state without mutating anything.
func (c *Console) RenderStatus(st *Status) {
	fmt.Fprintf(c.out, "%s (%s)\n", st.Bundle, st.Version)

	for _, res := range st.Resources {
		marker := " "
		switch res.State {
		case bundle.AlreadyPatched:
			marker = "√"
		case bundle.Missing:
			marker = "x"
		}
		fmt.Fprintf(c.out, "  [%s] %-15s %s\n", marker, res.State, res.RelPath)
	}

	if st.SignChecked {
		fmt.Fprintf(c.out, "  signature present: %v\n", st.Signed)
	}

	if len(st.Identifiers) > 0 {
		keys := make([]string, 0, len(st.Identifiers))
		for k := range st.Identifiers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(c.out, "  storage identifiers:")
		for _, k := range keys {
			fmt.Fprintf(c.out, "    %s = %s\n", k, st.Identifiers[k])
		}
	}
}

// WaitEnter blocks until Enter so a double-clicked console window stays
// open long enough to read the report.
func (c *Console) WaitEnter() {
	fmt.Fprint(c.out, lang.GetText().PressEnterToExit)
	_, _ = c.in.ReadString('\n')
}
