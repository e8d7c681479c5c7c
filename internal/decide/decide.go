// Package decide routes the judgment calls of a sync run to an operator.
//
// Three situations cannot be settled mechanically: a commit whose
// signature matches mirror history ambiguously, a replay conflict that
// touches mirrored files, and a patch that no longer applies. A Decider
// answers them. The terminal implementation prompts; the queue
// implementation replays scripted answers for tests and automation.
package decide

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/ui"
)

// Choice answers a duplicate prompt.
type Choice int

const (
	// ChoiceSkip leaves the commit out: the mirror already carries it.
	ChoiceSkip Choice = iota
	// ChoiceApply replays the commit despite the match.
	ChoiceApply
)

// Resolution answers a conflict or patch-failure prompt.
type Resolution int

const (
	// ResolveAbort stops the run and rolls back.
	ResolveAbort Resolution = iota
	// ResolveContinue proceeds after the operator repaired the tree.
	ResolveContinue
)

// ErrDeclined reports that the operator cancelled a prompt.
var ErrDeclined = errors.New("cancelled by operator")

// ErrNoTerminal reports that a decision was needed but there is no
// terminal to ask on.
var ErrNoTerminal = errors.New("a decision is required but stdin is not a terminal; rerun interactively")

// A Decider settles the situations a sync run cannot settle on its own.
type Decider interface {
	// PickDuplicate decides whether commit c should be replayed even
	// though matches were found in the mirror history.
	PickDuplicate(c git.Commit, matches []git.Commit) (Choice, error)

	// ResolveConflict pauses while the operator resolves a replay
	// conflict in workDir. ResolveContinue means the conflicted paths
	// were fixed and staged, and the pick may continue.
	ResolveConflict(c git.Commit, workDir string, unmerged []string) (Resolution, error)

	// ResumePatch pauses while the operator repairs a patch session in
	// mirrorDir. ResolveContinue means the session was finished by hand
	// and the import may resume.
	ResumePatch(patch, mirrorDir string, applyErr error) (Resolution, error)
}

// TerminalDecider prompts on the controlling terminal.
type TerminalDecider struct {
	Out io.Writer
}

// NewTerminal returns a Decider that prompts on stdout/stdin.
func NewTerminal() *TerminalDecider {
	return &TerminalDecider{Out: os.Stdout}
}

func (d *TerminalDecider) PickDuplicate(c git.Commit, matches []git.Commit) (Choice, error) {
	if !ui.IsInteractive() {
		return ChoiceSkip, ErrNoTerminal
	}

	fmt.Fprintf(d.Out, "\n%s Possible duplicate: %s %s\n",
		ui.RenderWarnIcon(), ui.RenderHash(c.Hash), ui.TruncateSimple(c.Subject, ui.DefaultSubjectWidth))
	for _, m := range matches {
		fmt.Fprintf(d.Out, "  matches mirror commit %s %s (%s)\n",
			ui.RenderHash(m.Hash), ui.TruncateSimple(m.Subject, ui.DefaultSubjectWidth), m.AuthorDate)
	}

	var pick string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Replay %s anyway?", ui.ShortHash(c.Hash))).
				Description("Skip if the mirror already carries this change.").
				Options(
					huh.NewOption("Skip - already in the mirror", "skip"),
					huh.NewOption("Apply - the match is a coincidence", "apply"),
				).
				Value(&pick),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ChoiceSkip, ErrDeclined
		}
		return ChoiceSkip, fmt.Errorf("duplicate prompt: %w", err)
	}
	if pick == "apply" {
		return ChoiceApply, nil
	}
	return ChoiceSkip, nil
}

func (d *TerminalDecider) ResolveConflict(c git.Commit, workDir string, unmerged []string) (Resolution, error) {
	if !ui.IsInteractive() {
		return ResolveAbort, ErrNoTerminal
	}

	fmt.Fprintf(d.Out, "\n%s Conflict while replaying %s %s\n",
		ui.RenderFailIcon(), ui.RenderHash(c.Hash), ui.TruncateSimple(c.Subject, ui.DefaultSubjectWidth))
	for _, p := range unmerged {
		fmt.Fprintf(d.Out, "  %s %s\n", ui.RenderFail("conflict"), p)
	}
	fmt.Fprintf(d.Out, "\nResolve and stage the paths above in %s, then continue.\n", ui.RenderAccent(workDir))

	var cont bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Conflicts resolved?").
				Affirmative("Continue").
				Negative("Abort").
				Value(&cont),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ResolveAbort, ErrDeclined
		}
		return ResolveAbort, fmt.Errorf("conflict prompt: %w", err)
	}
	if cont {
		return ResolveContinue, nil
	}
	return ResolveAbort, nil
}

func (d *TerminalDecider) ResumePatch(patch, mirrorDir string, applyErr error) (Resolution, error) {
	if !ui.IsInteractive() {
		return ResolveAbort, ErrNoTerminal
	}

	fmt.Fprintf(d.Out, "\n%s Patch failed to apply: %s\n", ui.RenderFailIcon(), patch)
	fmt.Fprintln(d.Out, ui.RenderMuted(ui.WrapText(applyErr.Error(), 80)))
	fmt.Fprintf(d.Out, "\nFix the session in %s (resolve, git add, git am --continue), then resume.\n", ui.RenderAccent(mirrorDir))

	var cont bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Patch session finished?").
				Affirmative("Resume").
				Negative("Abort").
				Value(&cont),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ResolveAbort, ErrDeclined
		}
		return ResolveAbort, fmt.Errorf("patch prompt: %w", err)
	}
	if cont {
		return ResolveContinue, nil
	}
	return ResolveAbort, nil
}

// QueueDecider replays scripted answers in order. An exhausted queue
// fails the prompt, so tests catch decisions they did not expect.
type QueueDecider struct {
	Duplicates []Choice
	Conflicts  []Resolution
	Patches    []Resolution

	// Asked records each prompt as it arrives.
	Asked []string
}

func (d *QueueDecider) PickDuplicate(c git.Commit, matches []git.Commit) (Choice, error) {
	d.Asked = append(d.Asked, "duplicate:"+c.Hash)
	if len(d.Duplicates) == 0 {
		return ChoiceSkip, fmt.Errorf("unexpected duplicate prompt for %s", c.Hash)
	}
	ch := d.Duplicates[0]
	d.Duplicates = d.Duplicates[1:]
	return ch, nil
}

func (d *QueueDecider) ResolveConflict(c git.Commit, workDir string, unmerged []string) (Resolution, error) {
	d.Asked = append(d.Asked, "conflict:"+c.Hash)
	if len(d.Conflicts) == 0 {
		return ResolveAbort, fmt.Errorf("unexpected conflict prompt for %s", c.Hash)
	}
	r := d.Conflicts[0]
	d.Conflicts = d.Conflicts[1:]
	return r, nil
}

func (d *QueueDecider) ResumePatch(patch, mirrorDir string, applyErr error) (Resolution, error) {
	d.Asked = append(d.Asked, "patch:"+patch)
	if len(d.Patches) == 0 {
		return ResolveAbort, fmt.Errorf("unexpected patch prompt for %s", patch)
	}
	r := d.Patches[0]
	d.Patches = d.Patches[1:]
	return r, nil
}
