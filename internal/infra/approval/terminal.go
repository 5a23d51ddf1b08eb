// Package approval implements the ApprovalSource external collaborator
// (spec §9 "Change-set approval flow") as an interactive terminal prompt,
// mirroring the teacher's confirmRemoval pattern (cmd/streamy/remove.go).
package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/stackctl/stackctl/internal/ports"
)

// Terminal prompts the user on In/Out for each proposed change set.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

var _ ports.ApprovalSource = (*Terminal)(nil)

// New returns a Terminal approval source reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{In: in, Out: out}
}

// Approve renders the change set summary and asks for a y/N confirmation.
func (t *Terminal) Approve(_ context.Context, summary ports.ChangeSetSummary) (bool, error) {
	fmt.Fprintf(t.Out, "\nProposed change set:\n")
	fmt.Fprintf(t.Out, "  + %d addition(s)\n", len(summary.Additions))
	fmt.Fprintf(t.Out, "  ~ %d modification(s)\n", len(summary.Modifications))
	fmt.Fprintf(t.Out, "  ! %d replacement(s)\n", len(summary.Replacements))
	fmt.Fprint(t.Out, "Apply this change set? [y/N]: ")

	scanner := bufio.NewScanner(t.In)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
