package pool

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Renderer consumes dashboard snapshots. The terminal renderer below is
// the default; the status web handler serializes the same snapshot.
type Renderer interface {
	Render(snap Snapshot)
}

// TerminalRenderer redraws the dashboard in place on each render tick.
// It owns the output stream; nothing else in the process writes to it
// while the pool runs.
type TerminalRenderer struct {
	out io.Writer
}

func NewTerminalRenderer(out io.Writer) *TerminalRenderer {
	return &TerminalRenderer{out: out}
}

func (r *TerminalRenderer) Render(snap Snapshot) {
	var b strings.Builder

	// Home the cursor and clear below instead of clearing the whole
	// screen, which flickers on slow terminals.
	b.WriteString("\033[H\033[J")

	fmt.Fprintf(&b, "challenge %s  day %d  elapsed %s\n",
		snap.ChallengeID, snap.Day, snap.Elapsed.Truncate(time.Second))
	if snap.RewardPerSolution > 0 {
		fmt.Fprintf(&b, "est. reward/solution %.6f\n", snap.RewardPerSolution)
	}
	if snap.NextChallengeAt != "" {
		fmt.Fprintf(&b, "next challenge at %s\n", snap.NextChallengeAt)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%-20s %-14s %8s %16s\n", "WALLET", "STATUS", "SOLVED", "EST. TOKENS")
	solved := 0
	for _, w := range snap.Workers {
		fmt.Fprintf(&b, "%-20s %-14s %8d %16.6f\n",
			clip(w.Name, 20), w.StatusText, w.Solved, w.EstimatedTokens)
		if w.Status == StatusSolved || w.Status == StatusSkipped {
			solved++
		}
	}
	fmt.Fprintf(&b, "\n%d/%d identities done this round\n", solved, len(snap.Workers))

	io.WriteString(r.out, b.String())
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
