package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/hailam/chessnet/internal/board"
)

// pgnResult maps a terminal status to the PGN result token.
func pgnResult(status Status) string {
	switch status {
	case StatusWhiteWon:
		return "1-0"
	case StatusBlackWon:
		return "0-1"
	case StatusDraw:
		return "1/2-1/2"
	}
	return "*"
}

// GeneratePGN renders a tagged PGN record from a completed game. It is a
// pure function of its inputs; it holds no reference to the session.
func GeneratePGN(white, black PlayerInfo, status Status, reason EndReason, history []board.MoveRecord, startedAt time.Time) string {
	var b strings.Builder

	date := "????.??.??"
	if !startedAt.IsZero() {
		date = startedAt.Format("2006.01.02")
	}
	result := pgnResult(status)

	fmt.Fprintf(&b, "[Event \"Rated game\"]\n")
	fmt.Fprintf(&b, "[Site \"chessnet\"]\n")
	fmt.Fprintf(&b, "[Date %q]\n", date)
	fmt.Fprintf(&b, "[Round \"-\"]\n")
	fmt.Fprintf(&b, "[White %q]\n", white.Username)
	fmt.Fprintf(&b, "[Black %q]\n", black.Username)
	fmt.Fprintf(&b, "[WhiteElo \"%d\"]\n", white.Rating)
	fmt.Fprintf(&b, "[BlackElo \"%d\"]\n", black.Rating)
	fmt.Fprintf(&b, "[Result %q]\n", result)
	if reason != "" {
		fmt.Fprintf(&b, "[Termination %q]\n", string(reason))
	}
	b.WriteByte('\n')

	var tokens []string
	for i, rec := range history {
		if rec.Color == board.White {
			tokens = append(tokens, fmt.Sprintf("%d.", i/2+1))
		}
		tokens = append(tokens, rec.SAN)
	}
	tokens = append(tokens, result)

	// Wrap movetext at 80 columns.
	line := 0
	for i, tok := range tokens {
		if i > 0 {
			if line+1+len(tok) > 80 {
				b.WriteByte('\n')
				line = 0
			} else {
				b.WriteByte(' ')
				line++
			}
		}
		b.WriteString(tok)
		line += len(tok)
	}
	b.WriteByte('\n')

	return b.String()
}
