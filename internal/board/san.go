package board

import "strings"

// ToSAN converts a move to Standard Algebraic Notation, rendered against the
// position the move is played from.
func (m Move) ToSAN(pos *Position) string {
	if m == NoMove {
		return "-"
	}

	from := m.From()
	to := m.To()
	piece := pos.PieceAt(from)

	if piece == NoPiece {
		return m.String() // Fall back to coordinate notation
	}

	var sb strings.Builder

	if m.IsCastling() {
		if to > from {
			sb.WriteString("O-O")
		} else {
			sb.WriteString("O-O-O")
		}
		sb.WriteString(checkSuffix(pos, m))
		return sb.String()
	}

	pt := piece.Type()

	// Piece letter and disambiguation (not for pawns)
	if pt != Pawn {
		sb.WriteByte("PNBRQK"[pt])
		sb.WriteString(disambiguation(pos, m, pt))
	}

	// Capture marker
	if m.IsCapture(pos) {
		if pt == Pawn {
			// Pawn captures include the file of origin
			sb.WriteByte('a' + byte(from.File()))
		}
		sb.WriteByte('x')
	}

	sb.WriteString(to.String())

	if m.IsPromotion() {
		sb.WriteByte('=')
		sb.WriteByte("PNBRQK"[m.Promotion()])
	}

	sb.WriteString(checkSuffix(pos, m))
	return sb.String()
}

// checkSuffix returns "#", "+" or "" depending on the post-move state.
func checkSuffix(pos *Position, m Move) string {
	next := pos.Copy()
	next.MakeMove(m)
	if next.InCheck(next.SideToMove) {
		if !next.HasLegalMoves() {
			return "#"
		}
		return "+"
	}
	return ""
}

// disambiguation returns the file/rank qualifier needed when another piece
// of the same type can reach the same destination.
func disambiguation(pos *Position, m Move, pt PieceType) string {
	from := m.From()
	to := m.To()
	us := pos.SideToMove

	var candidates []Square
	pieces := pos.Pieces[us][pt]

	allMoves := pos.GenerateLegalMoves()
	for i := 0; i < allMoves.Len(); i++ {
		move := allMoves.Get(i)
		if move.To() != to || move.From() == from {
			continue
		}
		if pieces.IsSet(move.From()) {
			candidates = append(candidates, move.From())
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	sameFile := false
	sameRank := false
	for _, sq := range candidates {
		if sq.File() == from.File() {
			sameFile = true
		}
		if sq.Rank() == from.Rank() {
			sameRank = true
		}
	}

	if !sameFile {
		return string('a' + byte(from.File()))
	}
	if !sameRank {
		return string('1' + byte(from.Rank()))
	}
	return from.String()
}

// MovesToSAN renders a move sequence as SAN, starting from pos.
func MovesToSAN(pos *Position, moves []Move) []string {
	result := make([]string, len(moves))
	p := pos.Copy()

	for i, m := range moves {
		result[i] = m.ToSAN(p)
		p.MakeMove(m)
	}

	return result
}
