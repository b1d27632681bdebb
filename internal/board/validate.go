package board

import "fmt"

// Reason identifies why a proposed move was rejected.
type Reason string

const (
	ReasonInvalidPiece       Reason = "InvalidPiece"
	ReasonNotYourTurn        Reason = "NotYourTurn"
	ReasonInvalidDestination Reason = "InvalidDestination"
	ReasonPathBlocked        Reason = "PathBlocked"
	ReasonInvalidCastling    Reason = "InvalidCastling"
	ReasonInvalidEnPassant   Reason = "InvalidEnPassant"
	ReasonInvalidPromotion   Reason = "InvalidPromotion"
	ReasonWouldBeInCheck     Reason = "WouldBeInCheck"
)

// ValidationError reports a rejected move with a stable reason code.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func reject(r Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// MoveFlags is the set of derived properties of an executed move.
type MoveFlags uint16

const (
	FlagCapture MoveFlags = 1 << iota
	FlagEnPassantCapture
	FlagCastleKingside
	FlagCastleQueenside
	FlagPawnPromotion
	FlagCheck
	FlagCheckmate
	FlagDoublePawnPush
)

// Has returns true if all given flags are set.
func (f MoveFlags) Has(flag MoveFlags) bool {
	return f&flag == flag
}

// MoveRecord describes one validated, executed ply.
type MoveRecord struct {
	From          Square
	To            Square
	PieceType     PieceType
	Color         Color
	PromotionType PieceType // NoPieceType unless promoting
	Flags         MoveFlags
	CapturedPiece Piece // NoPiece unless capturing
	SAN           string
	FENAfter      string
}

// Notation returns the coordinate notation of the recorded move
// (e.g. "e2e4", "e7e8q").
func (r MoveRecord) Notation() string {
	s := r.From.String() + r.To.String()
	if r.Flags.Has(FlagPawnPromotion) {
		s += string("pnbrqk"[r.PromotionType])
	}
	return s
}

// Validate decides whether the move from->to by the given color is legal on
// pos. On success it returns the executed MoveRecord and the resulting
// position; pos itself is not modified. On failure it returns a
// ValidationError carrying one of the stable reason codes.
func Validate(pos *Position, from, to Square, promotion PieceType, mover Color) (*MoveRecord, *Position, error) {
	piece := pos.PieceAt(from)
	if piece == NoPiece {
		return nil, nil, reject(ReasonInvalidPiece, "no piece at %s", from)
	}
	if piece.Color() != mover {
		return nil, nil, reject(ReasonNotYourTurn, "piece at %s is %s", from, piece.Color())
	}
	if pos.SideToMove != mover {
		return nil, nil, reject(ReasonNotYourTurn, "it is %s to move", pos.SideToMove)
	}
	if from == to || !to.IsValid() {
		return nil, nil, reject(ReasonInvalidDestination, "%s%s", from, to)
	}
	if target := pos.PieceAt(to); target != NoPiece && target.Color() == mover {
		return nil, nil, reject(ReasonInvalidDestination, "own piece on %s", to)
	}

	pt := piece.Type()

	// Promotion bookkeeping: a pawn reaching the back rank must name a
	// promotion piece, and nothing else may.
	backRank := 7
	if mover == Black {
		backRank = 0
	}
	promoting := pt == Pawn && to.Rank() == backRank
	if promoting && promotion == NoPieceType {
		return nil, nil, reject(ReasonInvalidPromotion, "promotion piece required")
	}
	if promoting && (promotion == Pawn || promotion == King) {
		return nil, nil, reject(ReasonInvalidPromotion, "cannot promote to %s", promotion)
	}
	if !promoting && promotion != NoPieceType {
		return nil, nil, reject(ReasonInvalidPromotion, "%s%s is not a promotion", from, to)
	}

	// Build the candidate move in the internal encoding.
	var m Move
	switch {
	case promoting:
		m = NewPromotion(from, to, promotion)
	case pt == King && abs(int(to)-int(from)) == 2 && from.Rank() == to.Rank():
		m = NewCastling(from, to)
	case pt == Pawn && to == pos.EnPassant:
		m = NewEnPassant(from, to)
	default:
		m = NewMove(from, to)
	}

	// The candidate must be pseudo-legal by generation. Classify the
	// rejection so the client learns which rule it broke.
	pseudo := pos.GeneratePseudoLegalMoves()
	if !pseudo.Contains(m) {
		return nil, nil, classifyRejection(pos, m, piece)
	}

	if !pos.IsLegal(m) {
		return nil, nil, reject(ReasonWouldBeInCheck, "%s king would be attacked", mover)
	}

	return execute(pos, m, piece)
}

// classifyRejection explains why a move failed pseudo-legal generation.
func classifyRejection(pos *Position, m Move, piece Piece) *ValidationError {
	from, to := m.From(), m.To()
	pt := piece.Type()

	if m.IsCastling() {
		return reject(ReasonInvalidCastling, "%s", m)
	}
	if m.IsEnPassant() {
		return reject(ReasonInvalidEnPassant, "%s", m)
	}

	// Sliding piece along a valid ray but through a blocker.
	switch pt {
	case Bishop, Rook, Queen:
		aligned := false
		switch pt {
		case Bishop:
			aligned = abs(from.File()-to.File()) == abs(from.Rank()-to.Rank())
		case Rook:
			aligned = from.File() == to.File() || from.Rank() == to.Rank()
		case Queen:
			aligned = from.File() == to.File() || from.Rank() == to.Rank() ||
				abs(from.File()-to.File()) == abs(from.Rank()-to.Rank())
		}
		if aligned && Between(from, to)&pos.AllOccupied != 0 {
			return reject(ReasonPathBlocked, "%s", m)
		}
	case Pawn:
		// A diagonal pawn step onto an empty non-EP square, or a blocked
		// push, both come out here.
		if from.File() != to.File() && pos.IsEmpty(to) {
			return reject(ReasonInvalidEnPassant, "%s is not the en-passant square", to)
		}
		if from.File() == to.File() && !pos.IsEmpty(to) {
			return reject(ReasonPathBlocked, "%s", m)
		}
		if from.File() == to.File() && abs(to.Rank()-from.Rank()) == 2 {
			mid := Square((int(from) + int(to)) / 2)
			if !pos.IsEmpty(mid) {
				return reject(ReasonPathBlocked, "%s", m)
			}
		}
	}

	return reject(ReasonInvalidDestination, "%s cannot play %s", pt, m)
}

// execute applies the validated move to a copy of pos and derives the record.
func execute(pos *Position, m Move, piece Piece) (*MoveRecord, *Position, error) {
	next := pos.Copy()

	san := m.ToSAN(next) // rendered against the pre-move position

	undo := next.MakeMove(m)
	if !undo.Valid {
		return nil, nil, reject(ReasonInvalidPiece, "%s", m)
	}

	rec := &MoveRecord{
		From:          m.From(),
		To:            m.To(),
		PieceType:     piece.Type(),
		Color:         piece.Color(),
		PromotionType: NoPieceType,
		CapturedPiece: undo.CapturedPiece,
	}

	if undo.CapturedPiece != NoPiece {
		rec.Flags |= FlagCapture
	}
	if m.IsEnPassant() {
		rec.Flags |= FlagEnPassantCapture
	}
	if m.IsCastling() {
		if m.To() > m.From() {
			rec.Flags |= FlagCastleKingside
		} else {
			rec.Flags |= FlagCastleQueenside
		}
	}
	if m.IsPromotion() {
		rec.Flags |= FlagPawnPromotion
		rec.PromotionType = m.Promotion()
	}
	if piece.Type() == Pawn && abs(int(m.To())-int(m.From())) == 16 {
		rec.Flags |= FlagDoublePawnPush
	}

	if next.InCheck(next.SideToMove) {
		rec.Flags |= FlagCheck
		if !next.HasLegalMoves() {
			rec.Flags |= FlagCheckmate
		}
	}

	rec.SAN = san
	rec.FENAfter = next.ToFEN()

	return rec, next, nil
}

// LegalMovesFrom returns all legal moves for the piece on the given square.
func LegalMovesFrom(pos *Position, from Square) []Move {
	var out []Move
	all := pos.GenerateLegalMoves()
	for i := 0; i < all.Len(); i++ {
		if m := all.Get(i); m.From() == from {
			out = append(out, m)
		}
	}
	return out
}
