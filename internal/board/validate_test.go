package board

import (
	"strings"
	"testing"
)

// play validates and applies a sequence of coordinate-notation moves,
// alternating colors starting with White.
func play(t *testing.T, pos *Position, moves ...string) (*MoveRecord, *Position) {
	t.Helper()

	var rec *MoveRecord
	for _, ms := range moves {
		from, err := ParseSquare(ms[0:2])
		if err != nil {
			t.Fatal(err)
		}
		to, err := ParseSquare(ms[2:4])
		if err != nil {
			t.Fatal(err)
		}
		promo := NoPieceType
		if len(ms) == 5 {
			promo = PromotionFromChar(ms[4])
		}

		rec, pos, err = Validate(pos, from, to, promo, pos.SideToMove)
		if err != nil {
			t.Fatalf("move %s rejected: %v", ms, err)
		}
	}
	return rec, pos
}

func wantReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, move was accepted", reason)
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if ve.Reason != reason {
		t.Fatalf("reason = %s, want %s (%v)", ve.Reason, reason, err)
	}
}

func TestScholarsMate(t *testing.T) {
	rec, pos := play(t, NewPosition(),
		"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")

	if !rec.Flags.Has(FlagCapture) {
		t.Error("Qxf7 is a capture")
	}
	if !rec.Flags.Has(FlagCheck) || !rec.Flags.Has(FlagCheckmate) {
		t.Errorf("Qxf7 is checkmate, flags = %b", rec.Flags)
	}
	if rec.SAN != "Qxf7#" {
		t.Errorf("SAN = %q, want Qxf7#", rec.SAN)
	}

	wantPrefix := "r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq -"
	if !strings.HasPrefix(pos.ToFEN(), wantPrefix) {
		t.Errorf("final FEN = %s, want prefix %s", pos.ToFEN(), wantPrefix)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Run("NoPieceAtOrigin", func(t *testing.T) {
		_, _, err := Validate(NewPosition(), E4, E5, NoPieceType, White)
		wantReason(t, err, ReasonInvalidPiece)
	})

	t.Run("OpponentPiece", func(t *testing.T) {
		_, _, err := Validate(NewPosition(), E7, E5, NoPieceType, White)
		wantReason(t, err, ReasonNotYourTurn)
	})

	t.Run("OutOfTurn", func(t *testing.T) {
		_, _, err := Validate(NewPosition(), E7, E5, NoPieceType, Black)
		wantReason(t, err, ReasonNotYourTurn)
	})

	t.Run("CaptureOwnPiece", func(t *testing.T) {
		_, _, err := Validate(NewPosition(), A1, A2, NoPieceType, White)
		wantReason(t, err, ReasonInvalidDestination)
	})

	t.Run("SlidingThroughBlocker", func(t *testing.T) {
		// Ra1-a5 with the a2 pawn in the way.
		_, _, err := Validate(NewPosition(), A1, A5, NoPieceType, White)
		wantReason(t, err, ReasonPathBlocked)
	})

	t.Run("BlockedPawnPush", func(t *testing.T) {
		pos, _ := ParseFEN("4k3/8/8/8/4p3/4P3/8/4K3 w - - 0 1")
		_, _, err := Validate(pos, E3, E4, NoPieceType, White)
		wantReason(t, err, ReasonPathBlocked)
	})

	t.Run("KnightIllegalOffset", func(t *testing.T) {
		_, _, err := Validate(NewPosition(), G1, G3, NoPieceType, White)
		wantReason(t, err, ReasonInvalidDestination)
	})
}

func TestCastlingValidation(t *testing.T) {
	t.Run("LegalKingside", func(t *testing.T) {
		pos, _ := ParseFEN("4k3/8/8/8/8/8/8/4K2R w K - 0 1")
		rec, next := play(t, pos, "e1g1")
		if !rec.Flags.Has(FlagCastleKingside) {
			t.Error("expected kingside castle flag")
		}
		if rec.SAN != "O-O" {
			t.Errorf("SAN = %q, want O-O", rec.SAN)
		}
		if next.PieceAt(F1) != WhiteRook {
			t.Error("rook should land on f1")
		}
	})

	t.Run("TransitSquareAttacked", func(t *testing.T) {
		// Black rook on f8 covers f1: O-O is illegal.
		pos, _ := ParseFEN("4kr2/8/8/8/8/8/8/4K2R w K - 0 1")
		_, _, err := Validate(pos, E1, G1, NoPieceType, White)
		wantReason(t, err, ReasonInvalidCastling)
	})

	t.Run("KingInCheck", func(t *testing.T) {
		pos, _ := ParseFEN("4k3/8/8/8/8/8/4r3/4K2R w K - 0 1")
		_, _, err := Validate(pos, E1, G1, NoPieceType, White)
		wantReason(t, err, ReasonInvalidCastling)
	})

	t.Run("NoRightsBit", func(t *testing.T) {
		pos, _ := ParseFEN("4k3/8/8/8/8/8/8/4K2R w - - 0 1")
		_, _, err := Validate(pos, E1, G1, NoPieceType, White)
		wantReason(t, err, ReasonInvalidCastling)
	})

	t.Run("PathOccupied", func(t *testing.T) {
		pos, _ := ParseFEN("4k3/8/8/8/8/8/8/4KB1R w K - 0 1")
		_, _, err := Validate(pos, E1, G1, NoPieceType, White)
		wantReason(t, err, ReasonInvalidCastling)
	})
}

func TestEnPassantValidation(t *testing.T) {
	t.Run("Legal", func(t *testing.T) {
		pos, _ := ParseFEN("rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2")
		rec, next := play(t, pos, "e5d6")

		if !rec.Flags.Has(FlagCapture) || !rec.Flags.Has(FlagEnPassantCapture) {
			t.Errorf("flags = %b, want capture+en-passant", rec.Flags)
		}
		if rec.CapturedPiece != BlackPawn {
			t.Errorf("captured = %v, want black pawn", rec.CapturedPiece)
		}
		if next.PieceAt(D5) != NoPiece {
			t.Error("the d5 pawn must be removed")
		}
		if next.EnPassant != NoSquare {
			t.Error("en-passant target must be cleared")
		}
		if next.HalfMoveClock != 0 {
			t.Error("half-move clock must reset on a pawn capture")
		}
	})

	t.Run("NoTarget", func(t *testing.T) {
		// Same position but the en-passant window has closed.
		pos, _ := ParseFEN("rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
		_, _, err := Validate(pos, E5, D6, NoPieceType, White)
		wantReason(t, err, ReasonInvalidEnPassant)
	})
}

func TestPromotionValidation(t *testing.T) {
	t.Run("MissingPromotionType", func(t *testing.T) {
		pos, _ := ParseFEN("8/4P3/8/8/8/k7/8/4K3 w - - 0 1")
		_, _, err := Validate(pos, E7, E8, NoPieceType, White)
		wantReason(t, err, ReasonInvalidPromotion)
	})

	t.Run("PromoteToKing", func(t *testing.T) {
		pos, _ := ParseFEN("8/4P3/8/8/8/k7/8/4K3 w - - 0 1")
		_, _, err := Validate(pos, E7, E8, King, White)
		wantReason(t, err, ReasonInvalidPromotion)
	})

	t.Run("PromotionOnQuietMove", func(t *testing.T) {
		pos := NewPosition()
		_, _, err := Validate(pos, E2, E4, Queen, White)
		wantReason(t, err, ReasonInvalidPromotion)
	})

	t.Run("Underpromotion", func(t *testing.T) {
		pos, _ := ParseFEN("8/4P3/8/8/8/k7/8/4K3 w - - 0 1")
		rec, next := play(t, pos, "e7e8n")
		if !rec.Flags.Has(FlagPawnPromotion) || rec.PromotionType != Knight {
			t.Errorf("flags=%b promo=%v", rec.Flags, rec.PromotionType)
		}
		if next.PieceAt(E8) != WhiteKnight {
			t.Error("e8 should hold a knight")
		}
		if rec.SAN != "e8=N" {
			t.Errorf("SAN = %q, want e8=N", rec.SAN)
		}
	})
}

func TestWouldBeInCheck(t *testing.T) {
	// The e-file knight is pinned by the rook.
	pos, _ := ParseFEN("4r3/8/8/8/8/4N3/8/4K3 w - - 0 1")
	_, _, err := Validate(pos, E3, C4, NoPieceType, White)
	wantReason(t, err, ReasonWouldBeInCheck)
}

func TestDoublePawnPush(t *testing.T) {
	rec, next := play(t, NewPosition(), "e2e4")

	if !rec.Flags.Has(FlagDoublePawnPush) {
		t.Error("e2e4 sets the double-push flag")
	}
	if next.EnPassant != E3 {
		t.Errorf("en-passant target = %v, want e3", next.EnPassant)
	}
	if next.FullMoveNumber != 1 {
		t.Error("full-move number advances only after Black moves")
	}

	_, next = play(t, next, "c7c5")
	if next.FullMoveNumber != 2 {
		t.Errorf("full-move number = %d, want 2", next.FullMoveNumber)
	}
}

func TestLegalMovesFrom(t *testing.T) {
	pos := NewPosition()

	knight := LegalMovesFrom(pos, G1)
	if len(knight) != 2 {
		t.Errorf("Ng1 has %d moves, want 2", len(knight))
	}

	pawn := LegalMovesFrom(pos, E2)
	if len(pawn) != 2 {
		t.Errorf("e2 pawn has %d moves, want 2", len(pawn))
	}

	if moves := LegalMovesFrom(pos, E4); moves != nil {
		t.Error("empty square has no moves")
	}
}
