package board

import "testing"

func TestFENRoundTrip(t *testing.T) {
	fens := []string{
		StartFEN,
		"rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2",
		"r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq - 0 4",
		"7k/5Q2/6K1/8/8/8/8/8 b - - 0 1",
		"8/8/8/8/8/8/8/K6k w - - 12 34",
		"r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 4 20",
		"4k3/8/8/8/8/8/8/4K2R w K - 0 1",
	}

	for _, fen := range fens {
		pos, err := ParseFEN(fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", fen, err)
		}
		if got := pos.ToFEN(); got != fen {
			t.Errorf("round trip mismatch:\n in: %s\nout: %s", fen, got)
		}
	}
}

func TestParseFENErrors(t *testing.T) {
	bad := []string{
		"",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1",  // 7 ranks
		"rnbqkbnr/pppppppp/9/8/8/8/8/RNBQKBNR w KQkq - 0 1", // overfull rank
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w XX - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq e9 0 1",
	}

	for _, fen := range bad {
		if _, err := ParseFEN(fen); err == nil {
			t.Errorf("ParseFEN(%q): expected error", fen)
		}
	}
}

func TestFENPrefix(t *testing.T) {
	pos, err := ParseFEN("rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6 7 2")
	if err != nil {
		t.Fatal(err)
	}

	want := "rnbqkbnr/ppp1pppp/8/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6"
	if got := pos.FENPrefix(); got != want {
		t.Errorf("FENPrefix = %q, want %q", got, want)
	}
}

func TestRepetitionKeyIgnoresClocks(t *testing.T) {
	a, _ := ParseFEN("4k3/8/8/8/8/8/8/4K3 w - - 0 1")
	b, _ := ParseFEN("4k3/8/8/8/8/8/8/4K3 w - - 40 77")
	c, _ := ParseFEN("4k3/8/8/8/8/8/8/4K3 b - - 0 1")

	if a.RepetitionKey() != b.RepetitionKey() {
		t.Error("clocks must not affect the repetition key")
	}
	if a.RepetitionKey() == c.RepetitionKey() {
		t.Error("side to move must affect the repetition key")
	}
}

func TestParseSquareRoundTrip(t *testing.T) {
	for sq := A1; sq <= H8; sq++ {
		got, err := ParseSquare(sq.String())
		if err != nil {
			t.Fatalf("ParseSquare(%q): %v", sq.String(), err)
		}
		if got != sq {
			t.Errorf("ParseSquare(%q) = %v, want %v", sq.String(), got, sq)
		}
	}

	for _, s := range []string{"", "e", "e44", "i4", "a0", "a9"} {
		if _, err := ParseSquare(s); err == nil {
			t.Errorf("ParseSquare(%q): expected error", s)
		}
	}
}

func TestStartingPosition(t *testing.T) {
	pos := NewPosition()

	if err := pos.Validate(); err != nil {
		t.Fatal(err)
	}
	if pos.SideToMove != White {
		t.Error("white moves first")
	}
	if pos.CastlingRights != AllCastling {
		t.Errorf("castling rights = %v, want KQkq", pos.CastlingRights)
	}
	if pos.KingSquare[White] != E1 || pos.KingSquare[Black] != E8 {
		t.Errorf("king squares = %v/%v", pos.KingSquare[White], pos.KingSquare[Black])
	}
	if pos.AllOccupied.PopCount() != 32 {
		t.Errorf("occupied squares = %d, want 32", pos.AllOccupied.PopCount())
	}
}
