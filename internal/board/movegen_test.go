package board

import "testing"

// perft counts leaf nodes of the legal move tree to the given depth.
func perft(p *Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	var nodes uint64
	ml := p.GenerateLegalMoves()
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		undo := p.MakeMove(m)
		nodes += perft(p, depth-1)
		p.UnmakeMove(m, undo)
	}
	return nodes
}

func TestPerftStartingPosition(t *testing.T) {
	expected := []uint64{1, 20, 400, 8902, 197281}

	pos := NewPosition()
	for depth, want := range expected {
		if got := perft(pos, depth); got != want {
			t.Errorf("perft(%d) = %d, want %d", depth, got, want)
		}
	}
}

func TestPerftKiwipete(t *testing.T) {
	// Kiwipete exercises castling, en passant and promotion paths.
	pos, err := ParseFEN("r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	expected := []uint64{1, 48, 2039, 97862}
	for depth, want := range expected {
		if got := perft(pos, depth); got != want {
			t.Errorf("perft(%d) = %d, want %d", depth, got, want)
		}
	}
}

func TestPerftEnPassantPin(t *testing.T) {
	// Position 3 from the CPW perft suite; heavy on en-passant legality.
	pos, err := ParseFEN("8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	expected := []uint64{1, 14, 191, 2812, 43238}
	for depth, want := range expected {
		if got := perft(pos, depth); got != want {
			t.Errorf("perft(%d) = %d, want %d", depth, got, want)
		}
	}
}

func TestCheckmateDetection(t *testing.T) {
	// Back rank mate: Black to move, no escape.
	pos, err := ParseFEN("R6k/6pp/8/8/8/8/8/K7 b - - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	if !pos.InCheck(Black) {
		t.Error("black should be in check")
	}
	if !pos.IsCheckmate() {
		t.Error("expected checkmate")
	}
	if pos.IsStalemate() {
		t.Error("checkmate is not stalemate")
	}
}

func TestNotCheckmateWhenKingCanCapture(t *testing.T) {
	pos, err := ParseFEN("6Rk/8/8/8/8/8/8/K7 b - - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	if pos.IsCheckmate() {
		t.Error("king can capture the rook")
	}
}

func TestStalemateDetection(t *testing.T) {
	pos, err := ParseFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	if pos.InCheck(Black) {
		t.Error("black is not in check")
	}
	if pos.HasLegalMoves() {
		ml := pos.GenerateLegalMoves()
		t.Errorf("black has %d legal moves, want 0", ml.Len())
	}
	if !pos.IsStalemate() {
		t.Error("expected stalemate")
	}
}

func TestInsufficientMaterial(t *testing.T) {
	cases := []struct {
		fen  string
		want bool
	}{
		{"4k3/8/8/8/8/8/8/4K3 w - - 0 1", true},                // K vs K
		{"4k3/8/8/8/8/8/8/2B1K3 w - - 0 1", true},              // K+B vs K
		{"4k3/8/8/8/8/8/8/1N2K3 b - - 0 1", true},              // K+N vs K
		{"1b2k3/8/8/8/8/8/8/2B1K3 w - - 0 1", true},            // both bishops on dark squares
		{"2b1k3/8/8/8/8/8/8/2B1K3 w - - 0 1", false},           // opposite-colored bishops
		{"4k3/8/8/8/8/8/8/1N2K1N1 w - - 0 1", false},           // two knights
		{"4k3/7p/8/8/8/8/8/4K3 w - - 0 1", false},              // pawn
		{"4k3/8/8/8/8/8/8/R3K3 w - - 0 1", false},              // rook
		{"3qk3/8/8/8/8/8/8/4K3 w - - 0 1", false},              // queen
		{StartFEN, false},
	}

	for _, c := range cases {
		pos, err := ParseFEN(c.fen)
		if err != nil {
			t.Fatalf("ParseFEN(%q): %v", c.fen, err)
		}
		if got := pos.IsInsufficientMaterial(); got != c.want {
			t.Errorf("IsInsufficientMaterial(%q) = %v, want %v", c.fen, got, c.want)
		}
	}
}

func TestCastlingRightsMonotone(t *testing.T) {
	pos, err := ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	// White castles kingside: white rights gone, black rights intact.
	undo := pos.MakeMove(NewCastling(E1, G1))
	if !undo.Valid {
		t.Fatal("castling move rejected")
	}
	if pos.CastlingRights.CanCastle(White, true) || pos.CastlingRights.CanCastle(White, false) {
		t.Error("white castling rights should be gone")
	}
	if !pos.CastlingRights.CanCastle(Black, true) || !pos.CastlingRights.CanCastle(Black, false) {
		t.Error("black castling rights should remain")
	}

	// Rook on f1 after O-O.
	if pos.PieceAt(F1) != WhiteRook || pos.PieceAt(G1) != WhiteKing {
		t.Error("O-O should leave Kg1 Rf1")
	}
}

func TestRookCaptureStripsCastlingRight(t *testing.T) {
	// White rook takes the a8 rook: black loses the queenside right.
	pos, err := ParseFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	undo := pos.MakeMove(NewMove(A1, A8))
	if !undo.Valid {
		t.Fatal("rook capture rejected")
	}
	if pos.CastlingRights.CanCastle(Black, false) {
		t.Error("a8 capture should strip black queenside right")
	}
	if !pos.CastlingRights.CanCastle(Black, true) {
		t.Error("black kingside right should remain")
	}
	if pos.CastlingRights.CanCastle(White, false) {
		t.Error("a1 vacated: white queenside right should be gone")
	}
}

func TestMakeUnmakeRestoresPosition(t *testing.T) {
	pos, err := ParseFEN("r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatal(err)
	}

	before := pos.ToFEN()
	ml := pos.GenerateLegalMoves()
	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		undo := pos.MakeMove(m)
		pos.UnmakeMove(m, undo)
		if after := pos.ToFEN(); after != before {
			t.Fatalf("make/unmake of %v corrupted position:\nbefore: %s\n after: %s", m, before, after)
		}
	}
}
