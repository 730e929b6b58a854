package referee

import (
	"testing"

	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamehandler"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/refereeargs"
	"github.com/chia-gaming/channel-core/validation"
)

// counterState is a tiny game: the readable move is "+N" and the state is
// the running total, used purely to exercise the referee's bookkeeping
// rather than to model anything resembling a real game.
func counterState(total uint64) puzzlevm.Program {
	return puzzlevm.EncodeUint64(total)
}

func acceptAllValidation() validation.Program {
	return puzzlevm.NativeProgram{
		Tag: puzzlevm.EncodeAtom([]byte("accept-all")),
		Func: func(solution puzzlevm.Program) (uint64, puzzlevm.Program, error) {
			return 0, validation.EncodeMoveOk(counterState(1)), nil
		},
	}
}

func slashingValidation() validation.Program {
	return puzzlevm.NativeProgram{
		Tag: puzzlevm.EncodeAtom([]byte("slash-all")),
		Func: func(solution puzzlevm.Program) (uint64, puzzlevm.Program, error) {
			return 0, validation.EncodeSlash(puzzlevm.EncodeAtom([]byte("cheat"))), nil
		},
	}
}

func testMod() refereeargs.RefereeMod {
	base := puzzlevm.EncodeAtom([]byte("counter-referee-mod"))
	return refereeargs.RefereeMod{
		ModHash: chiatypes.PuzzleHash(base.TreeHash()),
		Program: base,
	}
}

func newTestReferee(t *testing.T, moverIsUs bool) (*Referee, identity.Identity, identity.Identity) {
	t.Helper()
	us := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)
	them := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)

	moverPH, waiterPH := us.PuzzleHash, them.PuzzleHash
	myTag := gamehandler.TagMyTurn
	if !moverIsUs {
		moverPH, waiterPH = them.PuzzleHash, us.PuzzleHash
		myTag = gamehandler.TagTheirTurn
	}

	args := refereeargs.RefereePuzzleArgs{
		MoverPuzzleHash:  moverPH,
		WaiterPuzzleHash: waiterPH,
		Timeout:          100,
		Amount:           1000,
		Nonce:            1,
		MaxMoveSize:      64,
		MoverShare:       0,
	}

	myTurnHandler := func(in gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
		return gamehandler.MyTurnOutput{
			WaitingDriver: func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
				return gamehandler.TheirTurnOutput{
					Accepted:     true,
					ReadableMove: puzzlevm.EncodeAtom(in.MoveBytes),
					NewState:     counterState(1),
					NextMyTurnHandler: func(gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
						return gamehandler.MyTurnOutput{}, nil
					},
				}, nil
			},
			MoveBytes:          []byte("+1"),
			MoverShare:         400,
			MaxMoveSize:        64,
			OutgoingValidation: acceptAllValidation(),
			IncomingValidation: acceptAllValidation(),
		}, nil
	}
	theirTurnHandler := func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
		return gamehandler.TheirTurnOutput{
			Accepted:     true,
			ReadableMove: puzzlevm.EncodeAtom(in.MoveBytes),
			NewState:     counterState(1),
			NextMyTurnHandler: func(gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
				return gamehandler.MyTurnOutput{}, nil
			},
		}, nil
	}

	handler := gamehandler.NewMyTurnHandler(myTurnHandler)
	if myTag == gamehandler.TagTheirTurn {
		handler = gamehandler.NewTheirTurnHandler(theirTurnHandler)
	}

	params := Params{
		GameID:            chiatypes.GameID("game-1"),
		Mod:               testMod(),
		Evaluator:         puzzlevm.NativeEvaluator{},
		MyIdentity:        us,
		TheirPuzzle:       them.PuzzleHash,
		InitialArgs:       args,
		InitialState:      counterState(0),
		Handler:           handler,
		InitialValidation: acceptAllValidation(),
	}
	return New(params), us, them
}

func TestMyTurnMakeMoveProducesPendingAndWireData(t *testing.T) {
	r, _, _ := newTestReferee(t, true)
	if !r.IsMyTurn() {
		t.Fatal("expected my turn at game start")
	}
	wire, err := r.MyTurnMakeMove(puzzlevm.EncodeAtom([]byte("+1")), []byte("entropy"), 1)
	if err != nil {
		t.Fatalf("MyTurnMakeMove: %v", err)
	}
	if r.IsMyTurn() {
		t.Fatal("expected turn to flip to their-turn after our move")
	}
	if !r.ProcessingMyTurn() {
		t.Fatal("expected ProcessingMyTurn to be true while the move is pending")
	}
	if wire.Details.MoverShare != 400 {
		t.Fatalf("mover share = %d, want 400", wire.Details.MoverShare)
	}
	if wire.NewPuzzleHash != r.CurrentPuzzleHash() {
		t.Fatalf("wire puzzle hash does not match CurrentPuzzleHash")
	}
}

func TestMyTurnMakeMoveOutOfTurnFails(t *testing.T) {
	r, _, _ := newTestReferee(t, false)
	if _, err := r.MyTurnMakeMove(puzzlevm.EncodeAtom(nil), nil, 1); err == nil {
		t.Fatal("expected error calling MyTurnMakeMove when it is not our turn")
	}
}

func TestTheirTurnMoveOffChainAcceptsAndFlipsTurn(t *testing.T) {
	r, _, _ := newTestReferee(t, false)
	details := GameMoveDetails{MoveBytes: []byte("+1"), MoverShare: 250, MaxMoveSize: 64}
	result, err := r.TheirTurnMoveOffChain(details, 1, nil)
	if err != nil {
		t.Fatalf("TheirTurnMoveOffChain: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected move to be accepted")
	}
	if !r.IsMyTurn() {
		t.Fatal("expected turn to flip to our turn after accepting their move")
	}
	if r.ProcessingMyTurn() {
		t.Fatal("ProcessingMyTurn should be false once a move has been fully accepted")
	}
}

func TestTheirTurnMoveOffChainRejectsOversizedMove(t *testing.T) {
	r, _, _ := newTestReferee(t, false)
	details := GameMoveDetails{MoveBytes: make([]byte, 1000), MoverShare: 0, MaxMoveSize: 64}
	if _, err := r.TheirTurnMoveOffChain(details, 1, nil); err == nil {
		t.Fatal("expected oversized move to be rejected")
	}
}

func TestTheirTurnMoveOffChainRefusesWhenEvidenceWouldSlash(t *testing.T) {
	r, _, _ := newTestReferee(t, false)
	r.incomingValidation = slashingValidation()
	coin := chiatypes.CoinString{PuzzleHash: r.CurrentPuzzleHash(), Amount: r.args.Amount}

	theirTurnHandler := func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
		return gamehandler.TheirTurnOutput{
			Accepted:      true,
			SlashEvidence: []puzzlevm.Program{puzzlevm.EncodeAtom([]byte("evidence"))},
			NewState:      counterState(1),
		}, nil
	}
	r.handler = gamehandler.NewTheirTurnHandler(theirTurnHandler)

	details := GameMoveDetails{MoveBytes: []byte("+1"), MaxMoveSize: 64}
	if _, err := r.TheirTurnMoveOffChain(details, 1, &coin); err == nil {
		t.Fatal("expected slash evidence to refuse the off-chain move")
	}
}

func TestGetTransactionForMoveRequiresPending(t *testing.T) {
	r, _, _ := newTestReferee(t, true)
	coin := chiatypes.CoinString{PuzzleHash: r.CurrentPuzzleHash(), Amount: r.args.Amount}
	if _, err := r.GetTransactionForMove(coin); err == nil {
		t.Fatal("expected error with no pending move")
	}
	if _, err := r.MyTurnMakeMove(puzzlevm.EncodeAtom([]byte("+1")), nil, 1); err != nil {
		t.Fatalf("MyTurnMakeMove: %v", err)
	}
	tx, err := r.GetTransactionForMove(coin)
	if err != nil {
		t.Fatalf("GetTransactionForMove: %v", err)
	}
	if len(tx.Conditions) != 1 || tx.Conditions[0].Amount != r.args.Amount {
		t.Fatalf("expected a single create-coin condition for the full game amount, got %+v", tx.Conditions)
	}
}

func TestGetTransactionForTimeoutSplitsMoverAndWaiterShare(t *testing.T) {
	r, _, _ := newTestReferee(t, true)
	coin := chiatypes.CoinString{PuzzleHash: r.CurrentPuzzleHash(), Amount: r.args.Amount}
	if _, err := r.GetTransactionForTimeout(coin); err != nil {
		t.Fatalf("GetTransactionForTimeout: %v", err)
	}

	if _, err := r.MyTurnMakeMove(puzzlevm.EncodeAtom([]byte("+1")), nil, 1); err != nil {
		t.Fatalf("MyTurnMakeMove: %v", err)
	}
	tx, err := r.GetTransactionForTimeout(coin)
	if err != nil {
		t.Fatalf("GetTransactionForTimeout: %v", err)
	}
	if len(tx.Conditions) != 2 {
		t.Fatalf("expected mover-share and remainder conditions, got %+v", tx.Conditions)
	}
	total := tx.Conditions[0].Amount + tx.Conditions[1].Amount
	if total != r.args.Amount {
		t.Fatalf("conditions do not sum to the game amount: got %d want %d", total, r.args.Amount)
	}
}

func TestCheckTheirTurnForSlash(t *testing.T) {
	r, _, _ := newTestReferee(t, false)
	coin := chiatypes.CoinString{PuzzleHash: r.CurrentPuzzleHash(), Amount: r.args.Amount}

	if tx, err := r.CheckTheirTurnForSlash(puzzlevm.EncodeAtom(nil), coin); err != nil || tx != nil {
		t.Fatalf("expected no slash from an accept-all validator, got tx=%v err=%v", tx, err)
	}

	r.incomingValidation = slashingValidation()
	tx, err := r.CheckTheirTurnForSlash(puzzlevm.EncodeAtom([]byte("evidence")), coin)
	if err != nil {
		t.Fatalf("CheckTheirTurnForSlash: %v", err)
	}
	if tx == nil {
		t.Fatal("expected a slash transaction")
	}
	if tx.Conditions[0].Amount != r.args.Amount {
		t.Fatalf("slash should claim the full game amount, got %d", tx.Conditions[0].Amount)
	}
}

func TestRewindRestoresPriorSnapshotAndIsIdempotent(t *testing.T) {
	r, _, _ := newTestReferee(t, true)
	initialPH := r.CurrentPuzzleHash()

	if _, err := r.MyTurnMakeMove(puzzlevm.EncodeAtom([]byte("+1")), nil, 1); err != nil {
		t.Fatalf("MyTurnMakeMove: %v", err)
	}
	details := GameMoveDetails{MoveBytes: []byte("+1"), MoverShare: 400, MaxMoveSize: 64}
	if _, err := r.TheirTurnMoveOffChain(details, 2, nil); err != nil {
		t.Fatalf("TheirTurnMoveOffChain: %v", err)
	}
	if r.CurrentPuzzleHash() == initialPH {
		t.Fatal("expected puzzle hash to change after a full move round trip")
	}

	n, ok := r.Rewind(initialPH)
	if !ok {
		t.Fatal("expected rewind to find the initial snapshot")
	}
	if n != 0 {
		t.Fatalf("rewind returned state number %d, want 0", n)
	}
	if r.CurrentPuzzleHash() != initialPH {
		t.Fatal("rewind did not restore the initial puzzle hash")
	}

	n2, ok2 := r.Rewind(initialPH)
	if !ok2 || n2 != n {
		t.Fatalf("rewind is not idempotent: got (%d, %v), want (%d, true)", n2, ok2, n)
	}
}

func TestRewindReturnsFalseWhenNoSnapshotMatches(t *testing.T) {
	r, _, _ := newTestReferee(t, true)
	bogus := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("not-a-real-snapshot")))
	if _, ok := r.Rewind(bogus); ok {
		t.Fatal("expected rewind to report no match for an unknown puzzle hash")
	}
}
