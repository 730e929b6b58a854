package referee

import (
	"fmt"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamehandler"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/refereeargs"
	"github.com/chia-gaming/channel-core/validation"
)

// Referee tracks one game's on-chain referee coin across a channel's
// lifetime. It is not safe for concurrent use; the channel handler that
// owns it serializes all access (spec §5, one referee per live game, driven
// by a single channel handler goroutine).
type Referee struct {
	params Params

	args               refereeargs.RefereePuzzleArgs
	state              puzzlevm.Program
	handler            gamehandler.Handler
	incomingValidation validation.Program
	pending            *pendingMyTurn

	history []snapshot
}

// New constructs a Referee at state number 0, the Initial phase of spec
// §4.1: no moves made yet, args_for_this_coin is exactly the game's
// bootstrap args.
func New(p Params) *Referee {
	r := &Referee{
		params:             p,
		args:               p.InitialArgs,
		state:              p.InitialState,
		handler:            p.Handler,
		incomingValidation: p.InitialValidation,
	}
	r.snapshotAt(0)
	return r
}

func (r *Referee) snapshotAt(stateNumber uint64) {
	r.history = append(r.history, snapshot{
		StateNumber: stateNumber,
		Args:        r.args,
		State:       r.state,
		Handler:     r.handler,
		Pending:     r.pending,
		Validation:  r.incomingValidation,
	})
}

// IsMyTurn reports whether the next move is ours to make.
func (r *Referee) IsMyTurn() bool { return r.handler.IsMyTurn() }

// ProcessingMyTurn reports whether we have already made a move that is
// still awaiting the peer's off-chain acceptance or on-chain resolution
// (the AfterOurTurn phase of spec §4.1).
func (r *Referee) ProcessingMyTurn() bool { return r.pending != nil }

// CurrentPuzzleHash is the puzzle hash of the referee coin currently (or
// about to be) live on chain: args_for_this_coin while resting, or
// spend_this_coin args while a move is pending acceptance.
func (r *Referee) CurrentPuzzleHash() chiatypes.PuzzleHash {
	if r.pending != nil {
		return r.pending.SpendThisCoinArgs.PuzzleHash(r.params.Mod)
	}
	return r.args.PuzzleHash(r.params.Mod)
}

// MyTurnMakeMove runs the my-turn handler and advances the referee into the
// AfterOurTurn phase, producing the wire data to send to the peer.
//
// Preconditions: IsMyTurn() (spec §4.1, my_turn_make_move).
func (r *Referee) MyTurnMakeMove(readableMove puzzlevm.Program, newEntropy []byte, stateNumber uint64) (GameMoveWireData, error) {
	if !r.IsMyTurn() {
		return GameMoveWireData{}, fmt.Errorf("%w: my_turn_make_move called out of turn", chiaerr.ErrBadState)
	}

	input := gamehandler.MyTurnInput{
		ReadableMove:    readableMove,
		NewEntropy:      newEntropy,
		Amount:          r.args.Amount,
		LastMove:        r.args.MoveMade,
		LastMoverShare:  r.args.MoverShare,
		LastMaxMoveSize: r.args.MaxMoveSize,
	}
	output, err := r.handler.MyTurn(input)
	if err != nil {
		return GameMoveWireData{}, fmt.Errorf("%w: my-turn handler: %v", chiaerr.ErrBadState, err)
	}

	nextArgs := r.args.SwapSides()
	nextArgs.MoveMade = output.MoveBytes
	nextArgs.MaxMoveSize = output.MaxMoveSize
	nextArgs.MoverShare = output.MoverShare
	nextArgs.ValidationInfoHash = validation.InfoHash(output.OutgoingValidation, r.state)
	prevVI := r.args.ValidationInfoHash
	nextArgs.PreviousValidationInfoHash = &prevVI

	r.pending = &pendingMyTurn{SpendThisCoinArgs: nextArgs, Result: output}
	r.handler = gamehandler.NewTheirTurnHandler(output.WaitingDriver)
	r.incomingValidation = output.IncomingValidation
	r.snapshotAt(stateNumber)

	return GameMoveWireData{
		GameID:        r.params.GameID,
		NewPuzzleHash: nextArgs.PuzzleHash(r.params.Mod),
		Details: GameMoveDetails{
			MoveBytes:          output.MoveBytes,
			MoverShare:         output.MoverShare,
			MaxMoveSize:        output.MaxMoveSize,
			ValidationInfoHash: nextArgs.ValidationInfoHash,
		},
		MessageParser: output.MessageParser,
	}, nil
}

// TheirTurnMoveOffChain accepts (or refuses) a move the peer claims to have
// made. If coin is non-nil, every slash_evidence the their-turn handler
// returns is exercised against the cached incoming validation program
// before the move is trusted off chain; a program that would slash refuses
// the move even though the handler itself accepted it.
//
// Preconditions: !IsMyTurn() (their turn pending; spec §4.1,
// their_turn_move_off_chain).
func (r *Referee) TheirTurnMoveOffChain(details GameMoveDetails, stateNumber uint64, coin *chiatypes.CoinString) (TheirTurnMoveResult, error) {
	if r.IsMyTurn() {
		return TheirTurnMoveResult{}, fmt.Errorf("%w: their_turn_move_off_chain called out of turn", chiaerr.ErrBadState)
	}
	// The peer's move follows the args our own pending move (if any)
	// produced, i.e. spend_this_coin, not the args of the coin it spends.
	base := r.args
	if r.pending != nil {
		base = r.pending.SpendThisCoinArgs
	}
	if len(details.MoveBytes) > base.MaxMoveSize {
		return TheirTurnMoveResult{}, fmt.Errorf("%w: move of %d bytes exceeds max_move_size %d",
			chiaerr.ErrProtocolViolation, len(details.MoveBytes), base.MaxMoveSize)
	}

	input := gamehandler.TheirTurnInput{
		MoveBytes:  details.MoveBytes,
		MoverShare: details.MoverShare,
		State:      r.state,
	}
	output, err := r.handler.TheirTurn(input)
	if err != nil {
		return TheirTurnMoveResult{}, fmt.Errorf("%w: their-turn handler: %v", chiaerr.ErrGameMoveRejected, err)
	}
	if !output.Accepted {
		return TheirTurnMoveResult{Accepted: false, Message: output.Message}, fmt.Errorf("%w: move rejected by game rules", chiaerr.ErrGameMoveRejected)
	}

	if coin != nil {
		for _, evidence := range output.SlashEvidence {
			result, err := validation.Run(r.params.Evaluator, r.incomingValidation, validation.InternalValidatorArgs{
				ValidatorModHash: chiatypes.Hash(r.params.Mod.ModHash),
				MoveArgs: validation.StateUpdateMoveArgs{
					State:         r.state,
					MoverPuzzle:   puzzlevm.EncodeAtom(details.MoveBytes),
					MoverSolution: puzzlevm.EncodeAtom(nil),
					Evidence:      evidence,
				},
			})
			if err != nil {
				return TheirTurnMoveResult{}, err
			}
			if result.Kind == validation.Slash {
				return TheirTurnMoveResult{}, fmt.Errorf("%w: validator would slash this move", chiaerr.ErrSlashableOffChain)
			}
		}
	}

	nextArgs := base.SwapSides()
	nextArgs.MoveMade = details.MoveBytes
	nextArgs.MoverShare = details.MoverShare
	nextArgs.MaxMoveSize = details.MaxMoveSize
	nextArgs.ValidationInfoHash = details.ValidationInfoHash
	prevVI := base.ValidationInfoHash
	nextArgs.PreviousValidationInfoHash = &prevVI

	r.args = nextArgs
	r.state = output.NewState
	r.handler = gamehandler.NewMyTurnHandler(output.NextMyTurnHandler)
	r.pending = nil
	r.snapshotAt(stateNumber)

	return TheirTurnMoveResult{
		Accepted:      true,
		ReadableMove:  output.ReadableMove,
		Message:       output.Message,
		NewPuzzleHash: nextArgs.PuzzleHash(r.params.Mod),
	}, nil
}

// GetTransactionForMove builds the signed spend that puts our pending move
// on chain: it recreates the referee coin at spend_this_coin's puzzle hash
// with the game's full amount, signed over that coin's id.
//
// Preconditions: ProcessingMyTurn() (spec §4.1, get_transaction_for_move).
func (r *Referee) GetTransactionForMove(coin chiatypes.CoinString) (OnChainRefereeSolution, error) {
	if r.pending == nil {
		return OnChainRefereeSolution{}, fmt.Errorf("%w: get_transaction_for_move with no pending move", chiaerr.ErrBadState)
	}
	newPH := r.pending.SpendThisCoinArgs.PuzzleHash(r.params.Mod)
	conditions := []chiatypes.Condition{chiatypes.CreateCoin(newPH, r.args.Amount)}
	return r.signSpend(coin, conditions)
}

// GetTransactionForTimeout builds the spend that claims a timed-out
// referee coin: mover_share to the mover, the remainder to the waiter, per
// whichever args are currently live on chain. Returns (zero, nil) when the
// live mover_share is zero — there is nothing to claim.
//
// Preconditions: spec §4.1, get_transaction_for_timeout.
func (r *Referee) GetTransactionForTimeout(coin chiatypes.CoinString) (OnChainRefereeSolution, error) {
	live := r.args
	if r.pending != nil {
		live = r.pending.SpendThisCoinArgs
	}
	if live.MoverShare == 0 {
		return OnChainRefereeSolution{}, nil
	}
	conditions := []chiatypes.Condition{
		chiatypes.CreateCoin(live.MoverPuzzleHash, live.MoverShare),
	}
	if remainder := live.Amount - live.MoverShare; remainder > 0 {
		conditions = append(conditions, chiatypes.CreateCoin(live.WaiterPuzzleHash, remainder))
	}
	return r.signSpend(coin, conditions)
}

// CheckTheirTurnForSlash runs our cached incoming validation program
// against evidence of an on-chain move and, if it slashes, builds the spend
// that claims the full game amount for us.
//
// Preconditions: spec §4.1, check_their_turn_for_slash.
func (r *Referee) CheckTheirTurnForSlash(evidence puzzlevm.Program, coin chiatypes.CoinString) (*OnChainRefereeSolution, error) {
	result, err := validation.Run(r.params.Evaluator, r.incomingValidation, validation.InternalValidatorArgs{
		ValidatorModHash: chiatypes.Hash(r.params.Mod.ModHash),
		MoveArgs: validation.StateUpdateMoveArgs{
			State:         r.state,
			MoverPuzzle:   puzzlevm.EncodeAtom(nil),
			MoverSolution: puzzlevm.EncodeAtom(nil),
			Evidence:      evidence,
		},
	})
	if err != nil {
		return nil, err
	}
	if result.Kind != validation.Slash {
		return nil, nil
	}
	conditions := []chiatypes.Condition{chiatypes.CreateCoin(r.params.MyIdentity.PuzzleHash, r.args.Amount)}
	tx, err := r.signSpend(coin, conditions)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *Referee) signSpend(coin chiatypes.CoinString, conditions []chiatypes.Condition) (OnChainRefereeSolution, error) {
	conditionsHash := chiatypes.ConditionsHash(conditions)
	sig, err := identity.Sign(r.params.MyIdentity.SyntheticPrivateKey, coin.ID(), conditionsHash)
	if err != nil {
		return OnChainRefereeSolution{}, fmt.Errorf("%w: signing referee spend: %v", chiaerr.ErrWallet, err)
	}
	return OnChainRefereeSolution{Coin: coin, Conditions: conditions, Signature: sig}, nil
}

// Rewind scans history newest-first for the snapshot whose args_for_this_coin
// curries to wantPuzzleHash AND whose stored phase is my-turn, reverts the
// referee to it (discarding every snapshot newer than the match) and returns
// its state number. Returns (0, false) if no snapshot matches.
//
// Calling Rewind again immediately afterward with the same wantPuzzleHash
// is idempotent: the matched snapshot is now the newest entry, so the same
// newest-first scan finds it again first.
func (r *Referee) Rewind(wantPuzzleHash chiatypes.PuzzleHash) (uint64, bool) {
	for i := len(r.history) - 1; i >= 0; i-- {
		snap := r.history[i]
		if snap.Args.PuzzleHash(r.params.Mod) != wantPuzzleHash {
			continue
		}
		if !snap.Handler.IsMyTurn() {
			// Puzzle-hash collisions across a swap-sides transition can
			// match a their-turn snapshot; only a my-turn snapshot lets
			// the caller regenerate the next move, so keep scanning.
			continue
		}
		r.history = r.history[:i+1]
		r.args = snap.Args
		r.state = snap.State
		r.handler = snap.Handler
		r.pending = snap.Pending
		r.incomingValidation = snap.Validation
		return snap.StateNumber, true
	}
	return 0, false
}
