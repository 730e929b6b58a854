// Package referee implements the per-game referee state machine (spec §4.1):
// the mover/waiter tracking, on-chain transaction construction and rewind
// support that sits between one channel's games and the channel handler
// driving them. It is grounded on domain/poker.StateMachine's snapshot/apply
// discipline, generalized from a single poker hand to an arbitrary game
// whose rules live entirely behind a gamehandler.Handler.
package referee

import (
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamehandler"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/refereeargs"
	"github.com/chia-gaming/channel-core/validation"
)

// GameMoveDetails is the payload half of a move message: what changes about
// the referee puzzle args as a result of this move, independent of whose
// move it was or how it is transported.
type GameMoveDetails struct {
	MoveBytes          []byte
	MoverShare         chiatypes.Amount
	MaxMoveSize        int
	ValidationInfoHash chiatypes.Hash
}

// GameMoveWireData is everything my_turn_make_move hands back to its caller:
// the move itself, plus the puzzle hash the referee coin will have once the
// move is accepted, so the caller can tell its peer what to expect on chain.
type GameMoveWireData struct {
	GameID        chiatypes.GameID
	NewPuzzleHash chiatypes.PuzzleHash
	Details       GameMoveDetails
	MessageParser gamehandler.MessageParser
}

// TheirTurnMoveResult is the outcome of accepting (or refusing) a peer's
// move off chain.
type TheirTurnMoveResult struct {
	Accepted      bool
	ReadableMove  puzzlevm.Program
	Message       []byte
	NewPuzzleHash chiatypes.PuzzleHash
}

// OnChainRefereeSolution is the solution half of a referee coin spend: the
// signed transaction plus the conditions it produces, independent of
// whichever of the three spend paths (move, timeout, slash) produced it.
type OnChainRefereeSolution struct {
	Coin       chiatypes.CoinString
	Conditions []chiatypes.Condition
	Signature  identity.Signature
}

// Params bundles a Referee's fixed configuration: everything that does not
// change as the game is played.
type Params struct {
	GameID       chiatypes.GameID
	Mod          refereeargs.RefereeMod
	Evaluator    puzzlevm.Evaluator
	MyIdentity   identity.Identity
	TheirPuzzle  chiatypes.PuzzleHash
	InitialArgs  refereeargs.RefereePuzzleArgs
	InitialState puzzlevm.Program
	Handler      gamehandler.Handler

	// InitialValidation is the validation program guarding the very first
	// move of the game, from whichever side is the initial waiter's
	// perspective (i.e. the program that would validate the mover's first
	// move against InitialState).
	InitialValidation validation.Program
}

type pendingMyTurn struct {
	SpendThisCoinArgs refereeargs.RefereePuzzleArgs
	Result            gamehandler.MyTurnOutput
}

type snapshot struct {
	StateNumber uint64
	Args        refereeargs.RefereePuzzleArgs
	State       puzzlevm.Program
	Handler     gamehandler.Handler
	Pending     *pendingMyTurn
	Validation  validation.Program
}
