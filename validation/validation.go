// Package validation implements the validation-info hash (spec §3,
// "Validation program") and the StateUpdate result a validation program
// produces when run against a candidate move.
package validation

import (
	"fmt"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/puzzlevm"
)

// Program is a validation program: given a state, a move and optional
// slash evidence, it produces Ok(new_state) or Slash(evidence). It is an
// alias of puzzlevm.Program so the referee can invoke it through the same
// Evaluator used for every other puzzle, even though in practice a
// validation program in this Go rendering is always a NativeProgram
// wrapping an application-supplied closure (the real CLVM bytecode that
// would run on chain is external).
type Program = puzzlevm.Program

// InfoHash binds a validation program to the game state it validates from:
// H(H(validation_program) || H(state)). Two peers holding the same program
// and state always derive the same hash, which is what lets the referee
// puzzle args commit to "this move was validated against this state"
// without embedding either in full.
func InfoHash(program Program, state puzzlevm.Program) chiatypes.Hash {
	return chiatypes.HashConcat(program.TreeHash().Bytes(), state.TreeHash().Bytes())
}

// ResultKind distinguishes the two selectors a validation program may
// return. Per spec §4.1, a structural VM error during validator invocation
// is treated as MoveOk — only an explicit Slash selector slashes.
type ResultKind int

const (
	MoveOk ResultKind = iota
	Slash
)

// Result is the decoded output of running a validation program.
type Result struct {
	Kind     ResultKind
	NewState puzzlevm.Program // valid when Kind == MoveOk
	Evidence puzzlevm.Program // valid when Kind == Slash
}

// StateUpdateMoveArgs packages the solution passed to a validation program:
// the prior state, the mover's puzzle and its spend solution, and whatever
// slash evidence the caller wants tested.
type StateUpdateMoveArgs struct {
	State         puzzlevm.Program
	MoverPuzzle   puzzlevm.Program
	MoverSolution puzzlevm.Program
	Evidence      puzzlevm.Program
}

func (a StateUpdateMoveArgs) toSolution() puzzlevm.Program {
	return puzzlevm.EncodeList(a.State, a.MoverPuzzle, a.MoverSolution, a.Evidence)
}

// InternalValidatorArgs packages a validator invocation's inputs: the
// validator mod's hash (for puzzles that curry it in) and the move
// arguments. The referee puzzle args in force when the move was made are
// not part of it.
type InternalValidatorArgs struct {
	ValidatorModHash chiatypes.Hash
	MoveArgs         StateUpdateMoveArgs
}

// Run evaluates a validation program against the given move arguments and
// decodes its result. Selector 0 is MoveOk, selector 2 is Slash (matching
// the real referee's condition-list convention); anything else is a
// structural error. A VM-level error from the evaluator itself (as opposed
// to a result the program returned) is treated as MoveOk, per spec §4.1 —
// the v0 behavior this spec adopts, since validators are written to raise
// the slash signal rather than rely on a thrown error.
func Run(evaluator puzzlevm.Evaluator, program Program, args InternalValidatorArgs) (Result, error) {
	solution := puzzlevm.EncodeList(
		puzzlevm.EncodeAtom(args.ValidatorModHash.Bytes()),
		args.MoveArgs.toSolution(),
	)
	_, result, err := evaluator.Run(program, solution)
	if err != nil {
		return Result{Kind: MoveOk}, nil
	}
	return decodeResult(result)
}

func decodeResult(result puzzlevm.Program) (Result, error) {
	pair, ok := result.(puzzlevm.Pair)
	if !ok {
		return Result{}, fmt.Errorf("%w: validator result is not a (selector . payload) pair", chiaerr.ErrVM)
	}
	selectorAtom, ok := pair.First.(puzzlevm.Atom)
	if !ok || len(selectorAtom) != 1 {
		return Result{}, fmt.Errorf("%w: validator selector is not a single-byte atom", chiaerr.ErrVM)
	}
	switch selectorAtom[0] {
	case 0:
		return Result{Kind: MoveOk, NewState: pair.Second}, nil
	case 2:
		return Result{Kind: Slash, Evidence: pair.Second}, nil
	default:
		return Result{}, fmt.Errorf("%w: unknown validator selector %d", chiaerr.ErrVM, selectorAtom[0])
	}
}

// EncodeMoveOk and EncodeSlash build the condition-list shaped results a
// NativeProgram validator should return, matching the selector convention
// Run decodes above. Application-supplied validators (and this module's
// tests) use these instead of hand-rolling the pair.
func EncodeMoveOk(newState puzzlevm.Program) puzzlevm.Program {
	return puzzlevm.Pair{First: puzzlevm.Atom{0}, Second: newState}
}

func EncodeSlash(evidence puzzlevm.Program) puzzlevm.Program {
	return puzzlevm.Pair{First: puzzlevm.Atom{2}, Second: evidence}
}
