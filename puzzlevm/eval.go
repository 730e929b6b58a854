package puzzlevm

import (
	"fmt"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
)

// Runnable is implemented by the subset of Programs this Go rendering can
// actually execute locally: native closures standing in for a compiled
// validation program or game-handler program. Plain on-chain puzzles
// (Atom/Pair/Curried) intentionally do not implement it — running them is
// the external VM's job.
type Runnable interface {
	Program
	Run(solution Program) (cost uint64, result Program, err error)
}

// Evaluator is the run(program, solution) member of the VM bridge ABI.
type Evaluator interface {
	Run(program Program, solution Program) (cost uint64, result Program, err error)
}

// NativeEvaluator runs any Program implementing Runnable and reports every
// other Program as not locally executable, matching the spec's framing
// that puzzle evaluation for on-chain artifacts is an external concern.
type NativeEvaluator struct{}

func (NativeEvaluator) Run(program Program, solution Program) (uint64, Program, error) {
	r, ok := program.(Runnable)
	if !ok {
		return 0, nil, fmt.Errorf("%w: program %s is not locally runnable", chiaerr.ErrVM, program.TreeHash())
	}
	return r.Run(solution)
}

// NativeProgram adapts a Go closure into a Runnable Program. Tag is a
// caller-supplied value (typically itself a hash of the closure's logical
// identity) that stands in for the hash a real compiler would produce from
// the closure's source; two NativePrograms with equal tags are considered
// the same puzzle.
type NativeProgram struct {
	Tag  Program
	Func func(solution Program) (cost uint64, result Program, err error)
}

func (n NativeProgram) TreeHash() chiatypes.Hash { return n.Tag.TreeHash() }

func (n NativeProgram) Curry(args ...Program) Program {
	if len(args) == 0 {
		return n
	}
	return Curried{Base: n, Args: args}
}

func (n NativeProgram) Run(solution Program) (uint64, Program, error) {
	if n.Func == nil {
		return 0, nil, fmt.Errorf("%w: native program has no implementation", chiaerr.ErrVM)
	}
	return n.Func(solution)
}
