// Package puzzlevm is the VM bridge described in spec §6: it gives the rest
// of the core a way to tree-hash and curry opaque puzzle programs, and a
// narrow Evaluator interface for running them. The evaluator that actually
// executes compiled CLVM-style bytecode is an external collaborator and out
// of scope; this package only supplies the program representation plus a
// reference Evaluator that can run the Go-native "compiled artifacts" this
// module's tests and demo use in place of real puzzle source.
package puzzlevm

import (
	"encoding/binary"

	"github.com/chia-gaming/channel-core/chiatypes"
)

// Program is an opaque compiled artifact: it can always be tree-hashed and
// curried, whether or not it can be run locally.
type Program interface {
	TreeHash() chiatypes.Hash
	Curry(args ...Program) Program
}

// atomTag and pairTag match the standard CLVM sha256tree convention: an
// atom hashes its tagged bytes, a pair hashes the tag plus both children's
// hashes. Byte-for-byte compatibility with a real CLVM tree hash is not
// required here (the VM itself is external), but the shape is kept
// identical so curried puzzle-hash derivation behaves the way the spec
// describes: deterministic and order-sensitive.
const (
	atomTag byte = 1
	pairTag byte = 2
)

// Atom is a leaf program: a plain byte string.
type Atom []byte

func EncodeAtom(b []byte) Program { return Atom(append([]byte(nil), b...)) }

func (a Atom) TreeHash() chiatypes.Hash {
	return chiatypes.HashConcat([]byte{atomTag}, []byte(a))
}

func (a Atom) Curry(args ...Program) Program {
	if len(args) == 0 {
		return a
	}
	return Curried{Base: a, Args: args}
}

// Pair is a cons cell of two programs.
type Pair struct {
	First, Second Program
}

func EncodePair(first, second Program) Program { return Pair{First: first, Second: second} }

func (p Pair) TreeHash() chiatypes.Hash {
	return chiatypes.HashConcat([]byte{pairTag}, p.First.TreeHash().Bytes(), p.Second.TreeHash().Bytes())
}

func (p Pair) Curry(args ...Program) Program {
	if len(args) == 0 {
		return p
	}
	return Curried{Base: p, Args: args}
}

// EncodeList builds a right-nested list of programs terminated by a nil
// atom, the conventional CLVM list representation, used when a puzzle's
// solution or curried arguments are naturally a sequence.
func EncodeList(items ...Program) Program {
	var list Program = Atom(nil)
	for i := len(items) - 1; i >= 0; i-- {
		list = Pair{First: items[i], Second: list}
	}
	return list
}

// EncodeUint64 is a convenience atom encoding for the integer fields that
// appear throughout referee puzzle args (amounts, timeouts, nonces).
func EncodeUint64(v uint64) Program {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return Atom(b[:])
}

// Curried represents the result of applying curry to a base program with a
// fixed prefix of arguments. Its tree hash folds in the base and every
// argument's hash, in order, so that two currying operations over the same
// base and argument values always produce the same puzzle hash — the
// invariant the referee puzzle args computation in package refereeargs
// depends on.
type Curried struct {
	Base Program
	Args []Program
}

func (c Curried) TreeHash() chiatypes.Hash {
	parts := make([][]byte, 0, len(c.Args)+2)
	parts = append(parts, []byte("curry"), c.Base.TreeHash().Bytes())
	for _, a := range c.Args {
		parts = append(parts, a.TreeHash().Bytes())
	}
	return chiatypes.HashConcat(parts...)
}

func (c Curried) Curry(args ...Program) Program {
	if len(args) == 0 {
		return c
	}
	return Curried{Base: c, Args: append(append([]Program(nil), c.Args...), args...)}
}

// Curry is the free-function form of the ABI's curry(program, args*).
func Curry(base Program, args ...Program) Program {
	return base.Curry(args...)
}

// TreeHash is the free-function form of the ABI's tree_hash(program).
func TreeHash(p Program) chiatypes.Hash { return p.TreeHash() }
