// Package chiatypes holds the wire-level data model shared by every other
// package in this module: amounts, hashes, coin identities and the
// conditions a puzzle can output. None of these types know how to run a
// puzzle; they are the nouns the rest of the protocol operates on.
package chiatypes

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Amount, Timeout and Nonce are plain nonnegative integers, kept as
// distinct named types so a function signature documents intent.
type Amount uint64
type Timeout uint64
type Nonce uint64

// GameID is an opaque identifier, unique per channel, chosen by whichever
// side starts the game.
type GameID []byte

func (g GameID) String() string { return fmt.Sprintf("%x", []byte(g)) }

// Hash is a 32-byte digest, used both as a generic hash and, via the named
// aliases below, to tag specific roles a hash plays in the protocol.
type Hash [32]byte

func HashBytes(b []byte) Hash { return Hash(sha256.Sum256(b)) }

// HashConcat hashes the concatenation of its arguments, the idiom used
// throughout the spec for combining two already-hashed values
// (validation_info_hash, tree-hash pairs, ...).
func HashConcat(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash) Bytes() []byte { return h[:] }
func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }
func (h Hash) IsZero() bool {
	var zero Hash
	return h == zero
}

// PuzzleHash is a Hash known to be the tree hash of a puzzle (a curried
// program whose evaluation returns conditions).
type PuzzleHash Hash

func (p PuzzleHash) Hash() Hash     { return Hash(p) }
func (p PuzzleHash) Bytes() []byte  { return p[:] }
func (p PuzzleHash) String() string { return Hash(p).String() }

// CoinID identifies a coin: the hash of its CoinString.
type CoinID Hash

func (c CoinID) Bytes() []byte  { return c[:] }
func (c CoinID) String() string { return Hash(c).String() }

// CoinString is (parent, puzzle_hash, amount); CoinID is its hash.
type CoinString struct {
	Parent     CoinID
	PuzzleHash PuzzleHash
	Amount     Amount
}

// ID computes the CoinID of this coin: hash(parent || puzzle_hash || amount).
func (c CoinString) ID() CoinID {
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(c.Amount))
	return CoinID(HashConcat(c.Parent.Bytes(), c.PuzzleHash.Bytes(), amt[:]))
}

func (c CoinString) String() string {
	return fmt.Sprintf("coin(parent=%s ph=%s amount=%d)", c.Parent, c.PuzzleHash, c.Amount)
}

// ConditionOpcode enumerates the condition kinds this protocol's puzzles are
// expected to emit. The real CLVM condition space is much larger; the core
// only ever inspects these three.
type ConditionOpcode int

const (
	OpUnknown ConditionOpcode = iota
	OpCreateCoin
	OpRem
	OpAggSigMe
)

// Condition is one entry of a puzzle's output condition list.
type Condition struct {
	Opcode ConditionOpcode

	// CREATE_COIN: puzzle hash and amount of the coin to create.
	PuzzleHash PuzzleHash
	Amount     Amount

	// REM: opaque payload, used here to carry a state number or move.
	Payload []byte

	// AGG_SIG_ME: the public key and message the signature must cover.
	PublicKey []byte
	Message   []byte
}

func CreateCoin(ph PuzzleHash, amount Amount) Condition {
	return Condition{Opcode: OpCreateCoin, PuzzleHash: ph, Amount: amount}
}

func Rem(payload []byte) Condition {
	return Condition{Opcode: OpRem, Payload: payload}
}

func AggSigMe(pubKey, message []byte) Condition {
	return Condition{Opcode: OpAggSigMe, PublicKey: pubKey, Message: message}
}

// FindCreateCoins returns every CREATE_COIN condition in order.
func FindCreateCoins(conditions []Condition) []Condition {
	out := make([]Condition, 0, len(conditions))
	for _, c := range conditions {
		if c.Opcode == OpCreateCoin {
			out = append(out, c)
		}
	}
	return out
}

// FindRem returns the payload of the first REM condition, if any.
func FindRem(conditions []Condition) ([]byte, bool) {
	for _, c := range conditions {
		if c.Opcode == OpRem {
			return c.Payload, true
		}
	}
	return nil, false
}

// ConditionsHash hashes a condition list in order, the value every coin
// spend's AGG_SIG_ME signature actually covers.
func ConditionsHash(conditions []Condition) Hash {
	h := sha256.New()
	for _, c := range conditions {
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], uint64(c.Amount))
		h.Write([]byte{byte(c.Opcode)})
		h.Write(c.PuzzleHash.Bytes())
		h.Write(amt[:])
		h.Write(c.Payload)
		h.Write(c.PublicKey)
		h.Write(c.Message)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
