// Package chiaerr defines the closed set of error kinds the channel core can
// raise, mirroring the taxonomy the protocol needs to decide what survives a
// failure (the game, the channel, or neither).
package chiaerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrX) for context, and
// unwrap with errors.Is.
var (
	// ErrProtocolViolation means the peer sent a structurally malformed
	// message, a signature that didn't verify, or a potato pass with a
	// non-monotonic state number. Fatal to the channel.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrGameMoveRejected means our move or theirs violated game
	// semantics. Fatal to the game only; the channel survives.
	ErrGameMoveRejected = errors.New("game move rejected")

	// ErrSlashableOffChain means the peer's move would slash if
	// presented on chain; the core demands on-chain escalation rather
	// than accepting it off-chain.
	ErrSlashableOffChain = errors.New("move is slashable, must go on-chain")

	// ErrBadState means an internal invariant was violated, e.g.
	// accept-their-move was called in the wrong phase. Programming
	// error; surfaced as fatal.
	ErrBadState = errors.New("bad internal state")

	// ErrVM means the evaluator failed structurally, as opposed to
	// returning an explicit Slash selector.
	ErrVM = errors.New("vm evaluation error")

	// ErrWallet wraps errors propagated from the external wallet/chain
	// interfaces; the core does not interpret them.
	ErrWallet = errors.New("wallet error")
)
