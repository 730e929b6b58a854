// Package channel implements the channel handler of spec §4.3: it ties the
// channel coin and unroll coin together with the set of concurrently live
// games, enforcing the balance, parity and monotonicity invariants as state
// mutates one potato message at a time. It is grounded on the teacher's
// consensus.Node, generalized from an N-party BFT quorum to the two-party,
// single-token (potato) mutual-exclusion scheme the spec describes.
package channel

import (
	"github.com/chia-gaming/channel-core/channelcoin"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/referee"
)

// PotatoSignatures is the pair of half-signatures exchanged on every
// potato-passing message: one over the channel coin's spend-to-unroll
// conditions, one over the unroll coin's own default-payout conditions.
type PotatoSignatures struct {
	ChannelHalf identity.Signature
	UnrollHalf  identity.Signature
}

// LiveGame is one game currently being played over the channel: its
// referee state machine plus the bookkeeping the channel handler needs to
// fold it into balance and unroll-payout computations.
type LiveGame struct {
	GameID                chiatypes.GameID
	Referee               *referee.Referee
	MyContribution        chiatypes.Amount
	TheirContribution     chiatypes.Amount
	LastRefereePuzzleHash chiatypes.PuzzleHash
	RewindOutcome         *uint64
}

func (g *LiveGame) Amount() chiatypes.Amount { return g.MyContribution + g.TheirContribution }

// Initiation is the caller-supplied configuration Initiate seeds a Handler
// from: both parties' keys and puzzle hashes, and the channel's funding.
type Initiation struct {
	LauncherCoinID chiatypes.CoinID

	OurChannelKey identity.PrivateKey
	OurUnrollKey  identity.PrivateKey
	OurRewardPH   chiatypes.PuzzleHash
	OurRefereePH  chiatypes.PuzzleHash

	TheirChannelPK  identity.PublicKey
	TheirUnrollPK   identity.PublicKey
	TheirRewardPH   chiatypes.PuzzleHash
	TheirRefereePH  chiatypes.PuzzleHash

	MyBalance         chiatypes.Amount
	TheirBalance      chiatypes.Amount
	ChannelCoinAmount chiatypes.Amount
	StartedWithPotato bool
}

// LastHopAction caches the most recent locally-originated mutation, so a
// rewind that discards it can be replayed (spec §4.4, "Cancellation /
// regeneration").
type LastHopAction struct {
	Kind        LastHopKind
	GameID      chiatypes.GameID
	Move        referee.GameMoveWireData
	AcceptShare chiatypes.Amount
}

type LastHopKind int

const (
	LastHopNone LastHopKind = iota
	LastHopCreatedGame
	LastHopMoveHappening
	LastHopAccept
)

type rewindEntry struct {
	StateNumber  uint64
	Snapshot     snapshot
	GamePuzzles  map[string]chiatypes.PuzzleHash
}

type snapshot struct {
	MyBalance         chiatypes.Amount
	TheirBalance      chiatypes.Amount
	HavePotato        bool
	CurrentStateNumber uint64
	NextNonce         chiatypes.Nonce
	Unroll            channelcoin.UnrollCoin
}
