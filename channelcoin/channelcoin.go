// Package channelcoin implements the unroll coin and channel coin designs of
// spec §4.2: the unilateral-exit default payout and the 2-of-2 coin that
// spends to it. Both are grounded on identity's BLS signing (unsafe partial
// for the unroll coin, AGG_SIG_ME for the channel coin) and chiatypes'
// condition/coin model; neither knows anything about games or the potato
// protocol above it.
package channelcoin

import (
	"fmt"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/identity"
)

// GamePayout is one live game's slice of the unroll default payout: the
// game's current referee puzzle hash and the amount locked into it.
type GamePayout struct {
	RefereePuzzleHash chiatypes.PuzzleHash
	Amount            chiatypes.Amount
}

// Outcome is the most recent conditions/hash/signature an unroll or channel
// coin update produced.
type Outcome struct {
	Conditions []chiatypes.Condition
	Hash       chiatypes.Hash
	Signature  identity.Signature
}

// UnrollCoin computes the default unilateral-exit payout at a given state
// number and half-signs it with an unsafe (non-AGG_SIG_ME) signature, since
// the unroll coin's identity is already implicit in the curried unroll
// puzzle (spec §4.2).
type UnrollCoin struct {
	StartedWithPotato bool
	StateNumber       uint64
	Outcome           *Outcome
}

// BuildConditions renders the unroll default conditions in the canonical
// order spec §4.2 requires: the potato-starter's referee-style payout
// first, the peer's second, one CREATE_COIN per live game in the order
// given, then a REM carrying the state number (so an on-chain observer can
// order competing unrolls by state number).
func BuildConditions(startedWithPotato bool, stateNumber uint64, ourPH chiatypes.PuzzleHash, ourBalance chiatypes.Amount, theirPH chiatypes.PuzzleHash, theirBalance chiatypes.Amount, games []GamePayout) []chiatypes.Condition {
	first, firstAmt, second, secondAmt := ourPH, ourBalance, theirPH, theirBalance
	if !startedWithPotato {
		first, firstAmt, second, secondAmt = theirPH, theirBalance, ourPH, ourBalance
	}
	conditions := make([]chiatypes.Condition, 0, 3+len(games))
	conditions = append(conditions, chiatypes.CreateCoin(first, firstAmt), chiatypes.CreateCoin(second, secondAmt))
	for _, g := range games {
		conditions = append(conditions, chiatypes.CreateCoin(g.RefereePuzzleHash, g.Amount))
	}
	b := stateNumberBytes(stateNumber)
	conditions = append(conditions, chiatypes.Rem(b[:]))
	return conditions
}

func stateNumberBytes(stateNumber uint64) [8]byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(stateNumber >> (8 * i))
	}
	return b
}

// Update recomputes the unroll coin's default payout for the given
// parameters, signs it with our unroll private key (unsafe, no AGG_SIG_ME
// domain), and stores the result as the coin's current Outcome.
func (u *UnrollCoin) Update(ourUnrollKey identity.PrivateKey, ourPH chiatypes.PuzzleHash, ourBalance chiatypes.Amount, theirPH chiatypes.PuzzleHash, theirBalance chiatypes.Amount, games []GamePayout) error {
	conditions := BuildConditions(u.StartedWithPotato, u.StateNumber, ourPH, ourBalance, theirPH, theirBalance, games)
	hash := chiatypes.ConditionsHash(conditions)
	sig, err := identity.UnsafeSignPartial(ourUnrollKey, hash.Bytes())
	if err != nil {
		return fmt.Errorf("%w: signing unroll conditions: %v", chiaerr.ErrWallet, err)
	}
	u.Outcome = &Outcome{Conditions: conditions, Hash: hash, Signature: sig}
	return nil
}

// Verify aggregates the peer's unsafe signature with our own over the
// currently computed conditions hash and checks it against the aggregate
// unroll public key. Update must have been called first.
func (u *UnrollCoin) Verify(aggregateUnrollPK identity.PublicKey, ourSig, theirSig identity.Signature) (bool, error) {
	if u.Outcome == nil {
		return false, fmt.Errorf("%w: verify called before unroll coin was updated", chiaerr.ErrBadState)
	}
	agg, err := identity.Aggregate(ourSig, theirSig)
	if err != nil {
		return false, fmt.Errorf("%w: aggregating unroll signatures: %v", chiaerr.ErrWallet, err)
	}
	return identity.VerifyUnsafe(aggregateUnrollPK, u.Outcome.Hash.Bytes(), agg), nil
}

// PuzzleHash derives the curried unroll puzzle's tree hash from its current
// Outcome and state number. Update must have been called first.
func (u *UnrollCoin) PuzzleHash() (chiatypes.PuzzleHash, error) {
	if u.Outcome == nil {
		return chiatypes.PuzzleHash{}, fmt.Errorf("%w: unroll coin has no outcome yet", chiaerr.ErrBadState)
	}
	b := stateNumberBytes(u.StateNumber)
	return chiatypes.PuzzleHash(chiatypes.HashConcat([]byte("unroll-puzzle"), u.Outcome.Hash.Bytes(), b[:])), nil
}

// ChannelCoin is the 2-of-2 coin locking the channel's funds. Its puzzle
// hash is the standard puzzle for the aggregate of both parties' channel
// public keys (spec §4.2); that aggregation happens in package identity,
// this type only tracks the coin itself and builds/signs its spends.
type ChannelCoin struct {
	Coin chiatypes.CoinString
}

// SpendToUnroll builds the channel coin's single spend path: a REM of the
// state number followed by one CREATE_COIN to the curried unroll puzzle
// hash at that state number, for the full channel amount (spec §4.2).
func SpendToUnroll(stateNumber uint64, unrollPuzzleHash chiatypes.PuzzleHash, channelAmount chiatypes.Amount) []chiatypes.Condition {
	b := stateNumberBytes(stateNumber)
	return []chiatypes.Condition{
		chiatypes.Rem(b[:]),
		chiatypes.CreateCoin(unrollPuzzleHash, channelAmount),
	}
}

// Sign signs the channel coin's spend-to-unroll conditions with AGG_SIG_ME,
// using the shared (non-synthetic) channel-coin private key — the channel
// coin's puzzle is the standard puzzle over the raw aggregate channel key,
// not a synthetic-offset key, since it is never independently controlled by
// either party alone.
func (c ChannelCoin) Sign(channelKey identity.PrivateKey, conditions []chiatypes.Condition) (identity.Signature, error) {
	hash := chiatypes.ConditionsHash(conditions)
	sig, err := identity.Sign(channelKey, c.Coin.ID(), hash)
	if err != nil {
		return identity.Signature{}, fmt.Errorf("%w: signing channel coin spend: %v", chiaerr.ErrWallet, err)
	}
	return sig, nil
}

// Verify checks an aggregated AGG_SIG_ME signature against this channel
// coin's spend-to-unroll conditions.
func (c ChannelCoin) Verify(aggregateChannelPK identity.PublicKey, conditions []chiatypes.Condition, sig identity.Signature) bool {
	hash := chiatypes.ConditionsHash(conditions)
	return identity.Verify(aggregateChannelPK, c.Coin.ID(), hash, sig)
}
