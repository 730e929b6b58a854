// Package potato implements the potato protocol of spec §4.4: the peer
// message wire format, the handshake automaton that brings a channel up
// (StepA→...→Finished), and the single mutual-exclusion token ("the
// potato") that serializes every further state-mutating message between
// two peers without locks. It drives a channel.Handler the way the
// teacher's ConsensusNode drives a poker.StateMachine: the potato layer
// never inspects game state itself, only routes messages and keeps the
// token's bookkeeping straight.
package potato

import (
	"github.com/chia-gaming/channel-core/channel"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/referee"
)

// Step is the handshake automaton's position, spec §3 "Potato handler
// state". Once Finished, a Handler stays there until ShutDown moves it to
// WaitingForShutdown and the peer's Shutdown message moves it to Completed.
type Step int

const (
	StepA Step = iota
	StepB
	StepC
	StepD
	StepE
	StepF
	Finished
	WaitingForShutdown
	Completed
)

func (s Step) String() string {
	switch s {
	case StepA:
		return "StepA"
	case StepB:
		return "StepB"
	case StepC:
		return "StepC"
	case StepD:
		return "StepD"
	case StepE:
		return "StepE"
	case StepF:
		return "StepF"
	case Finished:
		return "Finished"
	case WaitingForShutdown:
		return "WaitingForShutdown"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// PotatoState is the token's own three-valued state at this peer: held
// (Present), asked for but not yet received (Requested), or neither
// (Absent).
type PotatoState int

const (
	Absent PotatoState = iota
	Requested
	Present
)

// MessageKind tags which field of a PeerMessage is populated. PeerMessage
// is rendered as one struct with optional fields, rather than a Go
// interface, so the whole thing marshals through go.dedis.ch/protobuf
// without a custom encoder.
type MessageKind int

const (
	KindHandshakeA MessageKind = iota
	KindHandshakeB
	KindHandshakeE
	KindHandshakeF
	KindNil
	KindMove
	KindMessage
	KindAccept
	KindShutdown
	KindRequestPotato
	KindStartGames
)

// SignaturesWire is the wire-safe rendering of channel.PotatoSignatures:
// compressed BLS signature bytes, not the kyber-backed identity.Signature.
type SignaturesWire struct {
	ChannelHalf []byte
	UnrollHalf  []byte
}

func ToSignaturesWire(sigs channel.PotatoSignatures) SignaturesWire {
	return SignaturesWire{ChannelHalf: sigs.ChannelHalf.Bytes, UnrollHalf: sigs.UnrollHalf.Bytes}
}

func (w SignaturesWire) ToSignatures() channel.PotatoSignatures {
	return channel.PotatoSignatures{
		ChannelHalf: identity.Signature{Bytes: w.ChannelHalf},
		UnrollHalf:  identity.Signature{Bytes: w.UnrollHalf},
	}
}

// HandshakeBPayload is the identity/funding information one side of a
// handshake exposes to the other: its channel and unroll public keys, and
// the puzzle hashes it wants its reward and referee payouts sent to.
type HandshakeBPayload struct {
	ChannelPK []byte
	UnrollPK  []byte
	RewardPH  chiatypes.PuzzleHash
	RefereePH chiatypes.PuzzleHash

	MyBalance         chiatypes.Amount
	TheirBalance      chiatypes.Amount
	ChannelCoinAmount chiatypes.Amount
	StartedWithPotato bool
}

// HandshakeAPayload is the initiator-only first message: the launcher
// coin's parent (the initiator picks the launcher) plus the initiator's own
// HandshakeBPayload, so the responder learns everything it needs in one
// round trip (spec §4.4: "HandshakeA { parent, simple: HandshakeB }").
type HandshakeAPayload struct {
	Parent chiatypes.CoinID
	Simple HandshakeBPayload
}

// HandshakeEPayload/HandshakeFPayload carry the half-funded and
// counter-funded channel-creation bundles plus the sender's half-signature
// over the channel coin's spend-to-unroll conditions (folded in here
// because the bundle itself is an opaque wallet artifact — see package
// wallet — while FinishHandshake needs the raw signature bytes).
type HandshakeEPayload struct {
	Bundle         []byte
	ChannelHalfSig []byte
}

type HandshakeFPayload struct {
	Bundle         []byte
	ChannelHalfSig []byte
}

// MoveResultWire is the wire rendering of a referee.GameMoveWireData's
// Details plus the PotatoSignatures covering it.
type MoveResultWire struct {
	Sigs               SignaturesWire
	MoveBytes          []byte
	MoverShare         chiatypes.Amount
	MaxMoveSize        int
	ValidationInfoHash chiatypes.Hash
}

func ToMoveResultWire(details referee.GameMoveDetails, sigs channel.PotatoSignatures) MoveResultWire {
	return MoveResultWire{
		Sigs:               ToSignaturesWire(sigs),
		MoveBytes:          details.MoveBytes,
		MoverShare:         details.MoverShare,
		MaxMoveSize:        details.MaxMoveSize,
		ValidationInfoHash: details.ValidationInfoHash,
	}
}

func (w MoveResultWire) ToDetails() referee.GameMoveDetails {
	return referee.GameMoveDetails{
		MoveBytes:          w.MoveBytes,
		MoverShare:         w.MoverShare,
		MaxMoveSize:        w.MaxMoveSize,
		ValidationInfoHash: w.ValidationInfoHash,
	}
}

// PeerMessage is the framed unit exchanged between the two peers (spec
// §4.4). Exactly one of the payload fields is populated, selected by Kind;
// framing (length-prefixing the encoded bytes) is left to the transport.
type PeerMessage struct {
	Kind MessageKind

	HandshakeA    *HandshakeAPayload
	HandshakeB    *HandshakeBPayload
	HandshakeE    *HandshakeEPayload
	HandshakeF    *HandshakeFPayload
	Nil           *SignaturesWire
	Move          *MoveMessage
	Message       *GameMessage
	Accept        *AcceptMessage
	Shutdown      *ShutdownMessage
	RequestPotato *struct{}
	StartGames    *StartGamesMessage
}

type MoveMessage struct {
	GameID chiatypes.GameID
	Result MoveResultWire
}

type GameMessage struct {
	GameID chiatypes.GameID
	Data   []byte
}

type AcceptMessage struct {
	GameID chiatypes.GameID
	Amount chiatypes.Amount
	Sigs   SignaturesWire
}

type ShutdownMessage struct {
	Aggsig            []byte
	ConditionsProgram []byte
}

// GameStartSummary is the wire-safe summary of one game a StartGames
// message introduces: enough for the receiving side to match it against
// the *channel.LiveGame it must have already built locally (with its own
// referee.Referee and gamehandler.Handler — both inherently local, since
// neither travels over the wire), never enough to reconstruct the game by
// itself.
type GameStartSummary struct {
	GameID                chiatypes.GameID
	MyContribution        chiatypes.Amount
	TheirContribution     chiatypes.Amount
	LastRefereePuzzleHash chiatypes.PuzzleHash
}

type StartGamesMessage struct {
	Sigs  SignaturesWire
	Games []GameStartSummary
}

func summarize(games []*channel.LiveGame) []GameStartSummary {
	out := make([]GameStartSummary, len(games))
	for i, g := range games {
		out[i] = GameStartSummary{
			GameID:                g.GameID,
			MyContribution:        g.MyContribution,
			TheirContribution:     g.TheirContribution,
			LastRefereePuzzleHash: g.LastRefereePuzzleHash,
		}
	}
	return out
}

// ActionKind enumerates the local-UI actions queued while the potato is
// held by someone else (spec §4.4, "Queueing").
type ActionKind int

const (
	ActionStartGames ActionKind = iota
	ActionMove
	ActionAccept
	ActionShutdown
)

// queuedAction is one entry of the ordered local-action queue; only the
// fields relevant to Kind are populated.
type queuedAction struct {
	Kind ActionKind

	Games []*channel.LiveGame

	GameID       chiatypes.GameID
	ReadableMove puzzlevm.Program
	NewEntropy   []byte

	OurShare chiatypes.Amount

	ShutdownConditions []chiatypes.Condition
}

// ToLocalUI is the outward-facing event sink (spec §6, "ToLocalUI"):
// opponent_moved, game_message, game_finished, game_cancelled,
// shutdown_complete, going_on_chain. A Handler calls these synchronously as
// it processes incoming messages; nil is a valid, silent sink.
type ToLocalUI interface {
	OpponentMoved(gameID chiatypes.GameID, result referee.TheirTurnMoveResult)
	GameMessage(gameID chiatypes.GameID, data []byte)
	GameFinished(gameID chiatypes.GameID, ourShare chiatypes.Amount)
	GameCancelled(gameID chiatypes.GameID, reason error)
	ShutdownComplete(coin chiatypes.CoinString)
	GoingOnChain(reason error)
}

// NopLocalUI discards every event; the zero value NopLocalUI{} is usable.
type NopLocalUI struct{}

func (NopLocalUI) OpponentMoved(chiatypes.GameID, referee.TheirTurnMoveResult) {}
func (NopLocalUI) GameMessage(chiatypes.GameID, []byte)                       {}
func (NopLocalUI) GameFinished(chiatypes.GameID, chiatypes.Amount)            {}
func (NopLocalUI) GameCancelled(chiatypes.GameID, error)                      {}
func (NopLocalUI) ShutdownComplete(chiatypes.CoinString)                      {}
func (NopLocalUI) GoingOnChain(error)                                         {}
