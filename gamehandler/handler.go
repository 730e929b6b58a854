// Package gamehandler defines the application-supplied game logic surface:
// the my-turn and their-turn handler programs a referee drives, and the
// tagged GameHandler value that always points at exactly one of them (spec
// §3, "Game handler"). None of the types here know anything about a
// specific game; they are the seam where an application plugs in its rules,
// mirroring the role domain/poker.StateMachine plays for the teacher's
// consensus layer (Validate/Apply/Snapshot/Restore), generalized from one
// concrete game to an opaque interface.
package gamehandler

import (
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/validation"
)

// MyTurnInput is everything the my-turn handler needs to produce a move.
type MyTurnInput struct {
	ReadableMove    puzzlevm.Program
	NewEntropy      []byte
	Amount          chiatypes.Amount
	LastMove        []byte
	LastMoverShare  chiatypes.Amount
	LastMaxMoveSize int
}

// MyTurnOutput is what the my-turn handler produces for one move.
type MyTurnOutput struct {
	// WaitingDriver is the their-turn handler the game transitions to
	// after this move is accepted.
	WaitingDriver TheirTurnHandler

	MoveBytes   []byte
	MoverShare  chiatypes.Amount
	MaxMoveSize int

	// OutgoingValidation validates this move against the state it was
	// made from. IncomingValidation will validate whatever the peer
	// sends back next.
	OutgoingValidation validation.Program
	IncomingValidation validation.Program

	// MessageParser, if non-nil, lets this game interpret an optional
	// out-of-band Message potato-protocol frame.
	MessageParser MessageParser
}

// MyTurnHandler is the program invoked when it is our turn to move.
type MyTurnHandler func(MyTurnInput) (MyTurnOutput, error)

// TheirTurnInput is what arrives when the peer claims to have moved.
type TheirTurnInput struct {
	MoveBytes  []byte
	MoverShare chiatypes.Amount
	State      puzzlevm.Program
}

// TheirTurnOutput is the their-turn handler's verdict on a peer's move.
type TheirTurnOutput struct {
	// Accepted is false when the handler itself rejects the move
	// (distinct from a validator Slash: this is the handler saying the
	// move is not well-formed game play at all).
	Accepted bool

	ReadableMove  puzzlevm.Program
	SlashEvidence []puzzlevm.Program

	// NewState is the game state resulting from this move, once
	// accepted. It becomes the state the next my-turn handler moves
	// from.
	NewState puzzlevm.Program

	// NextMyTurnHandler is set when the move is accepted: the handler
	// that will produce our reply.
	NextMyTurnHandler MyTurnHandler

	Message []byte
}

// TheirTurnHandler is the program invoked when the peer has moved and we
// must decide whether to accept it.
type TheirTurnHandler func(TheirTurnInput) (TheirTurnOutput, error)

// MessageParser lets a game interpret an out-of-band Message frame against
// the current state, independent of the move protocol.
type MessageParser func(message []byte, state puzzlevm.Program) (puzzlevm.Program, error)

// Tag distinguishes which side of a GameHandler is populated.
type Tag int

const (
	TagMyTurn Tag = iota
	TagTheirTurn
)

func (t Tag) String() string {
	if t == TagMyTurn {
		return "my-turn"
	}
	return "their-turn"
}

// Handler is the tagged union from spec §3: exactly one of MyTurn or
// TheirTurn is populated, matching whichever Tag is set. It flips on every
// accepted move.
type Handler struct {
	Tag       Tag
	MyTurn    MyTurnHandler
	TheirTurn TheirTurnHandler
}

func NewMyTurnHandler(h MyTurnHandler) Handler {
	return Handler{Tag: TagMyTurn, MyTurn: h}
}

func NewTheirTurnHandler(h TheirTurnHandler) Handler {
	return Handler{Tag: TagTheirTurn, TheirTurn: h}
}

func (h Handler) IsMyTurn() bool { return h.Tag == TagMyTurn }
