package potato

import (
	"fmt"

	"github.com/chia-gaming/channel-core/channel"
	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamelog"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/wallet"
)

// Config seeds a Handler with this side's identity, desired funding split,
// and the external collaborators (wallet, local-UI sink, logger) it talks
// to. The peer's own keys and puzzle hashes arrive later, over the wire, in
// HandshakeA/B.
type Config struct {
	OurChannelKey identity.PrivateKey
	OurUnrollKey  identity.PrivateKey
	OurRewardPH   chiatypes.PuzzleHash
	OurRefereePH  chiatypes.PuzzleHash

	MyBalance         chiatypes.Amount
	TheirBalance      chiatypes.Amount
	ChannelCoinAmount chiatypes.Amount
	StartedWithPotato bool

	Wallet wallet.WalletSpendInterface
	UI     ToLocalUI
	Log    gamelog.Logger
}

func (c Config) withDefaults() Config {
	if c.UI == nil {
		c.UI = NopLocalUI{}
	}
	if c.Log == nil {
		c.Log = gamelog.Nop{}
	}
	return c
}

// Handler drives one side of the potato protocol (spec §4.4): the
// handshake automaton, the single-token mutual exclusion scheme, and the
// ordered local-action queue, wrapped around a *channel.Handler it
// constructs once both peers' handshake information is known. Like
// channel.Handler, it is single-threaded and cooperative (spec §5): every
// method call must complete before the next begins.
type Handler struct {
	cfg Config

	step        Step
	potatoState PotatoState

	isInitiator    bool
	launcherParent chiatypes.CoinID

	ourHandshake   HandshakeBPayload
	theirHandshake *HandshakeBPayload

	channelHandler *channel.Handler
	ourChannelHalf identity.Signature

	queue []queuedAction

	shutdownSpend *ShutdownMessage
}

// NewInitiator starts the handshake from the side that picks the launcher
// coin (spec §4.4, StepA).
func NewInitiator(cfg Config, launcherParent chiatypes.CoinID) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		cfg:            cfg,
		step:           StepA,
		isInitiator:    true,
		launcherParent: launcherParent,
		ourHandshake:   ourHandshakePayload(cfg),
	}
}

// NewResponder waits for the initiator's HandshakeA (spec §4.4, StepB).
func NewResponder(cfg Config) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		cfg:          cfg,
		step:         StepB,
		isInitiator:  false,
		ourHandshake: ourHandshakePayload(cfg),
	}
}

func ourHandshakePayload(cfg Config) HandshakeBPayload {
	return HandshakeBPayload{
		ChannelPK:         cfg.OurChannelKey.Public().Bytes(),
		UnrollPK:          cfg.OurUnrollKey.Public().Bytes(),
		RewardPH:          cfg.OurRewardPH,
		RefereePH:         cfg.OurRefereePH,
		MyBalance:         cfg.MyBalance,
		TheirBalance:      cfg.TheirBalance,
		ChannelCoinAmount: cfg.ChannelCoinAmount,
		StartedWithPotato: cfg.StartedWithPotato,
	}
}

// Step reports the handshake automaton's current position.
func (h *Handler) Step() Step { return h.step }

// Channel exposes the underlying channel handler once the handshake has
// reached Finished; nil before then.
func (h *Handler) Channel() *channel.Handler { return h.channelHandler }

// Start emits the initiator's first message (spec §4.4: "HandshakeA
// { parent, simple: HandshakeB }"). Only valid for a Handler built with
// NewInitiator, at StepA.
func (h *Handler) Start() (PeerMessage, error) {
	if !h.isInitiator || h.step != StepA {
		return PeerMessage{}, fmt.Errorf("%w: Start called outside StepA", chiaerr.ErrBadState)
	}
	h.step = StepB
	return PeerMessage{Kind: KindHandshakeA, HandshakeA: &HandshakeAPayload{
		Parent: h.launcherParent,
		Simple: h.ourHandshake,
	}}, nil
}

// unmarshalPublicKey decodes a BLS public key from its compressed bytes as
// carried on the wire. identity.PublicKey has no Go-side unmarshal of its
// own beyond the Suite's point type, so this goes through the same suite
// package uses internally.
func unmarshalPublicKey(b []byte) (identity.PublicKey, error) {
	p := identity.Suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return identity.PublicKey{}, fmt.Errorf("%w: decoding peer public key: %v", chiaerr.ErrProtocolViolation, err)
	}
	return identity.PublicKey{Point: p}, nil
}

// buildChannel constructs the local channel.Handler once both sides'
// HandshakeBPayload are known, from this side's perspective (our fields
// from cfg, the peer's from theirHandshake).
func (h *Handler) buildChannel() error {
	theirChannelPK, err := unmarshalPublicKey(h.theirHandshake.ChannelPK)
	if err != nil {
		return err
	}
	theirUnrollPK, err := unmarshalPublicKey(h.theirHandshake.UnrollPK)
	if err != nil {
		return err
	}
	init := channel.Initiation{
		LauncherCoinID:    h.launcherParent,
		OurChannelKey:     h.cfg.OurChannelKey,
		OurUnrollKey:      h.cfg.OurUnrollKey,
		OurRewardPH:       h.cfg.OurRewardPH,
		OurRefereePH:      h.cfg.OurRefereePH,
		TheirChannelPK:    theirChannelPK,
		TheirUnrollPK:     theirUnrollPK,
		TheirRewardPH:     h.theirHandshake.RewardPH,
		TheirRefereePH:    h.theirHandshake.RefereePH,
		MyBalance:         h.cfg.MyBalance,
		TheirBalance:      h.cfg.TheirBalance,
		ChannelCoinAmount: h.cfg.ChannelCoinAmount,
		StartedWithPotato: h.cfg.StartedWithPotato,
	}
	ch, ourHalf, err := channel.Initiate(init)
	if err != nil {
		return err
	}
	h.channelHandler = ch
	h.ourChannelHalf = ourHalf
	h.potatoState = Absent
	if h.cfg.StartedWithPotato {
		h.potatoState = Present
	}
	return nil
}

// HandleMessage processes one incoming PeerMessage and returns zero or more
// outbound messages to send in reply. StartGames is handled separately by
// ReceiveStartGames, since accepting it requires the caller to supply the
// *channel.LiveGame objects it already built locally for this game (spec
// §4.4: the potato layer never originates game-specific state).
func (h *Handler) HandleMessage(msg PeerMessage) ([]PeerMessage, error) {
	switch msg.Kind {
	case KindHandshakeA:
		return h.handleHandshakeA(msg.HandshakeA)
	case KindHandshakeB:
		return h.handleHandshakeB(msg.HandshakeB)
	case KindHandshakeE:
		return h.handleHandshakeE(msg.HandshakeE)
	case KindHandshakeF:
		return h.handleHandshakeF(msg.HandshakeF)
	case KindNil:
		return h.handleNil(msg.Nil)
	case KindMove:
		return h.handleMove(msg.Move)
	case KindMessage:
		h.cfg.UI.GameMessage(msg.Message.GameID, msg.Message.Data)
		return nil, nil
	case KindAccept:
		return h.handleAccept(msg.Accept)
	case KindRequestPotato:
		return h.handleRequestPotato()
	case KindShutdown:
		return h.handleShutdown(msg.Shutdown)
	case KindStartGames:
		return nil, fmt.Errorf("%w: StartGames must go through ReceiveStartGames", chiaerr.ErrBadState)
	default:
		return nil, fmt.Errorf("%w: unknown message kind %d", chiaerr.ErrProtocolViolation, msg.Kind)
	}
}

// handleHandshakeA is the responder's reaction to the initiator's first
// message. It moves through StepC (received A, mid-build) before reaching
// StepD (sent B, now awaiting the funding bundle in HandshakeE); a failure
// in buildChannel leaves the step observably at StepC rather than silently
// reverting, matching the original's StepC(CoinString, HandshakeA)/
// StepD(HandshakeStepInfo) carrying the in-flight payload across that span.
func (h *Handler) handleHandshakeA(a *HandshakeAPayload) ([]PeerMessage, error) {
	if h.isInitiator || h.step != StepB {
		return nil, fmt.Errorf("%w: unexpected HandshakeA", chiaerr.ErrProtocolViolation)
	}
	h.launcherParent = a.Parent
	theirs := a.Simple
	h.theirHandshake = &theirs
	h.step = StepC
	if err := h.buildChannel(); err != nil {
		return nil, err
	}
	h.step = StepD
	return []PeerMessage{{Kind: KindHandshakeB, HandshakeB: &h.ourHandshake}}, nil
}

// handleHandshakeB is the initiator's reaction to the responder's reply. It
// moves through StepC (received B, mid-build and computing our half of the
// funding bundle) before reaching StepD (sent the HandshakeE bundle, now
// awaiting HandshakeF); a failure here leaves the step at StepC for the same
// reason as handleHandshakeA above.
func (h *Handler) handleHandshakeB(b *HandshakeBPayload) ([]PeerMessage, error) {
	if !h.isInitiator || h.step != StepB {
		return nil, fmt.Errorf("%w: unexpected HandshakeB", chiaerr.ErrProtocolViolation)
	}
	h.theirHandshake = b
	h.step = StepC
	if err := h.buildChannel(); err != nil {
		return nil, err
	}
	bundle, err := h.fundingBundle()
	if err != nil {
		return nil, err
	}
	h.step = StepD
	return []PeerMessage{{Kind: KindHandshakeE, HandshakeE: &HandshakeEPayload{
		Bundle:         bundle,
		ChannelHalfSig: h.ourChannelHalf.Bytes,
	}}}, nil
}

// fundingBundle asks the wallet to build the channel-creation spend for the
// launcher coin. The bundle's internal shape is opaque to this layer (spec
// §6: "wallet bootstrap ... beyond the bundle-shaped types the protocol
// exchanges"). The wallet is handed the channel-coin spend carrying our
// half-signature, and the bytes returned are that half-signature's bytes.
func (h *Handler) fundingBundle() ([]byte, error) {
	spend := wallet.Spend{
		Coin:      h.channelHandler.ChannelCoin.Coin,
		Signature: h.ourChannelHalf,
	}
	if h.cfg.Wallet != nil {
		if err := h.cfg.Wallet.SpendTransactionAndAddFee(spend, nil); err != nil {
			return nil, fmt.Errorf("%w: building funding bundle: %v", chiaerr.ErrWallet, err)
		}
	}
	return h.ourChannelHalf.Bytes, nil
}

// handleHandshakeE is the responder's reaction to the initiator's funding
// bundle. It moves through StepE (verifying the half-signature, building our
// own counter-funding bundle) and StepF (bundle built, about to send
// HandshakeF) before Finished — the responder never awaits a further
// incoming message, so StepF resolves to Finished within this same call.
func (h *Handler) handleHandshakeE(e *HandshakeEPayload) ([]PeerMessage, error) {
	if h.isInitiator || h.step != StepD {
		return nil, fmt.Errorf("%w: unexpected HandshakeE", chiaerr.ErrProtocolViolation)
	}
	h.step = StepE
	if err := h.channelHandler.FinishHandshake(identity.Signature{Bytes: e.ChannelHalfSig}); err != nil {
		return nil, err
	}
	h.step = StepF
	bundle, err := h.fundingBundle()
	if err != nil {
		return nil, err
	}
	h.step = Finished
	h.cfg.Log.Infof("channel %s handshake finished", h.channelHandler.ChannelCoin.Coin.ID())
	return []PeerMessage{{Kind: KindHandshakeF, HandshakeF: &HandshakeFPayload{
		Bundle:         bundle,
		ChannelHalfSig: h.ourChannelHalf.Bytes,
	}}}, nil
}

// handleHandshakeF is the initiator's reaction to the responder's
// confirmation. It moves through StepE (verifying the half-signature) before
// Finished.
func (h *Handler) handleHandshakeF(f *HandshakeFPayload) ([]PeerMessage, error) {
	if !h.isInitiator || h.step != StepD {
		return nil, fmt.Errorf("%w: unexpected HandshakeF", chiaerr.ErrProtocolViolation)
	}
	h.step = StepE
	if err := h.channelHandler.FinishHandshake(identity.Signature{Bytes: f.ChannelHalfSig}); err != nil {
		return nil, err
	}
	h.step = Finished
	h.cfg.Log.Infof("channel %s handshake finished", h.channelHandler.ChannelCoin.Coin.ID())
	return nil, nil
}

// enqueue appends a local action and drains the queue immediately if the
// potato is already ours (spec §4.4, "Queueing").
func (h *Handler) enqueue(a queuedAction) ([]PeerMessage, error) {
	h.queue = append(h.queue, a)
	return h.drain()
}

// drain pops and executes queued actions while the potato is present,
// stopping after the first one that actually sends a message (each sent
// message passes the potato away, so there is never more than one per
// drain call).
func (h *Handler) drain() ([]PeerMessage, error) {
	if h.potatoState != Present || len(h.queue) == 0 {
		return nil, nil
	}
	a := h.queue[0]
	h.queue = h.queue[1:]
	msg, err := h.execute(a)
	if err != nil {
		return nil, err
	}
	return []PeerMessage{msg}, nil
}

func (h *Handler) execute(a queuedAction) (PeerMessage, error) {
	switch a.Kind {
	case ActionStartGames:
		sigs, err := h.channelHandler.SendPotatoStartGames(a.Games)
		if err != nil {
			return PeerMessage{}, err
		}
		h.potatoState = Absent
		return PeerMessage{Kind: KindStartGames, StartGames: &StartGamesMessage{
			Sigs:  ToSignaturesWire(sigs),
			Games: summarize(a.Games),
		}}, nil
	case ActionMove:
		wire, sigs, err := h.channelHandler.SendPotatoMove(a.GameID, a.ReadableMove, a.NewEntropy)
		if err != nil {
			return PeerMessage{}, err
		}
		h.potatoState = Absent
		return PeerMessage{Kind: KindMove, Move: &MoveMessage{
			GameID: a.GameID,
			Result: ToMoveResultWire(wire.Details, sigs),
		}}, nil
	case ActionAccept:
		sigs, err := h.channelHandler.SendPotatoAccept(a.GameID, a.OurShare)
		if err != nil {
			return PeerMessage{}, err
		}
		h.potatoState = Absent
		return PeerMessage{Kind: KindAccept, Accept: &AcceptMessage{
			GameID: a.GameID,
			Amount: a.OurShare,
			Sigs:   ToSignaturesWire(sigs),
		}}, nil
	case ActionShutdown:
		msg := h.shutdownMessage(a.ShutdownConditions)
		h.step = WaitingForShutdown
		h.potatoState = Absent
		return PeerMessage{Kind: KindShutdown, Shutdown: msg}, nil
	default:
		return PeerMessage{}, fmt.Errorf("%w: unknown queued action kind %d", chiaerr.ErrBadState, a.Kind)
	}
}

func (h *Handler) shutdownMessage(conditions []chiatypes.Condition) *ShutdownMessage {
	hash := chiatypes.ConditionsHash(conditions)
	sig, _ := identity.Sign(h.cfg.OurChannelKey, h.channelHandler.ChannelCoin.Coin.ID(), hash)
	program := puzzlevm.EncodeAtom(hash.Bytes())
	return &ShutdownMessage{Aggsig: sig.Bytes, ConditionsProgram: []byte(program.(puzzlevm.Atom))}
}

// afterTransfer marks the potato ours and tries to drain our own queue,
// the common tail of every received message that hands us the potato.
func (h *Handler) afterTransfer() ([]PeerMessage, error) {
	h.potatoState = Present
	return h.drain()
}

func (h *Handler) handleNil(sigs *SignaturesWire) ([]PeerMessage, error) {
	if err := h.channelHandler.ReceivedPotatoNil(sigs.ToSignatures()); err != nil {
		return nil, err
	}
	return h.afterTransfer()
}

func (h *Handler) handleMove(m *MoveMessage) ([]PeerMessage, error) {
	sigs := m.Result.Sigs.ToSignatures()
	result, err := h.channelHandler.ReceivedPotatoMove(m.GameID, m.Result.ToDetails(), sigs)
	if err != nil {
		return nil, err
	}
	h.cfg.UI.OpponentMoved(m.GameID, result)
	return h.afterTransfer()
}

func (h *Handler) handleAccept(a *AcceptMessage) ([]PeerMessage, error) {
	sigs := a.Sigs.ToSignatures()
	if err := h.channelHandler.ReceivedPotatoAccept(a.GameID, a.Amount, sigs); err != nil {
		return nil, err
	}
	h.cfg.UI.GameFinished(a.GameID, a.Amount)
	return h.afterTransfer()
}

// handleRequestPotato answers a peer's request for the potato: if we have
// queued work, draining sends it (and transfers the potato as a side
// effect); otherwise we pass it explicitly with Nil.
func (h *Handler) handleRequestPotato() ([]PeerMessage, error) {
	if h.potatoState != Present {
		h.potatoState = Requested
		return nil, nil
	}
	if msgs, err := h.drain(); err != nil {
		return nil, err
	} else if len(msgs) > 0 {
		return msgs, nil
	}
	sigs, err := h.passNil()
	if err != nil {
		return nil, err
	}
	return []PeerMessage{{Kind: KindNil, Nil: &sigs}}, nil
}

// passNil transfers the potato without any queued mutation: the underlying
// channel.Handler still advances current_state_number and re-signs the
// unchanged unroll/channel-coin conditions at the new number (spec §4.4,
// Nil).
func (h *Handler) passNil() (SignaturesWire, error) {
	sigs, err := h.channelHandler.SendPotatoNil()
	if err != nil {
		return SignaturesWire{}, err
	}
	h.potatoState = Absent
	return ToSignaturesWire(sigs), nil
}

func (h *Handler) handleShutdown(s *ShutdownMessage) ([]PeerMessage, error) {
	h.shutdownSpend = s
	h.step = Completed
	h.cfg.Log.Infof("channel %s shut down", h.channelHandler.ChannelCoin.Coin.ID())
	h.cfg.UI.ShutdownComplete(h.channelHandler.ChannelCoin.Coin)
	return nil, nil
}

// ShutdownSpend returns the peer's final channel-coin spend once the
// shutdown handshake has completed (Step Completed), nil before then.
func (h *Handler) ShutdownSpend() *ShutdownMessage { return h.shutdownSpend }

// StartGames queues the batch creation of one or more games (spec §4.4:
// "StartGames with N games produces one message, not N"). games must
// already carry a fully constructed referee.Referee per spec §4.1 — the
// potato layer only moves the bookkeeping, never game logic.
func (h *Handler) StartGames(games []*channel.LiveGame) ([]PeerMessage, error) {
	if err := h.requireFinished(); err != nil {
		return nil, err
	}
	return h.enqueue(queuedAction{Kind: ActionStartGames, Games: games})
}

// ReceiveStartGames accepts a peer's StartGames message. Unlike
// HandleMessage's other cases, the caller must supply the matching
// *channel.LiveGame objects it built locally (via its own TheirTurn
// gamehandler.Handler) for each GameID in msg.Games, in the same order.
func (h *Handler) ReceiveStartGames(msg *StartGamesMessage, games []*channel.LiveGame) ([]PeerMessage, error) {
	if len(games) != len(msg.Games) {
		return nil, fmt.Errorf("%w: StartGames carries %d games, %d supplied locally", chiaerr.ErrProtocolViolation, len(msg.Games), len(games))
	}
	sigs := msg.Sigs.ToSignatures()
	if err := h.channelHandler.ReceivedPotatoStartGames(games, sigs); err != nil {
		return nil, err
	}
	return h.afterTransfer()
}

// MakeMove queues a my-turn move for one of our live games.
func (h *Handler) MakeMove(gameID chiatypes.GameID, move puzzlevm.Program, newEntropy []byte) ([]PeerMessage, error) {
	if err := h.requireFinished(); err != nil {
		return nil, err
	}
	return h.enqueue(queuedAction{Kind: ActionMove, GameID: gameID, ReadableMove: move, NewEntropy: newEntropy})
}

// Accept queues conceding a live game, keeping ourShare of its amount.
func (h *Handler) Accept(gameID chiatypes.GameID, ourShare chiatypes.Amount) ([]PeerMessage, error) {
	if err := h.requireFinished(); err != nil {
		return nil, err
	}
	return h.enqueue(queuedAction{Kind: ActionAccept, GameID: gameID, OurShare: ourShare})
}

// ShutDown queues the final channel spend with the given payout conditions.
func (h *Handler) ShutDown(conditions []chiatypes.Condition) ([]PeerMessage, error) {
	if err := h.requireFinished(); err != nil {
		return nil, err
	}
	return h.enqueue(queuedAction{Kind: ActionShutdown, ShutdownConditions: conditions})
}

// RequestPotato asks the peer for the potato when we don't hold it. No-op,
// returned as an error, if we already do.
func (h *Handler) RequestPotato() (PeerMessage, error) {
	if h.potatoState == Present {
		return PeerMessage{}, fmt.Errorf("%w: already holding the potato", chiaerr.ErrBadState)
	}
	h.potatoState = Requested
	return PeerMessage{Kind: KindRequestPotato, RequestPotato: &struct{}{}}, nil
}

func (h *Handler) requireFinished() error {
	if h.step != Finished {
		return fmt.Errorf("%w: channel handshake not finished", chiaerr.ErrBadState)
	}
	return nil
}

// HavePotato reports whether this side currently holds the token.
func (h *Handler) HavePotato() bool { return h.potatoState == Present }

// Rewind delegates to the underlying channel.Handler, additionally
// discarding any queued actions invalidated by the regression (the caller
// is expected to re-derive and re-enqueue replacement actions from
// LastHop()).
func (h *Handler) Rewind(wantUnrollPH chiatypes.PuzzleHash) (uint64, bool) {
	n, ok := h.channelHandler.Rewind(wantUnrollPH)
	if ok {
		h.queue = nil
		h.potatoState = Present
		if !h.channelHandler.HavePotato {
			h.potatoState = Absent
		}
	}
	return n, ok
}

// LastHop returns the most recently cached locally-originated mutation, for
// replay after a rewind discards it (spec §4.4, "Cancellation / regeneration").
func (h *Handler) LastHop() channel.LastHopAction { return h.channelHandler.LastHop() }
