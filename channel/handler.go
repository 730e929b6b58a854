package channel

import (
	"fmt"
	"sort"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/channelcoin"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/referee"
)

// Handler is the channel handler of spec §4.3. It is not safe for
// concurrent use: per spec §5, the core is single-threaded and
// cooperative, so all mutation happens on whatever goroutine drives the
// owning potato.Handler.
type Handler struct {
	ourChannelKey identity.PrivateKey
	ourUnrollKey  identity.PrivateKey
	ourRewardPH   chiatypes.PuzzleHash
	ourRefereePH  chiatypes.PuzzleHash

	theirChannelPK identity.PublicKey
	theirUnrollPK  identity.PublicKey
	theirRewardPH  chiatypes.PuzzleHash
	theirRefereePH chiatypes.PuzzleHash

	ChannelCoin *channelcoin.ChannelCoin

	MyBalance         chiatypes.Amount
	TheirBalance      chiatypes.Amount
	ChannelCoinAmount chiatypes.Amount
	HavePotato        bool
	StartedWithPotato bool
	CurrentStateNumber uint64
	NextNonce         chiatypes.Nonce

	Unroll channelcoin.UnrollCoin

	// channelSpendConditions/channelSpendSignature are the most recent
	// channel-coin spend-to-unroll conditions and combined signature,
	// valid once FinishHandshake (or any send/received potato round)
	// completes.
	channelSpendConditions []chiatypes.Condition
	channelSpendSignature  identity.Signature
	ourChannelHalf         identity.Signature

	LiveGames map[string]*LiveGame

	rewindStack []rewindEntry
	lastHop     LastHopAction
}

// Initiate seeds channel state from an Initiation, constructs the channel
// coin string, computes the initial unroll default-conditions hash, and
// returns our half-signature for the channel coin's spend-to-unroll (spec
// §4.3, initiate).
func Initiate(init Initiation) (*Handler, identity.Signature, error) {
	h := &Handler{
		ourChannelKey:      init.OurChannelKey,
		ourUnrollKey:       init.OurUnrollKey,
		ourRewardPH:        init.OurRewardPH,
		ourRefereePH:       init.OurRefereePH,
		theirChannelPK:     init.TheirChannelPK,
		theirUnrollPK:      init.TheirUnrollPK,
		theirRewardPH:      init.TheirRewardPH,
		theirRefereePH:     init.TheirRefereePH,
		MyBalance:          init.MyBalance,
		TheirBalance:       init.TheirBalance,
		ChannelCoinAmount:  init.ChannelCoinAmount,
		StartedWithPotato:  init.StartedWithPotato,
		HavePotato:         init.StartedWithPotato,
		CurrentStateNumber: 0,
		LiveGames:          make(map[string]*LiveGame),
		Unroll:             channelcoin.UnrollCoin{StartedWithPotato: init.StartedWithPotato, StateNumber: 0},
	}

	aggChannelPK := identity.AggregatePublicKeys(init.OurChannelKey.Public(), init.TheirChannelPK)
	channelPH := identity.StandardPuzzleHash(aggChannelPK, identity.DefaultHiddenPuzzleHash)
	h.ChannelCoin = &channelcoin.ChannelCoin{
		Coin: chiatypes.CoinString{Parent: init.LauncherCoinID, PuzzleHash: channelPH, Amount: init.ChannelCoinAmount},
	}

	if err := h.recomputeUnroll(); err != nil {
		return nil, identity.Signature{}, err
	}
	sig, err := h.signChannelSpend()
	if err != nil {
		return nil, identity.Signature{}, err
	}
	h.ourChannelHalf = sig
	return h, sig, nil
}

// FinishHandshake aggregates our cached half-signature with the peer's,
// verifies the combined signature against the channel-coin solution hash,
// and stores it for later on-chain use (spec §4.3, finish_handshake).
func (h *Handler) FinishHandshake(theirHalf identity.Signature) error {
	agg, err := identity.Aggregate(h.ourChannelHalf, theirHalf)
	if err != nil {
		return fmt.Errorf("%w: aggregating channel handshake signatures: %v", chiaerr.ErrWallet, err)
	}
	aggPK := identity.AggregatePublicKeys(h.ourChannelKey.Public(), h.theirChannelPK)
	if !h.ChannelCoin.Verify(aggPK, h.channelSpendConditions, agg) {
		return fmt.Errorf("%w: combined channel handshake signature failed to verify", chiaerr.ErrProtocolViolation)
	}
	h.channelSpendSignature = agg
	return nil
}

func (h *Handler) recomputeUnroll() error {
	games := h.gamePayouts()
	if err := h.Unroll.Update(h.ourUnrollKey, h.ourRefereePH, h.MyBalance, h.theirRefereePH, h.TheirBalance, games); err != nil {
		return err
	}
	unrollPH, err := h.Unroll.PuzzleHash()
	if err != nil {
		return err
	}
	h.channelSpendConditions = channelcoin.SpendToUnroll(h.CurrentStateNumber, unrollPH, h.ChannelCoinAmount)
	return nil
}

func (h *Handler) signChannelSpend() (identity.Signature, error) {
	return h.ChannelCoin.Sign(h.ourChannelKey, h.channelSpendConditions)
}

func (h *Handler) gamePayouts() []channelcoin.GamePayout {
	ids := make([]string, 0, len(h.LiveGames))
	for id := range h.LiveGames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	payouts := make([]channelcoin.GamePayout, 0, len(ids))
	for _, id := range ids {
		g := h.LiveGames[id]
		payouts = append(payouts, channelcoin.GamePayout{RefereePuzzleHash: g.LastRefereePuzzleHash, Amount: g.Amount()})
	}
	return payouts
}

// BalanceInvariant checks: my_out_of_game_balance + their_out_of_game_balance
// + sum(live game amounts) == channel_coin_amount (spec §4.3).
func (h *Handler) BalanceInvariant() bool {
	total := h.MyBalance + h.TheirBalance
	for _, g := range h.LiveGames {
		total += g.Amount()
	}
	return total == h.ChannelCoinAmount
}

// ParityInvariant checks: have_potato == (started_with_potato XOR
// current_state_number is odd) — the potato starts with whichever side
// started_with_potato names and flips on every state-number increment
// (spec §3/§4.3).
func (h *Handler) ParityInvariant() bool {
	oddState := h.CurrentStateNumber%2 == 1
	return h.HavePotato == (h.StartedWithPotato != oddState)
}

// pushRewindSnapshot pushes a rewind snapshot of the state as it is before a
// mutation (advance increments the state number afterwards), so Rewind can
// restore it.
func (h *Handler) pushRewindSnapshot() {
	gamePuzzles := make(map[string]chiatypes.PuzzleHash, len(h.LiveGames))
	for id, g := range h.LiveGames {
		gamePuzzles[id] = g.LastRefereePuzzleHash
	}
	h.rewindStack = append(h.rewindStack, rewindEntry{
		StateNumber: h.CurrentStateNumber,
		Snapshot: snapshot{
			MyBalance:          h.MyBalance,
			TheirBalance:       h.TheirBalance,
			HavePotato:         h.HavePotato,
			CurrentStateNumber: h.CurrentStateNumber,
			NextNonce:          h.NextNonce,
			Unroll:             h.Unroll,
		},
		GamePuzzles: gamePuzzles,
	})
}

func (h *Handler) game(gameID chiatypes.GameID) (*LiveGame, error) {
	g, ok := h.LiveGames[string(gameID)]
	if !ok {
		return nil, fmt.Errorf("%w: no live game with id %s", chiaerr.ErrBadState, gameID)
	}
	return g, nil
}

// advance increments current_state_number, recomputes the unroll and
// channel-coin conditions for the new state, and signs both halves — the
// common tail of every send_potato_* operation (spec §4.3).
func (h *Handler) advance() (PotatoSignatures, error) {
	h.CurrentStateNumber++
	h.Unroll.StateNumber = h.CurrentStateNumber
	if err := h.recomputeUnroll(); err != nil {
		return PotatoSignatures{}, err
	}
	channelSig, err := h.signChannelSpend()
	if err != nil {
		return PotatoSignatures{}, err
	}
	unrollSig, err := identity.UnsafeSignPartial(h.ourUnrollKey, h.Unroll.Outcome.Hash.Bytes())
	if err != nil {
		return PotatoSignatures{}, fmt.Errorf("%w: signing unroll half: %v", chiaerr.ErrWallet, err)
	}
	h.HavePotato = false
	return PotatoSignatures{ChannelHalf: channelSig, UnrollHalf: unrollSig}, nil
}

// receiveVerify performs the symmetric recomputation send_potato_* does,
// aggregates the peer's half-signatures with our own, and verifies both
// combined signatures; a mismatch is a fatal protocol error on the channel
// (spec §4.3, received_potato_*).
func (h *Handler) receiveVerify(sigs PotatoSignatures) error {
	h.CurrentStateNumber++
	h.Unroll.StateNumber = h.CurrentStateNumber
	if err := h.recomputeUnroll(); err != nil {
		return err
	}

	ourChannelHalf, err := h.signChannelSpend()
	if err != nil {
		return err
	}
	aggChannel, err := identity.Aggregate(ourChannelHalf, sigs.ChannelHalf)
	if err != nil {
		return fmt.Errorf("%w: aggregating channel half-signatures: %v", chiaerr.ErrWallet, err)
	}
	aggChannelPK := identity.AggregatePublicKeys(h.ourChannelKey.Public(), h.theirChannelPK)
	if !h.ChannelCoin.Verify(aggChannelPK, h.channelSpendConditions, aggChannel) {
		return fmt.Errorf("%w: channel-coin half-signature failed to verify", chiaerr.ErrProtocolViolation)
	}

	ourUnrollHalf, err := identity.UnsafeSignPartial(h.ourUnrollKey, h.Unroll.Outcome.Hash.Bytes())
	if err != nil {
		return fmt.Errorf("%w: signing unroll half: %v", chiaerr.ErrWallet, err)
	}
	aggUnrollPK := identity.AggregatePublicKeys(h.ourUnrollKey.Public(), h.theirUnrollPK)
	ok, err := h.Unroll.Verify(aggUnrollPK, ourUnrollHalf, sigs.UnrollHalf)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unroll half-signature failed to verify", chiaerr.ErrProtocolViolation)
	}

	h.HavePotato = true
	return nil
}

// SendPotatoMove drives a my-turn move for one of our live games, advances
// current_state_number, recomputes and signs the unroll and channel-coin
// conditions, and returns the wire payload plus this side's half-signatures
// (spec §4.3/§4.4). Preconditions: HavePotato.
func (h *Handler) SendPotatoMove(gameID chiatypes.GameID, readableMove puzzlevm.Program, newEntropy []byte) (referee.GameMoveWireData, PotatoSignatures, error) {
	if !h.HavePotato {
		return referee.GameMoveWireData{}, PotatoSignatures{}, fmt.Errorf("%w: send_potato_move without the potato", chiaerr.ErrBadState)
	}
	g, err := h.game(gameID)
	if err != nil {
		return referee.GameMoveWireData{}, PotatoSignatures{}, err
	}
	h.pushRewindSnapshot()
	wire, err := g.Referee.MyTurnMakeMove(readableMove, newEntropy, h.CurrentStateNumber+1)
	if err != nil {
		return referee.GameMoveWireData{}, PotatoSignatures{}, err
	}
	g.LastRefereePuzzleHash = wire.NewPuzzleHash
	sigs, err := h.advance()
	if err != nil {
		return referee.GameMoveWireData{}, PotatoSignatures{}, err
	}
	h.lastHop = LastHopAction{Kind: LastHopMoveHappening, GameID: gameID, Move: wire}
	return wire, sigs, nil
}

// ReceivedPotatoMove accepts a peer's move for one of our live games and
// verifies their half-signatures against the recomputed unroll/channel
// state (spec §4.3/§4.4).
func (h *Handler) ReceivedPotatoMove(gameID chiatypes.GameID, details referee.GameMoveDetails, sigs PotatoSignatures) (referee.TheirTurnMoveResult, error) {
	g, err := h.game(gameID)
	if err != nil {
		return referee.TheirTurnMoveResult{}, err
	}
	result, err := g.Referee.TheirTurnMoveOffChain(details, h.CurrentStateNumber+1, nil)
	if err != nil {
		return referee.TheirTurnMoveResult{}, err
	}
	if err := h.receiveVerify(sigs); err != nil {
		return referee.TheirTurnMoveResult{}, err
	}
	g.LastRefereePuzzleHash = result.NewPuzzleHash
	return result, nil
}

// SendPotatoNil passes the potato with no domain mutation (spec §4.4,
// "Nil(PotatoSignatures) // potato pass, no-op"): it still advances
// current_state_number and re-signs the unchanged unroll/channel-coin
// conditions at the new number, since ParityInvariant ties have_potato to
// the state number's parity regardless of whether anything else changed.
func (h *Handler) SendPotatoNil() (PotatoSignatures, error) {
	if !h.HavePotato {
		return PotatoSignatures{}, fmt.Errorf("%w: send_potato_nil without the potato", chiaerr.ErrBadState)
	}
	h.pushRewindSnapshot()
	return h.advance()
}

// ReceivedPotatoNil accepts a peer's no-op potato pass.
func (h *Handler) ReceivedPotatoNil(sigs PotatoSignatures) error {
	return h.receiveVerify(sigs)
}

// SendPotatoStartGames registers one or more new live games in a single
// potato message, advancing NextNonce once per game (spec §4.4: "StartGames with
// N games produces one message, not N").
func (h *Handler) SendPotatoStartGames(games []*LiveGame) (PotatoSignatures, error) {
	if !h.HavePotato {
		return PotatoSignatures{}, fmt.Errorf("%w: send_potato_start_games without the potato", chiaerr.ErrBadState)
	}
	h.pushRewindSnapshot()
	for _, g := range games {
		if err := h.fundLiveGame(g); err != nil {
			return PotatoSignatures{}, err
		}
	}
	sigs, err := h.advance()
	if err != nil {
		return PotatoSignatures{}, err
	}
	if len(games) > 0 {
		h.lastHop = LastHopAction{Kind: LastHopCreatedGame, GameID: games[0].GameID}
	}
	return sigs, nil
}

// ReceivedPotatoStartGames accepts the peer's batch game creation.
func (h *Handler) ReceivedPotatoStartGames(games []*LiveGame, sigs PotatoSignatures) error {
	for _, g := range games {
		if err := h.fundLiveGame(g); err != nil {
			return err
		}
	}
	return h.receiveVerify(sigs)
}

// fundLiveGame moves each side's contribution out of its out-of-game
// balance and into the game's locked amount, preserving the balance
// invariant across a game's whole lifetime.
func (h *Handler) fundLiveGame(g *LiveGame) error {
	if g.MyContribution > h.MyBalance || g.TheirContribution > h.TheirBalance {
		return fmt.Errorf("%w: insufficient balance to fund game %s", chiaerr.ErrBadState, g.GameID)
	}
	h.NextNonce++
	h.MyBalance -= g.MyContribution
	h.TheirBalance -= g.TheirContribution
	h.LiveGames[string(g.GameID)] = g
	return nil
}

// SendPotatoAccept concedes a live game, crediting ourShare of the game's
// total amount to our out-of-game balance and the remainder to theirs, then
// removes it from LiveGames (spec §4.4, Accept).
func (h *Handler) SendPotatoAccept(gameID chiatypes.GameID, ourShare chiatypes.Amount) (PotatoSignatures, error) {
	if !h.HavePotato {
		return PotatoSignatures{}, fmt.Errorf("%w: send_potato_accept without the potato", chiaerr.ErrBadState)
	}
	g, err := h.game(gameID)
	if err != nil {
		return PotatoSignatures{}, err
	}
	h.pushRewindSnapshot()
	if err := h.settleGame(g, ourShare); err != nil {
		return PotatoSignatures{}, err
	}
	sigs, err := h.advance()
	if err != nil {
		return PotatoSignatures{}, err
	}
	h.lastHop = LastHopAction{Kind: LastHopAccept, GameID: gameID, AcceptShare: ourShare}
	return sigs, nil
}

// ReceivedPotatoAccept accepts the peer's concession of a live game:
// theirShare is the amount the peer keeps for themselves, the remainder
// becomes ours.
func (h *Handler) ReceivedPotatoAccept(gameID chiatypes.GameID, theirShare chiatypes.Amount, sigs PotatoSignatures) error {
	g, err := h.game(gameID)
	if err != nil {
		return err
	}
	if theirShare > g.Amount() {
		return fmt.Errorf("%w: accepted share %d exceeds game amount %d", chiaerr.ErrProtocolViolation, theirShare, g.Amount())
	}
	if err := h.settleGame(g, g.Amount()-theirShare); err != nil {
		return err
	}
	return h.receiveVerify(sigs)
}

func (h *Handler) settleGame(g *LiveGame, ourShare chiatypes.Amount) error {
	total := g.Amount()
	if ourShare > total {
		return fmt.Errorf("%w: share %d exceeds game amount %d", chiaerr.ErrProtocolViolation, ourShare, total)
	}
	delete(h.LiveGames, string(g.GameID))
	h.MyBalance += ourShare
	h.TheirBalance += total - ourShare
	return nil
}

// UnrollCoinSpent decodes an on-chain unroll spend: it extracts the REM
// state number and, for every CREATE_COIN that matches a live game's
// puzzle hash, reports that game needs an on-chain resolution rather than
// an off-chain one (spec §4.3, unroll_coin_spent).
func (h *Handler) UnrollCoinSpent(conditions []chiatypes.Condition) (stateNumber uint64, gamesOnChain []chiatypes.GameID, err error) {
	payload, ok := chiatypes.FindRem(conditions)
	if !ok || len(payload) != 8 {
		return 0, nil, fmt.Errorf("%w: unroll spend missing state-number REM", chiaerr.ErrProtocolViolation)
	}
	for _, b := range payload {
		stateNumber = stateNumber<<8 | uint64(b)
	}
	creates := chiatypes.FindCreateCoins(conditions)
	for _, id := range h.liveGamesByPuzzleHash(creates) {
		gamesOnChain = append(gamesOnChain, id)
	}
	return stateNumber, gamesOnChain, nil
}

// liveGamesByPuzzleHash returns the GameIDs of every live game whose
// current referee puzzle hash matches one of the given CREATE_COIN
// conditions. GameID is a byte slice, so results are keyed by string(id)
// internally to dedupe; the return value is the plain list of matches.
func (h *Handler) liveGamesByPuzzleHash(creates []chiatypes.Condition) []chiatypes.GameID {
	byPH := make(map[chiatypes.PuzzleHash]*LiveGame, len(h.LiveGames))
	for _, g := range h.LiveGames {
		byPH[g.LastRefereePuzzleHash] = g
	}
	seen := make(map[string]struct{})
	var out []chiatypes.GameID
	for _, c := range creates {
		g, ok := byPH[c.PuzzleHash]
		if !ok {
			continue
		}
		key := string(g.GameID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g.GameID)
	}
	return out
}

// Rewind scans the rewind stack newest-first for an entry whose unroll
// puzzle hash equals wantUnrollPH, restores channel state to it, and for
// every live game calls referee.Rewind with that snapshot's per-game
// puzzle hash (spec §4.5).
func (h *Handler) Rewind(wantUnrollPH chiatypes.PuzzleHash) (uint64, bool) {
	for i := len(h.rewindStack) - 1; i >= 0; i-- {
		entry := h.rewindStack[i]
		snapUnroll := entry.Snapshot.Unroll
		ph, err := snapUnroll.PuzzleHash()
		if err != nil || ph != wantUnrollPH {
			continue
		}
		h.rewindStack = h.rewindStack[:i]
		h.MyBalance = entry.Snapshot.MyBalance
		h.TheirBalance = entry.Snapshot.TheirBalance
		h.HavePotato = entry.Snapshot.HavePotato
		h.CurrentStateNumber = entry.Snapshot.CurrentStateNumber
		h.NextNonce = entry.Snapshot.NextNonce
		h.Unroll = entry.Snapshot.Unroll
		for id, wantPH := range entry.GamePuzzles {
			g, ok := h.LiveGames[id]
			if !ok {
				continue
			}
			if n, ok := g.Referee.Rewind(wantPH); ok {
				g.LastRefereePuzzleHash = wantPH
				g.RewindOutcome = &n
			}
		}
		return entry.StateNumber, true
	}
	return 0, false
}

// LastHop returns the most recently cached locally-originated mutation, for
// replay after a rewind discards it (spec §4.4).
func (h *Handler) LastHop() LastHopAction { return h.lastHop }
