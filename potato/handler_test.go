package potato

import (
	"testing"

	"github.com/chia-gaming/channel-core/channel"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamehandler"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/referee"
	"github.com/chia-gaming/channel-core/refereeargs"
	"github.com/chia-gaming/channel-core/validation"
	"github.com/chia-gaming/channel-core/wallet"
)

func acceptAllValidation() validation.Program {
	return puzzlevm.NativeProgram{
		Tag: puzzlevm.EncodeAtom([]byte("accept-all")),
		Func: func(solution puzzlevm.Program) (uint64, puzzlevm.Program, error) {
			return 0, validation.EncodeMoveOk(puzzlevm.EncodeUint64(1)), nil
		},
	}
}

func testMod() refereeargs.RefereeMod {
	base := puzzlevm.EncodeAtom([]byte("counter-referee-mod"))
	return refereeargs.RefereeMod{ModHash: chiatypes.PuzzleHash(base.TreeHash()), Program: base}
}

// recorder is a ToLocalUI that remembers what it was told, for assertions.
type recorder struct {
	opponentMoved []chiatypes.GameID
	gameMessages  []chiatypes.GameID
	gameFinished  []chiatypes.GameID
	gameCancelled []chiatypes.GameID
	shutdownDone  bool
	wentOnChain   bool
}

func (r *recorder) OpponentMoved(gameID chiatypes.GameID, _ referee.TheirTurnMoveResult) {
	r.opponentMoved = append(r.opponentMoved, gameID)
}
func (r *recorder) GameMessage(gameID chiatypes.GameID, _ []byte) {
	r.gameMessages = append(r.gameMessages, gameID)
}
func (r *recorder) GameFinished(gameID chiatypes.GameID, _ chiatypes.Amount) {
	r.gameFinished = append(r.gameFinished, gameID)
}
func (r *recorder) GameCancelled(gameID chiatypes.GameID, _ error) {
	r.gameCancelled = append(r.gameCancelled, gameID)
}
func (r *recorder) ShutdownComplete(chiatypes.CoinString) { r.shutdownDone = true }
func (r *recorder) GoingOnChain(error)                    { r.wentOnChain = true }

type side struct {
	channelKey identity.PrivateKey
	unrollKey  identity.PrivateKey
	reward     identity.Identity
	referee    identity.Identity
	wallet     *wallet.Mock
	ui         *recorder
	handler    *Handler
}

func newSide() *side {
	return &side{
		channelKey: identity.GeneratePrivateKey(),
		unrollKey:  identity.GeneratePrivateKey(),
		reward:     identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash),
		referee:    identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash),
		wallet:     wallet.NewMock(),
		ui:         &recorder{},
	}
}

// newHandshakenPair drives both sides of the potato protocol through the
// full HandshakeA/B/E/F exchange and asserts they land on Finished with
// Alice holding the potato.
func newHandshakenPair(t *testing.T) (alice, bob *side) {
	t.Helper()
	alice, bob = newSide(), newSide()

	launcherParent := chiatypes.CoinID(chiatypes.HashBytes([]byte("launcher")))

	alice.handler = NewInitiator(Config{
		OurChannelKey: alice.channelKey, OurUnrollKey: alice.unrollKey,
		OurRewardPH: alice.reward.PuzzleHash, OurRefereePH: alice.referee.PuzzleHash,
		MyBalance: 600, TheirBalance: 400, ChannelCoinAmount: 1000, StartedWithPotato: true,
		Wallet: alice.wallet, UI: alice.ui,
	}, launcherParent)
	bob.handler = NewResponder(Config{
		OurChannelKey: bob.channelKey, OurUnrollKey: bob.unrollKey,
		OurRewardPH: bob.reward.PuzzleHash, OurRefereePH: bob.referee.PuzzleHash,
		MyBalance: 400, TheirBalance: 600, ChannelCoinAmount: 1000, StartedWithPotato: false,
		Wallet: bob.wallet, UI: bob.ui,
	})

	msgA, err := alice.handler.Start()
	if err != nil {
		t.Fatalf("alice Start: %v", err)
	}

	repliesB, err := bob.handler.HandleMessage(msgA)
	if err != nil {
		t.Fatalf("bob handle HandshakeA: %v", err)
	}
	if len(repliesB) != 1 || repliesB[0].Kind != KindHandshakeB {
		t.Fatalf("expected one HandshakeB reply, got %#v", repliesB)
	}

	repliesE, err := alice.handler.HandleMessage(repliesB[0])
	if err != nil {
		t.Fatalf("alice handle HandshakeB: %v", err)
	}
	if len(repliesE) != 1 || repliesE[0].Kind != KindHandshakeE {
		t.Fatalf("expected one HandshakeE reply, got %#v", repliesE)
	}

	repliesF, err := bob.handler.HandleMessage(repliesE[0])
	if err != nil {
		t.Fatalf("bob handle HandshakeE: %v", err)
	}
	if len(repliesF) != 1 || repliesF[0].Kind != KindHandshakeF {
		t.Fatalf("expected one HandshakeF reply, got %#v", repliesF)
	}

	if done, err := alice.handler.HandleMessage(repliesF[0]); err != nil {
		t.Fatalf("alice handle HandshakeF: %v", err)
	} else if len(done) != 0 {
		t.Fatalf("HandshakeF should not provoke a reply, got %#v", done)
	}

	if alice.handler.Step() != Finished || bob.handler.Step() != Finished {
		t.Fatalf("both sides should reach Finished: alice=%v bob=%v", alice.handler.Step(), bob.handler.Step())
	}
	if !alice.handler.HavePotato() || bob.handler.HavePotato() {
		t.Fatal("alice should hold the potato after handshake, bob should not")
	}
	if alice.handler.Channel().ChannelCoin.Coin.PuzzleHash != bob.handler.Channel().ChannelCoin.Coin.PuzzleHash {
		t.Fatal("both sides must agree on the channel coin's puzzle hash")
	}
	return alice, bob
}

// newGamePair builds matching *channel.LiveGame objects for both sides, the
// way each side would out-of-band before exchanging a StartGames message
// (spec §4.4: the potato layer never originates game-specific state).
func newGamePair(t *testing.T, alice, bob *side, gameID chiatypes.GameID, amount chiatypes.Amount) (aliceGame, bobGame *channel.LiveGame) {
	t.Helper()
	mod := testMod()
	baseArgs := refereeargs.RefereePuzzleArgs{
		MoverPuzzleHash:  alice.referee.PuzzleHash,
		WaiterPuzzleHash: bob.referee.PuzzleHash,
		Timeout:          100,
		Amount:           amount,
		Nonce:            chiatypes.Nonce(1),
		MaxMoveSize:      64,
	}

	aliceReferee := referee.New(referee.Params{
		GameID: gameID, Mod: mod, Evaluator: puzzlevm.NativeEvaluator{},
		MyIdentity: alice.referee, TheirPuzzle: bob.referee.PuzzleHash,
		InitialArgs: baseArgs, InitialState: puzzlevm.EncodeUint64(0),
		Handler: gamehandler.NewMyTurnHandler(func(in gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
			return gamehandler.MyTurnOutput{
				WaitingDriver: func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
					return gamehandler.TheirTurnOutput{
						Accepted:     true,
						ReadableMove: puzzlevm.EncodeAtom(in.MoveBytes),
						NewState:     puzzlevm.EncodeUint64(1),
						NextMyTurnHandler: func(gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
							return gamehandler.MyTurnOutput{}, nil
						},
					}, nil
				},
				MoveBytes:          []byte("+1"),
				MoverShare:         amount / 2,
				MaxMoveSize:        64,
				OutgoingValidation: acceptAllValidation(),
				IncomingValidation: acceptAllValidation(),
			}, nil
		}),
		InitialValidation: acceptAllValidation(),
	})
	bobReferee := referee.New(referee.Params{
		GameID: gameID, Mod: mod, Evaluator: puzzlevm.NativeEvaluator{},
		MyIdentity: bob.referee, TheirPuzzle: alice.referee.PuzzleHash,
		InitialArgs: baseArgs, InitialState: puzzlevm.EncodeUint64(0),
		Handler: gamehandler.NewTheirTurnHandler(func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
			return gamehandler.TheirTurnOutput{
				Accepted:     true,
				ReadableMove: puzzlevm.EncodeAtom(in.MoveBytes),
				NewState:     puzzlevm.EncodeUint64(1),
				NextMyTurnHandler: func(gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
					return gamehandler.MyTurnOutput{}, nil
				},
			}, nil
		}),
		InitialValidation: acceptAllValidation(),
	})

	aliceGame = &channel.LiveGame{
		GameID: gameID, Referee: aliceReferee, MyContribution: amount / 2, TheirContribution: amount / 2,
		LastRefereePuzzleHash: baseArgs.PuzzleHash(mod),
	}
	bobGame = &channel.LiveGame{
		GameID: gameID, Referee: bobReferee, MyContribution: amount / 2, TheirContribution: amount / 2,
		LastRefereePuzzleHash: baseArgs.PuzzleHash(mod),
	}
	return aliceGame, bobGame
}

func TestStartGamesProducesOneMessageForManyGames(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	gameOne, bobOne := newGamePair(t, alice, bob, chiatypes.GameID("game-1"), 200)
	gameTwo, bobTwo := newGamePair(t, alice, bob, chiatypes.GameID("game-2"), 200)

	msgs, err := alice.handler.StartGames([]*channel.LiveGame{gameOne, gameTwo})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindStartGames {
		t.Fatalf("expected exactly one StartGames message for two games, got %#v", msgs)
	}
	if len(msgs[0].StartGames.Games) != 2 {
		t.Fatalf("expected the message to summarize both games, got %d", len(msgs[0].StartGames.Games))
	}
	if alice.handler.HavePotato() {
		t.Fatal("alice should have passed the potato along with StartGames")
	}

	replies, err := bob.handler.ReceiveStartGames(msgs[0].StartGames, []*channel.LiveGame{bobOne, bobTwo})
	if err != nil {
		t.Fatalf("bob ReceiveStartGames: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("bob has no queued work, expected no reply, got %#v", replies)
	}
	if !bob.handler.HavePotato() {
		t.Fatal("bob should hold the potato after accepting StartGames")
	}
}

func TestReceiveStartGamesRejectsMismatchedGameCount(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	aliceGame, _ := newGamePair(t, alice, bob, chiatypes.GameID("game-1"), 200)

	msgs, err := alice.handler.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}

	if _, err := bob.handler.ReceiveStartGames(msgs[0].StartGames, nil); err == nil {
		t.Fatal("expected an error when the locally supplied games don't match the message")
	}
}

func TestMakeMoveRoundTripNotifiesOpponent(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	gameID := chiatypes.GameID("game-1")
	// bob receives the potato with StartGames, so he is this game's first
	// mover: newGamePair gives the first move to its first side.
	bobGame, aliceGame := newGamePair(t, bob, alice, gameID, 200)

	startMsgs, err := alice.handler.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}
	if _, err := bob.handler.ReceiveStartGames(startMsgs[0].StartGames, []*channel.LiveGame{bobGame}); err != nil {
		t.Fatalf("bob ReceiveStartGames: %v", err)
	}

	// bob holds the potato now; bob moves.
	moveMsgs, err := bob.handler.MakeMove(gameID, puzzlevm.EncodeAtom([]byte("+1")), []byte("entropy"))
	if err != nil {
		t.Fatalf("bob MakeMove: %v", err)
	}
	if len(moveMsgs) != 1 || moveMsgs[0].Kind != KindMove {
		t.Fatalf("expected one Move message, got %#v", moveMsgs)
	}
	if bob.handler.HavePotato() {
		t.Fatal("bob should have passed the potato along with the move")
	}

	if _, err := alice.handler.HandleMessage(moveMsgs[0]); err != nil {
		t.Fatalf("alice handle Move: %v", err)
	}
	if len(alice.ui.opponentMoved) != 1 || string(alice.ui.opponentMoved[0]) != string(gameID) {
		t.Fatalf("expected alice's UI to be told about the opponent's move, got %#v", alice.ui.opponentMoved)
	}
	if !alice.handler.HavePotato() {
		t.Fatal("alice should hold the potato again after bob's move")
	}
}

func TestAcceptSettlesGameAndNotifiesUI(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	gameID := chiatypes.GameID("game-1")
	aliceGame, bobGame := newGamePair(t, alice, bob, gameID, 200)

	startMsgs, err := alice.handler.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}
	if _, err := bob.handler.ReceiveStartGames(startMsgs[0].StartGames, []*channel.LiveGame{bobGame}); err != nil {
		t.Fatalf("bob ReceiveStartGames: %v", err)
	}

	acceptMsgs, err := bob.handler.Accept(gameID, 120)
	if err != nil {
		t.Fatalf("bob Accept: %v", err)
	}
	if len(acceptMsgs) != 1 || acceptMsgs[0].Kind != KindAccept {
		t.Fatalf("expected one Accept message, got %#v", acceptMsgs)
	}

	if _, err := alice.handler.HandleMessage(acceptMsgs[0]); err != nil {
		t.Fatalf("alice handle Accept: %v", err)
	}
	if len(alice.ui.gameFinished) != 1 || string(alice.ui.gameFinished[0]) != string(gameID) {
		t.Fatalf("expected alice's UI to be notified of game finish, got %#v", alice.ui.gameFinished)
	}
	if !alice.handler.HavePotato() {
		t.Fatal("alice should hold the potato again after bob's Accept")
	}
}

func TestRequestPotatoFailsWhenAlreadyHeld(t *testing.T) {
	alice, _ := newHandshakenPair(t)
	if _, err := alice.handler.RequestPotato(); err == nil {
		t.Fatal("expected an error requesting a potato alice already holds")
	}
}

// A non-holder's queued move sits until RequestPotato is answered; the
// holder with nothing of its own queued grants the request with a Nil pass,
// and receiving that Nil immediately drains the requester's own queue.
func TestRequestPotatoGrantsViaNilThenDrainsQueue(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	gameID := chiatypes.GameID("game-1")
	aliceGame, bobGame := newGamePair(t, alice, bob, gameID, 200)

	startMsgs, err := alice.handler.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}
	if _, err := bob.handler.ReceiveStartGames(startMsgs[0].StartGames, []*channel.LiveGame{bobGame}); err != nil {
		t.Fatalf("bob ReceiveStartGames: %v", err)
	}
	// bob now holds the potato.

	moveMsgs, err := alice.handler.MakeMove(gameID, puzzlevm.EncodeAtom([]byte("+1")), []byte("entropy"))
	if err != nil {
		t.Fatalf("alice MakeMove: %v", err)
	}
	if len(moveMsgs) != 0 {
		t.Fatalf("alice doesn't hold the potato, the move should only be queued, got %#v", moveMsgs)
	}

	reqMsg, err := alice.handler.RequestPotato()
	if err != nil {
		t.Fatalf("alice RequestPotato: %v", err)
	}

	grantMsgs, err := bob.handler.HandleMessage(reqMsg)
	if err != nil {
		t.Fatalf("bob handle RequestPotato: %v", err)
	}
	if len(grantMsgs) != 1 || grantMsgs[0].Kind != KindNil {
		t.Fatalf("expected bob to grant with a Nil pass, got %#v", grantMsgs)
	}
	if bob.handler.HavePotato() {
		t.Fatal("bob should have passed the potato with the Nil message")
	}

	driveMsgs, err := alice.handler.HandleMessage(grantMsgs[0])
	if err != nil {
		t.Fatalf("alice handle Nil: %v", err)
	}
	if len(driveMsgs) != 1 || driveMsgs[0].Kind != KindMove {
		t.Fatalf("expected alice's queued move to drain immediately, got %#v", driveMsgs)
	}
	if alice.handler.HavePotato() {
		t.Fatal("alice should have passed the potato along with her queued move")
	}

	if _, err := bob.handler.HandleMessage(driveMsgs[0]); err != nil {
		t.Fatalf("bob handle queued move: %v", err)
	}
	if !bob.handler.HavePotato() {
		t.Fatal("bob should hold the potato again")
	}
}

func TestGameMessagePassesThroughToLocalUI(t *testing.T) {
	bob := newSide()
	bob.handler = NewResponder(Config{
		OurChannelKey: bob.channelKey, OurUnrollKey: bob.unrollKey,
		OurRewardPH: bob.reward.PuzzleHash, OurRefereePH: bob.referee.PuzzleHash,
		UI: bob.ui,
	})

	gameID := chiatypes.GameID("game-1")
	if _, err := bob.handler.HandleMessage(PeerMessage{Kind: KindMessage, Message: &GameMessage{GameID: gameID, Data: []byte("hi")}}); err != nil {
		t.Fatalf("bob handle Message: %v", err)
	}
	if len(bob.ui.gameMessages) != 1 || string(bob.ui.gameMessages[0]) != string(gameID) {
		t.Fatalf("expected bob's UI to receive the game message, got %#v", bob.ui.gameMessages)
	}
}

func TestShutdownRoundTrip(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	conditions := []chiatypes.Condition{chiatypes.CreateCoin(alice.reward.PuzzleHash, 1000)}

	msgs, err := alice.handler.ShutDown(conditions)
	if err != nil {
		t.Fatalf("alice ShutDown: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindShutdown {
		t.Fatalf("expected one Shutdown message, got %#v", msgs)
	}
	if alice.handler.Step() != WaitingForShutdown {
		t.Fatalf("alice should be WaitingForShutdown, got %v", alice.handler.Step())
	}

	if _, err := bob.handler.HandleMessage(msgs[0]); err != nil {
		t.Fatalf("bob handle Shutdown: %v", err)
	}
	if bob.handler.Step() != Completed {
		t.Fatalf("bob should be Completed, got %v", bob.handler.Step())
	}
	if bob.handler.ShutdownSpend() == nil {
		t.Fatal("bob should have cached the peer's shutdown spend")
	}
	if !bob.ui.shutdownDone {
		t.Fatal("expected bob's UI to be notified of shutdown completion")
	}
}

func TestStartGamesMustGoThroughReceiveStartGames(t *testing.T) {
	alice, bob := newHandshakenPair(t)
	aliceGame, _ := newGamePair(t, alice, bob, chiatypes.GameID("game-1"), 200)

	msgs, err := alice.handler.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		t.Fatalf("alice StartGames: %v", err)
	}

	if _, err := bob.handler.HandleMessage(msgs[0]); err == nil {
		t.Fatal("expected HandleMessage to reject KindStartGames")
	}
}
