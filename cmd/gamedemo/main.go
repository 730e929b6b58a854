// Command gamedemo drives one complete channel lifecycle between two local
// peers, Alice and Bob: handshake, starting a game, a few moves, an accept,
// and a shutdown, printing pterm panels of channel state along the way. It
// exercises the full stack end to end without a live wallet or blockchain
// node, the same role the teacher's cmd/main.go played for a poker table.
package main

import (
	"flag"
	"log"

	"github.com/chia-gaming/channel-core/channel"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamelog"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/potato"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/wallet"
)

// exchange is one PeerMessage in flight, tagged with its destination.
type exchange struct {
	toBob bool
	msg   potato.PeerMessage
}

func main() {
	quiet := flag.Bool("quiet", false, "disable pterm panel output")
	flag.Parse()

	var logger gamelog.Logger = gamelog.Pterm{}
	if *quiet {
		logger = gamelog.Nop{}
	}

	aliceChannelKey, bobChannelKey := identity.GeneratePrivateKey(), identity.GeneratePrivateKey()
	aliceUnrollKey, bobUnrollKey := identity.GeneratePrivateKey(), identity.GeneratePrivateKey()
	aliceReward := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)
	bobReward := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)
	aliceReferee := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)
	bobReferee := identity.NewIdentity(identity.GeneratePrivateKey(), identity.DefaultHiddenPuzzleHash)

	aliceWallet, bobWallet := wallet.NewMock(), wallet.NewMock()

	alice := potato.NewInitiator(potato.Config{
		OurChannelKey: aliceChannelKey, OurUnrollKey: aliceUnrollKey,
		OurRewardPH: aliceReward.PuzzleHash, OurRefereePH: aliceReferee.PuzzleHash,
		MyBalance: 600, TheirBalance: 400, ChannelCoinAmount: 1000, StartedWithPotato: true,
		Wallet: aliceWallet, UI: potato.NopLocalUI{}, Log: logger,
	}, chiatypes.CoinID(chiatypes.HashBytes([]byte("gamedemo-launcher"))))

	bob := potato.NewResponder(potato.Config{
		OurChannelKey: bobChannelKey, OurUnrollKey: bobUnrollKey,
		OurRewardPH: bobReward.PuzzleHash, OurRefereePH: bobReferee.PuzzleHash,
		MyBalance: 400, TheirBalance: 600, ChannelCoinAmount: 1000, StartedWithPotato: false,
		Wallet: bobWallet, UI: potato.NopLocalUI{}, Log: logger,
	})

	gameID := chiatypes.GameID("demo-game")
	// StartGames hands the potato to bob, so bob is the game's first mover.
	bobGame, aliceGame := buildCounterGamePair(bobReferee, aliceReferee, gameID, 200)

	start, err := alice.Start()
	if err != nil {
		log.Fatalf("alice Start: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, []exchange{{toBob: true, msg: start}})
	if alice.Step() != potato.Finished || bob.Step() != potato.Finished {
		log.Fatalf("handshake did not finish: alice=%v bob=%v", alice.Step(), bob.Step())
	}
	logger.Infof("handshake finished, channel puzzle hash %s", alice.Channel().ChannelCoin.Coin.PuzzleHash)

	startMsgs, err := alice.StartGames([]*channel.LiveGame{aliceGame})
	if err != nil {
		log.Fatalf("alice StartGames: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, toExchanges(true, startMsgs))
	printChannelState(alice, bob, getMovePanel("Alice", gameID, []byte("start-games")))

	bobMoveMsgs, err := bob.MakeMove(gameID, puzzlevm.EncodeAtom([]byte("+1")), []byte("entropy-1"))
	if err != nil {
		log.Fatalf("bob MakeMove: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, toExchanges(false, bobMoveMsgs))
	printChannelState(alice, bob, getMovePanel("Bob", gameID, []byte("+1")))

	aliceMoveMsgs, err := alice.MakeMove(gameID, puzzlevm.EncodeAtom([]byte("+1")), []byte("entropy-2"))
	if err != nil {
		log.Fatalf("alice MakeMove: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, toExchanges(true, aliceMoveMsgs))
	printChannelState(alice, bob, getMovePanel("Alice", gameID, []byte("+1")))

	acceptMsgs, err := bob.Accept(gameID, 120)
	if err != nil {
		log.Fatalf("bob Accept: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, toExchanges(false, acceptMsgs))

	shutdownMsgs, err := alice.ShutDown(nil)
	if err != nil {
		log.Fatalf("alice ShutDown: %v", err)
	}
	relay(alice, bob, aliceGame, bobGame, toExchanges(true, shutdownMsgs))

	logger.Infof("bob final step: %s, shutdown spend cached: %v", bob.Step(), bob.ShutdownSpend() != nil)
	printChannelState(alice, bob)
}

func toExchanges(toBob bool, msgs []potato.PeerMessage) []exchange {
	out := make([]exchange, len(msgs))
	for i, m := range msgs {
		out[i] = exchange{toBob: toBob, msg: m}
	}
	return out
}

// relay drains a queue of in-flight messages, dispatching each to the
// opposite side (round-tripping it through the wire encoding first) and
// re-queueing whatever replies that side produces, until nothing is left to
// deliver. StartGames is special-cased the same way potato.Handler
// requires: the receiving side supplies the *channel.LiveGame it already
// built locally rather than going through HandleMessage.
func relay(alice, bob *potato.Handler, aliceGame, bobGame *channel.LiveGame, queue []exchange) {
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		encoded, err := potato.EncodePeerMessage(e.msg)
		if err != nil {
			log.Fatalf("EncodePeerMessage: %v", err)
		}
		decoded, err := potato.DecodePeerMessage(encoded)
		if err != nil {
			log.Fatalf("DecodePeerMessage: %v", err)
		}

		var replies []potato.PeerMessage
		switch {
		case decoded.Kind == potato.KindStartGames && e.toBob:
			replies, err = bob.ReceiveStartGames(decoded.StartGames, []*channel.LiveGame{bobGame})
		case decoded.Kind == potato.KindStartGames:
			replies, err = alice.ReceiveStartGames(decoded.StartGames, []*channel.LiveGame{aliceGame})
		case e.toBob:
			replies, err = bob.HandleMessage(decoded)
		default:
			replies, err = alice.HandleMessage(decoded)
		}
		if err != nil {
			log.Fatalf("handling %v: %v", decoded.Kind, err)
		}
		for _, r := range replies {
			queue = append(queue, exchange{toBob: !e.toBob, msg: r})
		}
	}
}
