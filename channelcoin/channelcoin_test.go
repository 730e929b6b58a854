package channelcoin

import (
	"testing"

	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/identity"
)

func newKey() identity.PrivateKey { return identity.GeneratePrivateKey() }

func TestBuildConditionsOrdersByStartedWithPotato(t *testing.T) {
	ourPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("our-ph")))
	theirPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("their-ph")))

	withPotato := BuildConditions(true, 4, ourPH, 100, theirPH, 200, nil)
	if withPotato[0].PuzzleHash != ourPH || withPotato[1].PuzzleHash != theirPH {
		t.Fatalf("expected our payout first when we started with the potato, got %+v", withPotato[:2])
	}

	withoutPotato := BuildConditions(false, 4, ourPH, 100, theirPH, 200, nil)
	if withoutPotato[0].PuzzleHash != theirPH || withoutPotato[1].PuzzleHash != ourPH {
		t.Fatalf("expected their payout first when they started with the potato, got %+v", withoutPotato[:2])
	}
}

func TestBuildConditionsIncludesGamesAndStateNumberRem(t *testing.T) {
	ourPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("our-ph")))
	theirPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("their-ph")))
	games := []GamePayout{
		{RefereePuzzleHash: chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("game-1"))), Amount: 50},
	}
	conditions := BuildConditions(true, 7, ourPH, 100, theirPH, 200, games)
	if len(conditions) != 4 {
		t.Fatalf("expected 2 balance + 1 game + 1 rem = 4 conditions, got %d", len(conditions))
	}
	payload, ok := chiatypes.FindRem(conditions)
	if !ok {
		t.Fatal("expected a REM condition carrying the state number")
	}
	if len(payload) != 8 || payload[7] != 7 {
		t.Fatalf("unexpected state-number payload: %x", payload)
	}
}

func TestUnrollCoinUpdateAndVerifyRoundTrip(t *testing.T) {
	ourKey := newKey()
	theirKey := newKey()
	aggPK := identity.AggregatePublicKeys(ourKey.Public(), theirKey.Public())

	ourPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("our-ph")))
	theirPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("their-ph")))

	ourUnroll := &UnrollCoin{StartedWithPotato: true, StateNumber: 1}
	if err := ourUnroll.Update(ourKey, ourPH, 600, theirPH, 400, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	theirUnroll := &UnrollCoin{StartedWithPotato: true, StateNumber: 1}
	if err := theirUnroll.Update(theirKey, ourPH, 600, theirPH, 400, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ourUnroll.Outcome.Hash != theirUnroll.Outcome.Hash {
		t.Fatal("both peers must derive the same unroll conditions hash from identical inputs")
	}

	ok, err := ourUnroll.Verify(aggPK, ourUnroll.Outcome.Signature, theirUnroll.Outcome.Signature)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected aggregated unroll signature to verify")
	}
}

func TestUnrollCoinVerifyBeforeUpdateFails(t *testing.T) {
	u := &UnrollCoin{}
	if _, err := u.Verify(identity.PublicKey{}, identity.Signature{}, identity.Signature{}); err == nil {
		t.Fatal("expected Verify to fail before Update has been called")
	}
}

func TestChannelCoinSignAndVerify(t *testing.T) {
	ourKey := newKey()
	theirKey := newKey()
	aggPK := identity.AggregatePublicKeys(ourKey.Public(), theirKey.Public())
	aggSK := ourKey.Add(theirKey)

	coin := ChannelCoin{Coin: chiatypes.CoinString{Amount: 1000}}
	unrollPH := chiatypes.PuzzleHash(chiatypes.HashBytes([]byte("unroll-ph")))
	conditions := SpendToUnroll(3, unrollPH, 1000)

	sig, err := coin.Sign(aggSK, conditions)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !coin.Verify(aggPK, conditions, sig) {
		t.Fatal("expected channel coin spend signature to verify")
	}

	tampered := append([]chiatypes.Condition(nil), conditions...)
	tampered[1].Amount = 999
	if coin.Verify(aggPK, tampered, sig) {
		t.Fatal("expected verification to fail against tampered conditions")
	}
}
