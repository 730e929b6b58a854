package main

import (
	"github.com/chia-gaming/channel-core/channel"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/gamehandler"
	"github.com/chia-gaming/channel-core/identity"
	"github.com/chia-gaming/channel-core/puzzlevm"
	"github.com/chia-gaming/channel-core/referee"
	"github.com/chia-gaming/channel-core/refereeargs"
	"github.com/chia-gaming/channel-core/validation"
)

// acceptAllValidation is the trivial on-chain validation program for the
// demo's counter game: every move is unconditionally accepted.
func acceptAllValidation() validation.Program {
	return puzzlevm.NativeProgram{
		Tag: puzzlevm.EncodeAtom([]byte("accept-all")),
		Func: func(solution puzzlevm.Program) (uint64, puzzlevm.Program, error) {
			return 0, validation.EncodeMoveOk(puzzlevm.EncodeUint64(1)), nil
		},
	}
}

func counterMod() refereeargs.RefereeMod {
	base := puzzlevm.EncodeAtom([]byte("counter-referee-mod"))
	return refereeargs.RefereeMod{ModHash: chiatypes.PuzzleHash(base.TreeHash()), Program: base}
}

// counterTurnHandler is the my-turn handler for the demo's game: it always
// sends moveBytes with the given share, and its waiting driver accepts
// whatever the peer sends, reports the incoming bytes as the readable move
// and hands back another counterTurnHandler for our reply. It stands in for
// whatever application logic a real game would plug in.
func counterTurnHandler(moveBytes []byte, share chiatypes.Amount) gamehandler.MyTurnHandler {
	return func(gamehandler.MyTurnInput) (gamehandler.MyTurnOutput, error) {
		return gamehandler.MyTurnOutput{
			WaitingDriver: func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
				return gamehandler.TheirTurnOutput{
					Accepted:          true,
					ReadableMove:      puzzlevm.EncodeAtom(in.MoveBytes),
					NewState:          puzzlevm.EncodeUint64(1),
					NextMyTurnHandler: counterTurnHandler(moveBytes, share),
				}, nil
			},
			MoveBytes:          moveBytes,
			MoverShare:         share,
			MaxMoveSize:        64,
			OutgoingValidation: acceptAllValidation(),
			IncomingValidation: acceptAllValidation(),
		}, nil
	}
}

// buildCounterGamePair builds the matching *channel.LiveGame objects both
// sides need before exchanging a StartGames message (spec §4.4: the potato
// layer never originates game-specific state, so both peers construct
// these out-of-band and only the summary travels over the wire).
func buildCounterGamePair(aliceIdentity, bobIdentity identity.Identity, gameID chiatypes.GameID, amount chiatypes.Amount) (aliceGame, bobGame *channel.LiveGame) {
	mod := counterMod()
	baseArgs := refereeargs.RefereePuzzleArgs{
		MoverPuzzleHash:  aliceIdentity.PuzzleHash,
		WaiterPuzzleHash: bobIdentity.PuzzleHash,
		Timeout:          100,
		Amount:           amount,
		Nonce:            chiatypes.Nonce(1),
		MaxMoveSize:      64,
	}

	aliceReferee := referee.New(referee.Params{
		GameID: gameID, Mod: mod, Evaluator: puzzlevm.NativeEvaluator{},
		MyIdentity: aliceIdentity, TheirPuzzle: bobIdentity.PuzzleHash,
		InitialArgs: baseArgs, InitialState: puzzlevm.EncodeUint64(0),
		Handler:           gamehandler.NewMyTurnHandler(counterTurnHandler([]byte("+1"), amount/2)),
		InitialValidation: acceptAllValidation(),
	})
	bobReferee := referee.New(referee.Params{
		GameID: gameID, Mod: mod, Evaluator: puzzlevm.NativeEvaluator{},
		MyIdentity: bobIdentity, TheirPuzzle: aliceIdentity.PuzzleHash,
		InitialArgs: baseArgs, InitialState: puzzlevm.EncodeUint64(0),
		Handler: gamehandler.NewTheirTurnHandler(func(in gamehandler.TheirTurnInput) (gamehandler.TheirTurnOutput, error) {
			return gamehandler.TheirTurnOutput{
				Accepted:          true,
				ReadableMove:      puzzlevm.EncodeAtom(in.MoveBytes),
				NewState:          puzzlevm.EncodeUint64(1),
				NextMyTurnHandler: counterTurnHandler([]byte("+1"), amount/2),
			}, nil
		}),
		InitialValidation: acceptAllValidation(),
	})

	puzzleHash := baseArgs.PuzzleHash(mod)
	aliceGame = &channel.LiveGame{
		GameID: gameID, Referee: aliceReferee,
		MyContribution: amount / 2, TheirContribution: amount / 2,
		LastRefereePuzzleHash: puzzleHash,
	}
	bobGame = &channel.LiveGame{
		GameID: gameID, Referee: bobReferee,
		MyContribution: amount / 2, TheirContribution: amount / 2,
		LastRefereePuzzleHash: puzzleHash,
	}
	return aliceGame, bobGame
}
