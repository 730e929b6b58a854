// Package wallet renders the wallet/chain ABI of spec §6 as Go interfaces:
// the narrow surface the channel and potato layers need from an external
// wallet (submit a spend, register a coin for timeout notification) and the
// narrow surface the wallet needs back (bootstrap handshake bundles, coin
// lifecycle callbacks). Real wallet/chain wiring — RPC to a node, key
// management beyond what package identity already does — is out of scope;
// this package only fixes the boundary and supplies a reference
// implementation the tests and demo drive against, the same role
// consensus.NetworkLayer's in-memory fakes play in the teacher's own tests.
package wallet

import (
	"fmt"
	"sync"

	"github.com/chia-gaming/channel-core/chiaerr"
	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/identity"
)

// Spend is a single coin spend: the coin being spent, the conditions its
// puzzle evaluates to, and the aggregate signature authorizing it.
type Spend struct {
	Coin       chiatypes.CoinString
	Conditions []chiatypes.Condition
	Signature  identity.Signature
}

// SpendBundle groups the spends that must land in the same block, e.g. the
// channel-creation bundle exchanged during the handshake (spec §4.4,
// HandshakeE/F).
type SpendBundle struct {
	Spends []Spend
}

// WalletSpendInterface is everything the core asks an external wallet to do
// on its behalf: submit a spend (optionally adding a fee and chaining off a
// parent coin not yet confirmed) and arm a timeout notification for a coin
// it just created or is watching.
type WalletSpendInterface interface {
	SpendTransactionAndAddFee(spend Spend, parent *chiatypes.CoinString) error
	RegisterCoin(coin chiatypes.CoinID, timeout chiatypes.Timeout) error
}

// BootstrapTowardWallet is the handshake-time half of the ABI: the core
// reports the channel puzzle hash it derived and forwards the funding
// bundles exchanged as HandshakeE/F so the wallet can countersign and
// broadcast them.
type BootstrapTowardWallet interface {
	ChannelPuzzleHash(ph chiatypes.PuzzleHash)
	ReceivedChannelOffer(bundle SpendBundle)
	ReceivedChannelTransactionCompletion(bundle SpendBundle)
}

// SpendWalletReceiver is the set of coin-lifecycle callbacks the core
// expects the wallet to deliver: a coin it's watching was created, spent (it
// supplies the resulting conditions so the core can drive
// channel.Handler.UnrollCoinSpent), or its registered timeout was reached.
type SpendWalletReceiver interface {
	CoinCreated(coin chiatypes.CoinString)
	CoinSpent(coin chiatypes.CoinString, conditions []chiatypes.Condition)
	CoinTimeoutReached(coin chiatypes.CoinID)
}

// Mock is an in-memory WalletSpendInterface/BootstrapTowardWallet, recording
// every call it receives instead of touching a real chain. It plays the
// role consensus.NetworkLayer's in-memory fakes play in the teacher's own
// protocol_test.go: enough behavior for a single-process test to drive both
// sides of a handshake without a live wallet.
type Mock struct {
	mu sync.Mutex

	Spends         []Spend
	RegisteredByID map[chiatypes.CoinID]chiatypes.Timeout

	ChannelPuzzleHashes []chiatypes.PuzzleHash
	Offers              []SpendBundle
	Completions         []SpendBundle

	// FailNextSpend, if true, makes the next SpendTransactionAndAddFee call
	// return ErrWallet instead of recording the spend; consumed on use.
	FailNextSpend bool
}

func NewMock() *Mock {
	return &Mock{RegisteredByID: make(map[chiatypes.CoinID]chiatypes.Timeout)}
}

func (m *Mock) SpendTransactionAndAddFee(spend Spend, parent *chiatypes.CoinString) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextSpend {
		m.FailNextSpend = false
		return fmt.Errorf("%w: mock wallet forced failure", chiaerr.ErrWallet)
	}
	m.Spends = append(m.Spends, spend)
	return nil
}

func (m *Mock) RegisterCoin(coin chiatypes.CoinID, timeout chiatypes.Timeout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RegisteredByID[coin] = timeout
	return nil
}

func (m *Mock) ChannelPuzzleHash(ph chiatypes.PuzzleHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChannelPuzzleHashes = append(m.ChannelPuzzleHashes, ph)
}

func (m *Mock) ReceivedChannelOffer(bundle SpendBundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Offers = append(m.Offers, bundle)
}

func (m *Mock) ReceivedChannelTransactionCompletion(bundle SpendBundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completions = append(m.Completions, bundle)
}
