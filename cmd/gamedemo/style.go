package main

import (
	"github.com/pterm/pterm"

	"github.com/chia-gaming/channel-core/chiatypes"
	"github.com/chia-gaming/channel-core/potato"
)

func getMovePanel(name string, gameID chiatypes.GameID, moveBytes []byte) pterm.Panel {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	text := pterm.Sprintfln("%s moved %q in game %s", name, moveBytes, gameID)
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightYellow("|LAST MOVE|")).WithTitleTopCenter().Sprintf(text)}
}

func getPeerPanel(name string, h *potato.Handler) pterm.Panel {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	held := pterm.LightRed("no")
	if h.HavePotato() {
		held = pterm.LightGreen("yes")
	}
	var balance, theirBalance chiatypes.Amount
	if ch := h.Channel(); ch != nil {
		balance, theirBalance = ch.MyBalance, ch.TheirBalance
	}
	text := pterm.Sprintfln("step: %s\nhas potato: %s\nbalance: %d (peer: %d)", h.Step(), held, balance, theirBalance)
	return pterm.Panel{Data: pbox.WithTitle(pterm.LightCyan(name)).WithTitleTopLeft().Sprintf(text)}
}

func printChannelState(alice, bob *potato.Handler, additional ...pterm.Panel) {
	dashboard := []pterm.Panel{getPeerPanel("Alice", alice), getPeerPanel("Bob", bob)}
	dashboard = append(dashboard, additional...)
	pterm.DefaultPanel.WithPanels([][]pterm.Panel{dashboard}).Render()
}
