package ticket

import "github.com/totalracingleague26/Dave-bot/pkg/protocol"

var statusTransitions = map[protocol.TicketStatus]map[protocol.TicketStatus]bool{
	protocol.TicketOpen: {
		protocol.TicketClaimed: true,
		protocol.TicketClosed:  true,
	},
	protocol.TicketClaimed: {
		protocol.TicketClosed: true,
	},
}

// CanTransition reports whether a ticket may move from one status to another.
// Closed is terminal.
func CanTransition(from, to protocol.TicketStatus) bool {
	if from == to {
		return true
	}
	return statusTransitions[from][to]
}
