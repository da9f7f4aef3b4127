package redemption

import "fmt"

// State описывает шаг саги погашения.
type State string

const (
	StateRequested           State = "REQUESTED"
	StatePointsDebited       State = "POINTS_DEBITED"
	StateSettlementAttempted State = "SETTLEMENT_ATTEMPTED"
	StateConfirmed           State = "CONFIRMED"
	StateRolledBack          State = "ROLLED_BACK"
)

var transitions = map[State][]State{
	StateRequested:           {StatePointsDebited},
	StatePointsDebited:       {StateSettlementAttempted, StateConfirmed, StateRolledBack},
	StateSettlementAttempted: {StateConfirmed, StateRolledBack},
}

// saga отслеживает переходы одной попытки погашения.
type saga struct {
	id    string
	state State
}

func newSaga() *saga {
	return &saga{state: StateRequested}
}

func (s *saga) advance(to State) error {
	if s.state.terminal() {
		return fmt.Errorf("redemption %s: already %s", s.id, s.state)
	}
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("redemption %s: illegal transition %s -> %s", s.id, s.state, to)
}

func (s State) terminal() bool {
	return s == StateConfirmed || s == StateRolledBack
}
