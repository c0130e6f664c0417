package exchange

import "strings"

// State is the phase of one in-flight exchange.
type State int

const (
	// StateThinking runs from submit until the first visible text arrives.
	StateThinking State = iota
	// StateResponding means visible response text is on screen.
	StateResponding
	// StateWorking means blocks were found and delivery is in progress.
	StateWorking
	// StateDone and StateError are terminal.
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateThinking:
		return "thinking"
	case StateResponding:
		return "responding"
	case StateWorking:
		return "working"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the finalized outcome of one exchange. Text holds the assistant's
// display text whenever the generation itself completed, including
// delivery-leg failures where the response is intact and only the handoff to
// the plugin went wrong. A mid-stream generation error never salvages partial
// text, and a response that produced no visible text yields none.
type Result struct {
	State   State
	Text    string
	ErrMsg  string
	Pushed  bool
	Aborted bool
}

// Machine folds stream events into one exchange state. Transitions only move
// forward; once a terminal state is reached every further event is ignored, so
// a late delivery signal can never regress a finalized exchange.
type Machine struct {
	state     State
	text      strings.Builder
	finalized bool
	errMsg    string
	pushed    bool
	aborted   bool
}

func NewMachine() *Machine {
	return &Machine{state: StateThinking}
}

func (m *Machine) State() State    { return m.state }
func (m *Machine) Finalized() bool { return m.finalized }

// Delta appends visible text. The first delta that yields non-whitespace text
// moves the exchange out of thinking; whitespace-only streams never do, so an
// empty response shows no bubble at all.
func (m *Machine) Delta(text string) {
	if m.finalized {
		return
	}
	m.text.WriteString(text)
	if m.state == StateThinking && strings.TrimSpace(m.text.String()) != "" {
		m.state = StateResponding
	}
}

// Building marks the start of block delivery.
func (m *Machine) Building() {
	if m.finalized || m.state >= StateWorking {
		return
	}
	m.state = StateWorking
}

// Outcome finalizes delivery: confirmed means done, refused means a delivery
// error the user can distinguish from a generation failure.
func (m *Machine) Outcome(pushed bool) {
	if m.finalized {
		return
	}
	m.pushed = pushed
	if pushed {
		m.finalize(StateDone, "")
		return
	}
	m.finalize(StateError, "Studio plugin did not receive the work. Check that the plugin is connected.")
}

// StreamError finalizes a provider or transport failure. Partial text is
// dropped: a cut-off stream may have been stripped mid-block and cannot be
// trusted for display.
func (m *Machine) StreamError(msg string) {
	if m.finalized {
		return
	}
	if msg == "" {
		msg = "Failed to get response"
	}
	m.text.Reset()
	m.finalize(StateError, msg)
}

// Stall finalizes a dead connection, same policy as a provider failure.
func (m *Machine) Stall() {
	m.StreamError("Response timed out")
}

// ApplyTimeout finalizes an overdue delivery confirmation. The streamed text
// is kept; only the delivery leg failed.
func (m *Machine) ApplyTimeout() {
	if m.finalized {
		return
	}
	m.finalize(StateError, "Timed out waiting for the Studio plugin to confirm.")
}

// Abort finalizes a user-initiated cancellation. Whatever text already
// streamed is kept as the final response; an abort is not a failure.
func (m *Machine) Abort() {
	if m.finalized {
		return
	}
	m.aborted = true
	m.finalize(StateDone, "")
}

// Done handles the stream's terminal frame. Reaching it while still working
// means the delivery outcome never arrived, which is a delivery error.
func (m *Machine) Done() {
	if m.finalized {
		return
	}
	if m.state == StateWorking {
		m.finalize(StateError, "Timed out waiting for the Studio plugin to confirm.")
		return
	}
	m.finalize(StateDone, "")
}

func (m *Machine) finalize(state State, errMsg string) {
	m.state = state
	m.errMsg = errMsg
	m.finalized = true
}

// Result returns the finalized exchange outcome. Transitions that must not
// show text (StreamError, Stall) have already reset the accumulator, so any
// remaining non-whitespace text is safe to display.
func (m *Machine) Result() Result {
	text := ""
	if strings.TrimSpace(m.text.String()) != "" {
		text = m.text.String()
	}
	return Result{
		State:   m.state,
		Text:    text,
		ErrMsg:  m.errMsg,
		Pushed:  m.pushed,
		Aborted: m.aborted,
	}
}
