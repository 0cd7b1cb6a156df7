package model

// PendingMaxIdleTurns is how many turns an unanswered candidate list survives.
const PendingMaxIdleTurns = 2

// Candidate pairs a display number with the row it stands for.
type Candidate struct {
	Index int   `json:"index"`
	ID    int64 `json:"id"`
}

// Memory is the short-term conversational state of one tenant session.
// LastReference is a weak reference: the row may have been deleted since.
type Memory struct {
	PendingChange *Patch      `json:"pending_change,omitempty"`
	Pending       []Candidate `json:"pending,omitempty"`
	LastReference int64       `json:"last_reference,omitempty"`
	IdleTurns     int         `json:"idle_turns,omitempty"`
}

// HasPending reports whether a candidate list is awaiting the user's pick.
func (m Memory) HasPending() bool {
	return len(m.Pending) > 0
}

// Remember makes id the most recently discussed transaction.
func (m *Memory) Remember(id int64) {
	m.LastReference = id
}

// Forget drops the last reference, e.g. when its row no longer exists.
func (m *Memory) Forget() {
	m.LastReference = 0
}

// SetPending replaces the candidate list with ids numbered from 1.
func (m *Memory) SetPending(ids []int64, change *Patch) {
	m.Pending = make([]Candidate, len(ids))
	for i, id := range ids {
		m.Pending[i] = Candidate{Index: i + 1, ID: id}
	}
	m.PendingChange = change
	m.IdleTurns = 0
}

// ClearPending consumes or discards the candidate list.
func (m *Memory) ClearPending() {
	m.Pending = nil
	m.PendingChange = nil
	m.IdleTurns = 0
}

// Pick returns the id behind display number n.
func (m *Memory) Pick(n int) (int64, bool) {
	for _, c := range m.Pending {
		if c.Index == n {
			return c.ID, true
		}
	}
	return 0, false
}

// Clone returns a deep copy.
func (m Memory) Clone() Memory {
	out := m
	if m.Pending != nil {
		out.Pending = append([]Candidate(nil), m.Pending...)
	}
	if m.PendingChange != nil {
		change := *m.PendingChange
		out.PendingChange = &change
	}
	return out
}
