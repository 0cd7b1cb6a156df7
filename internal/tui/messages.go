package tui

import "github.com/Veraticus/dompet/internal/model"

// eventMsg carries one event of the running turn.
type eventMsg struct {
	event model.Event
}

// turnDoneMsg ends a turn.
type turnDoneMsg struct {
	err error
}
