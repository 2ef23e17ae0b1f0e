package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/fitlobby/fitlobby/internal/lobby"
)

// MemberList displays the lobby roster with readiness, role and online
// indicators.
type MemberList struct {
	*tview.Table
	selfID string
}

// NewMemberList creates a new member list.
func NewMemberList(selfID string) *MemberList {
	table := tview.NewTable().
		SetSelectable(true, false)
	table.SetBorder(true).SetTitle(" Members ")

	return &MemberList{Table: table, selfID: selfID}
}

// SelectedUserID returns the user id of the highlighted row, or "".
func (ml *MemberList) SelectedUserID() string {
	row, _ := ml.GetSelection()
	cell := ml.GetCell(row, 0)
	if cell == nil {
		return ""
	}
	id, _ := cell.GetReference().(string)
	return id
}

// Update refreshes the roster. online reports global-scope presence; the
// lobby scope has its own meaning and is not shown here.
func (ml *MemberList) Update(sess *lobby.Session, online func(userID string) bool) {
	ml.Clear()
	if sess == nil {
		return
	}

	for i, m := range sess.Members {
		dot := "[grey]o[-]"
		if online(m.UserID) {
			dot = "[green]o[-]"
		}

		name := m.DisplayName
		if name == "" {
			name = m.UserID
		}
		if m.UserID == ml.selfID {
			name += " (you)"
		}
		if m.UserID == sess.InitiatorID {
			name += " [yellow]*[-]"
		}

		ready := "[::d]waiting[-:-:-]"
		if m.Status == lobby.StatusReady {
			ready = "[green]ready[-]"
		}

		cell := tview.NewTableCell(fmt.Sprintf(" %s %s", dot, name)).
			SetReference(m.UserID).
			SetExpansion(1)
		ml.SetCell(i, 0, cell)
		ml.SetCell(i, 1, tview.NewTableCell(ready).SetAlign(tview.AlignRight))
	}

	if sess.Workout.HasPlan() {
		row := len(sess.Members)
		ml.SetCell(row, 0, tview.NewTableCell("").SetSelectable(false))
		title := sess.Workout.Title
		if title == "" {
			title = "Workout plan ready"
		}
		ml.SetCell(row+1, 0, tview.NewTableCell(" [green::b]"+tview.Escape(title)+"[-:-:-]").
			SetSelectable(false).
			SetTextColor(tcell.ColorGreen))
	}
}
