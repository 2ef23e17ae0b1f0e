package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/fitlobby/fitlobby/internal/chat"
)

// ChatView displays the lobby chat log.
type ChatView struct {
	*tview.TextView
}

// NewChatView creates a new chat view.
func NewChatView() *ChatView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Chat ")

	return &ChatView{TextView: tv}
}

// Update refreshes the view. hasMore adds a hint that older history exists.
func (cv *ChatView) Update(msgs []chat.Message, hasMore bool) {
	cv.Clear()

	if hasMore {
		_, _ = fmt.Fprint(cv, " [::d]-- press 'o' for older messages --[-:-:-]\n\n")
	}

	for _, m := range msgs {
		switch {
		case m.IsSystem:
			_, _ = fmt.Fprintf(cv, " [::d]* %s[-:-:-]\n", tview.Escape(m.Text))
		case m.Pending():
			_, _ = fmt.Fprintf(cv, " [::b]%s[-:-:-] [::d]sending...[-:-:-]\n %s\n\n",
				tview.Escape(m.Sender), tview.Escape(m.Text))
		default:
			ts := time.Unix(m.Timestamp, 0).Format("15:04")
			_, _ = fmt.Fprintf(cv, " [::b]%s[-:-:-] [::d]%s[-:-:-]\n %s\n\n",
				tview.Escape(m.Sender), ts, tview.Escape(m.Text))
		}
	}

	cv.ScrollToEnd()
}
