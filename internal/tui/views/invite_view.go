package views

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/rivo/tview"
)

// InviteView shows the shareable join link as a QR code plus the list of
// invitable group members.
type InviteView struct {
	*tview.TextView
}

// NewInviteView creates a new invite view.
func NewInviteView() *InviteView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).SetTitle(" Invite ")

	return &InviteView{TextView: tv}
}

// Update re-renders the QR code and the candidate list.
func (iv *InviteView) Update(joinLink string, candidates []string) {
	iv.Clear()

	ascii := renderQR(joinLink)
	_, _ = fmt.Fprintf(iv, "\n  Share this link to invite:\n  [::b]%s[-:-:-]\n\n%s\n", tview.Escape(joinLink), ascii)

	if len(candidates) == 0 {
		_, _ = fmt.Fprint(iv, "  [::d]No group members available to invite.[-:-:-]\n")
	} else {
		_, _ = fmt.Fprintf(iv, "  Online in your group: %s\n  [::d]Press 'a' to invite them all.[-:-:-]\n",
			tview.Escape(strings.Join(candidates, ", ")))
	}
	_, _ = fmt.Fprint(iv, "\n  [::d]Esc to go back.[-:-:-]")
}

// renderQR converts a string to a compact ASCII QR code using Unicode
// half-block characters.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder

	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('\u2588')
			case top && !bot:
				sb.WriteRune('\u2580')
			case !top && bot:
				sb.WriteRune('\u2584')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}

	return sb.String()
}
