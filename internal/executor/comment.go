package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// CommentVersion is the runtime version stamped into order comments.
const CommentVersion = "2.0"

// maxCommentLength is the broker's label limit.
const maxCommentLength = 100

// CommentFields is the structured payload carried in an order comment, the
// breadcrumb trail that makes a filled order attributable to the exact model
// state that produced it.
type CommentFields struct {
	Version     string
	Regime      int
	Action      int
	Intensity   int
	Balance     int
	DrawdownPct float64
	VirtualPnL  float64
}

// BuildComment renders the pipe-separated order comment
// O|{version}|{regime}|{action}|{intensity}|{balance}|{dd%}|{vpnl},
// truncated to the broker's 100-character label limit.
func BuildComment(regime, action, intensity int, balance, drawdownPct, virtualPnL float64) string {
	comment := fmt.Sprintf("O|%s|%d|%d|%d|%d|%.1f|%.2f",
		CommentVersion, regime, action, intensity, int(balance), drawdownPct, virtualPnL)
	if len(comment) > maxCommentLength {
		comment = comment[:maxCommentLength]
	}
	return comment
}

// ParseComment decodes a structured order comment. Returns false for
// anything that is not a well-formed "O|" comment.
func ParseComment(comment string) (CommentFields, bool) {
	if !strings.HasPrefix(comment, "O|") {
		return CommentFields{}, false
	}
	parts := strings.Split(comment, "|")
	if len(parts) < 8 {
		return CommentFields{}, false
	}

	regime, err1 := strconv.Atoi(parts[2])
	action, err2 := strconv.Atoi(parts[3])
	intensity, err3 := strconv.Atoi(parts[4])
	balance, err4 := strconv.Atoi(parts[5])
	dd, err5 := strconv.ParseFloat(parts[6], 64)
	vpnl, err6 := strconv.ParseFloat(parts[7], 64)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return CommentFields{}, false
		}
	}
	return CommentFields{
		Version:     parts[1],
		Regime:      regime,
		Action:      action,
		Intensity:   intensity,
		Balance:     balance,
		DrawdownPct: dd,
		VirtualPnL:  vpnl,
	}, true
}
