package console

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	colorBlue  = "\033[1;34m"
	colorWhite = "\033[1;37m"
	colorReset = "\033[0m"
)

// Color modes accepted by UseColor.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// UseColor decides whether output to w is coloured. In auto mode only
// terminals are.
func UseColor(mode string, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// PrintBanner writes the startup banner.
func PrintBanner(w io.Writer, color bool) {
	blue, white, reset := colorBlue, colorWhite, colorReset
	if !color {
		blue, white, reset = "", "", ""
	}
	fmt.Fprintf(w, "%sSTACK PROGRAM. BY JOHN MANALAC. LAST UPDATED MAY 22, 2023.\n", blue)
	fmt.Fprintf(w, "%sENTER /HELP TO VIEW COMMANDS. TYPE INTO STDIN TO SEND DATA.\n", white)
	fmt.Fprintf(w, "%s\n", reset)
}
