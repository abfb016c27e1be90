// Package report renders command output for humans: facet tables, account and job listings, and
// the host summary of a submitted scan.
package report

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/gookit/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/savioxavier/termlink"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	hostURL   = "https://www.shodan.io/host/%s"
	searchURL = "https://www.shodan.io/search?query=%s"
)

// Reporter writes reports to w, with colors and hyperlinks when w is a capable terminal.
type Reporter struct {
	w         io.Writer
	useColor  bool
	useLinks  bool
	colors    Styles
	termWidth int
	numbers   *message.Printer
}

// Styles are the color styles used by the reporter.
type Styles struct {
	Count   color.Style
	Key     color.Style
	Val     color.Style
	Host    color.Style
	Label   color.Style
	Warning color.Style
}

// NewReporter creates a Reporter for w. Recognized flags: "no-colors", "no-links" and "colors"
// (force colors even when w is not a terminal).
func NewReporter(w io.Writer, args ...string) *Reporter {
	flags := map[string]bool{}
	for _, arg := range args {
		flags[arg] = true
	}

	isTTY := false
	width := 200
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		isTTY = term.IsTerminal(int(fd))
		if isTTY {
			if w, _, err := term.GetSize(int(fd)); err == nil {
				width = w
			}
		}
	}

	useColor := ((color.SupportColor() && isTTY) || flags["colors"]) && !flags["no-colors"]
	useLinks := (termlink.SupportsHyperlinks() && isTTY) && !flags["no-links"]

	return &Reporter{
		w:         w,
		useColor:  useColor,
		useLinks:  useLinks,
		termWidth: width,
		numbers:   message.NewPrinter(language.English),
		colors: Styles{
			Count:   color.New(color.FgDefault),
			Key:     color.New(color.FgCyan),
			Val:     color.New(color.FgGreen),
			Host:    color.New(color.FgCyan, color.OpBold),
			Label:   color.New(color.FgDefault, color.OpBold),
			Warning: color.New(color.FgYellow),
		},
	}
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *Reporter) paint(st color.Style, s string) string {
	if !r.useColor || s == "" {
		return s
	}
	return st.Render(s)
}

func (r *Reporter) linkHost(ip string) string {
	if !r.useLinks {
		return ip
	}
	return termlink.Link(ip, fmt.Sprintf(hostURL, url.PathEscape(ip)))
}

func (r *Reporter) linkQuery(q string) string {
	if !r.useLinks {
		return q
	}
	return fmt.Sprintf("%s %s", termlink.Link("→", fmt.Sprintf(searchURL, url.QueryEscape(q))), q)
}

// number renders n with thousands separators.
func (r *Reporter) number(n int64) string {
	return r.numbers.Sprintf("%d", n)
}

func (r *Reporter) newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.Style{
		Box: table.BoxStyle{
			PaddingLeft:      " ",
			PaddingRight:     " ",
			UnfinishedRow:    " ",
			TopSeparator:     "─",
			MiddleHorizontal: "─",
		},
		Format: table.FormatOptions{
			Header: text.FormatUpper,
			Row:    text.FormatDefault,
		}, Options: table.Options{
			DrawBorder:      false,
			SeparateColumns: true,
			SeparateFooter:  false,
			SeparateHeader:  true,
			SeparateRows:    false,
		},
	})
	t.SetOutputMirror(r.w)
	return t
}
