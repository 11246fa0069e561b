package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"
)

const dividerWidth = 50

// Printer renders reports with pterm. Every method is a no-op unless the
// mode is ModePlain, so callers never branch on the mode themselves.
type Printer struct {
	mode    Mode
	verbose bool
	writer  io.Writer
}

// NewPrinter creates a Printer writing to stdout.
func NewPrinter(mode Mode, verbose bool) *Printer {
	return NewPrinterWithWriter(mode, verbose, os.Stdout)
}

// NewPrinterWithWriter creates a Printer writing to w.
func NewPrinterWithWriter(mode Mode, verbose bool, w io.Writer) *Printer {
	return &Printer{mode: mode, verbose: verbose, writer: w}
}

// Mode reports the mode the printer was created with.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) active() bool {
	return p.mode == ModePlain
}

func (p *Printer) prefixed(pp pterm.PrefixPrinter, format string, args ...any) {
	if !p.active() {
		return
	}
	pp.WithWriter(p.writer).Printfln(format, args...)
}

// Header prints a full-width banner.
func (p *Printer) Header(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultHeader.
		WithWriter(p.writer).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println(text)
}

// Section prints a section title.
func (p *Printer) Section(text string) {
	if !p.active() {
		return
	}
	pterm.DefaultSection.WithWriter(p.writer).Println(text)
}

func (p *Printer) Info(format string, args ...any)    { p.prefixed(pterm.Info, format, args...) }
func (p *Printer) Success(format string, args ...any) { p.prefixed(pterm.Success, format, args...) }
func (p *Printer) Warning(format string, args ...any) { p.prefixed(pterm.Warning, format, args...) }
func (p *Printer) Error(format string, args ...any)   { p.prefixed(pterm.Error, format, args...) }

// Debug prints only when the printer is verbose.
func (p *Printer) Debug(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.prefixed(pterm.PrefixPrinter{
		Prefix: pterm.Prefix{Text: " DEBUG ", Style: pterm.NewStyle(pterm.BgGray, pterm.FgWhite)},
	}, format, args...)
}

// Table prints rows under a header row.
func (p *Printer) Table(headers []string, rows [][]string) {
	if !p.active() {
		return
	}
	data := append(pterm.TableData{headers}, rows...)
	pterm.DefaultTable.
		WithWriter(p.writer).
		WithHasHeader().
		WithData(data).
		Render() //nolint:errcheck
}

// BulletItem is one line of a bullet list.
type BulletItem struct {
	Level int
	Icon  string
	Text  string
	Style *pterm.Style
}

func (p *Printer) BulletList(items []BulletItem) {
	if !p.active() || len(items) == 0 {
		return
	}
	list := make([]pterm.BulletListItem, 0, len(items))
	for _, item := range items {
		list = append(list, pterm.BulletListItem{
			Level:     item.Level,
			Text:      item.Text,
			Bullet:    item.Icon,
			TextStyle: item.Style,
		})
	}
	pterm.DefaultBulletList.
		WithWriter(p.writer).
		WithItems(list).
		Render() //nolint:errcheck
}

// SpinnerHandle stops a running spinner. A nil handle is safe to use.
type SpinnerHandle struct {
	spinner *pterm.SpinnerPrinter
}

func (h *SpinnerHandle) Stop(msg string) {
	if h == nil || h.spinner == nil {
		return
	}
	if msg == "" {
		h.spinner.Stop() //nolint:errcheck
		return
	}
	h.spinner.Success(msg)
}

func (h *SpinnerHandle) Fail(msg string) {
	if h == nil || h.spinner == nil {
		return
	}
	h.spinner.Fail(msg)
}

// Spinner starts an animated spinner. Only use it when the writer is a
// terminal; it redraws in place.
func (p *Printer) Spinner(text string) *SpinnerHandle {
	if !p.active() {
		return nil
	}
	sp, err := pterm.DefaultSpinner.
		WithWriter(p.writer).
		WithRemoveWhenDone(true).
		Start(text)
	if err != nil {
		return nil
	}
	return &SpinnerHandle{spinner: sp}
}

// KeyValue prints aligned "key: value" lines. Pairs without exactly two
// elements are skipped.
func (p *Printer) KeyValue(pairs [][]string) {
	if !p.active() {
		return
	}
	width := 0
	for _, pair := range pairs {
		if len(pair) == 2 {
			width = max(width, runewidth.StringWidth(pair[0]))
		}
	}
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		key := runewidth.FillRight(pair[0]+":", width+1)
		fmt.Fprintf(p.writer, "  %s  %s\n", pterm.LightCyan(key), pair[1])
	}
}

func (p *Printer) Println(text string) {
	if !p.active() {
		return
	}
	fmt.Fprintln(p.writer, text)
}

func (p *Printer) Printf(format string, args ...any) {
	if !p.active() {
		return
	}
	fmt.Fprintf(p.writer, format, args...)
}

// Divider prints a horizontal rule.
func (p *Printer) Divider() {
	p.Println(pterm.Gray(strings.Repeat("─", dividerWidth)))
}

// StatusIcon returns a colored icon for a session status.
func StatusIcon(status string) string {
	switch status {
	case "done":
		return pterm.Green("✔")
	case "active":
		return pterm.Cyan("●")
	case "failed":
		return pterm.Red("✖")
	}
	return pterm.Gray("?")
}
