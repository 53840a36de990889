package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Terminal styles. Whether they are applied is decided per Output, not by the
// package-level color.NoColor switch.
var (
	styleRed     = newStyle(color.FgRed)
	styleGreen   = newStyle(color.FgGreen)
	styleYellow  = newStyle(color.FgYellow)
	styleMagenta = newStyle(color.FgMagenta)
	styleCyan    = newStyle(color.FgCyan)
	styleWhite   = newStyle(color.FgWhite)
	styleBold    = newStyle(color.Bold)
	styleDim     = newStyle(color.Faint)
)

func newStyle(attr color.Attribute) *color.Color {
	c := color.New(attr)
	c.EnableColor()
	return c
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(w),
	}
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(styleGreen, format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(styleRed, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(styleYellow, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(styleCyan, format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(styleBold, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(styleDim, format, args...)
}

func (o *Output) colored(style *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.ColoredString(style, fmt.Sprintf(format, args...)))
}

// ColoredString returns a colored string without newline.
func (o *Output) ColoredString(style *color.Color, text string) string {
	if o.colorEnabled {
		return style.Sprint(text)
	}
	return text
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.ColoredString(styleGreen, text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.ColoredString(styleRed, text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.ColoredString(styleYellow, text)
}

// Cyan returns cyan colored text.
func (o *Output) Cyan(text string) string {
	return o.ColoredString(styleCyan, text)
}

// BoldText returns bold text.
func (o *Output) BoldText(text string) string {
	return o.ColoredString(styleBold, text)
}

// DimText returns dimmed text.
func (o *Output) DimText(text string) string {
	return o.ColoredString(styleDim, text)
}

// Side colors BUY green and SELL red.
func (o *Output) Side(side string) string {
	switch side {
	case "BUY":
		return o.Green(side)
	case "SELL":
		return o.Red(side)
	default:
		return side
	}
}

// PnLColor returns the appropriate color for P&L.
func (o *Output) PnLColor(pnl float64) *color.Color {
	if pnl > 0 {
		return styleGreen
	} else if pnl < 0 {
		return styleRed
	}
	return styleWhite
}

// FormatPnL formats P&L with color.
func (o *Output) FormatPnL(pnl float64) string {
	return o.ColoredString(o.PnLColor(pnl), FormatPnL(pnl))
}

// FormatPercent formats percentage with color.
func (o *Output) FormatPercent(pct float64) string {
	return o.ColoredString(o.PnLColor(pct), FormatPercent(pct))
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		output:  output,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = displayWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := displayWidth(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	t.printRow(t.headers, widths, true)
	t.printSeparator(widths)

	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, isHeader bool) {
	var parts []string
	for i, cell := range cells {
		if i < len(widths) {
			padding := widths[i] - displayWidth(cell)
			if padding < 0 {
				padding = 0
			}
			padded := cell + strings.Repeat(" ", padding)
			if isHeader && t.output.colorEnabled {
				padded = styleBold.Sprint(padded)
			}
			parts = append(parts, padded)
		}
	}
	t.output.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

func (t *Table) printSeparator(widths []int) {
	var parts []string
	for _, w := range widths {
		parts = append(parts, strings.Repeat("─", w))
	}
	sep := strings.Join(parts, "──")
	if t.output.colorEnabled {
		sep = styleDim.Sprint(sep)
	}
	t.output.Println(sep)
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// displayWidth counts runes so the rupee sign pads like one column.
func displayWidth(s string) int {
	return len([]rune(stripANSI(s)))
}

// Box draws a box around content.
func (o *Output) Box(title string, content []string) {
	maxLen := displayWidth(title)
	for _, line := range content {
		if l := displayWidth(line); l > maxLen {
			maxLen = l
		}
	}

	width := maxLen + 4
	border := strings.Repeat("─", width-2)
	titlePad := strings.Repeat(" ", width-4-displayWidth(title))

	if o.colorEnabled {
		edge := styleDim.SprintFunc()
		o.Printf("%s\n", edge("┌"+border+"┐"))
		o.Printf("%s %s%s %s\n", edge("│"), styleBold.Sprint(title), titlePad, edge("│"))
		o.Printf("%s\n", edge("├"+border+"┤"))
		for _, line := range content {
			padding := width - 4 - displayWidth(line)
			o.Printf("%s %s%s %s\n", edge("│"), line, strings.Repeat(" ", padding), edge("│"))
		}
		o.Printf("%s\n", edge("└"+border+"┘"))
	} else {
		plain := strings.Repeat("-", width-2)
		o.Printf("+%s+\n", plain)
		o.Printf("| %s%s |\n", title, titlePad)
		o.Printf("+%s+\n", plain)
		for _, line := range content {
			padding := width - 4 - displayWidth(line)
			o.Printf("| %s%s |\n", line, strings.Repeat(" ", padding))
		}
		o.Printf("+%s+\n", plain)
	}
}

// MarketStatus renders the NSE session state.
func (o *Output) MarketStatus(open bool) string {
	if open {
		return o.Green("● OPEN")
	}
	return o.Red("● CLOSED")
}

// ModeTag marks output produced against the paper broker.
func (o *Output) ModeTag(paper bool) string {
	if paper {
		return o.Yellow("[PAPER]")
	}
	return o.Magenta("[LIVE]")
}

// Magenta returns magenta colored text.
func (o *Output) Magenta(text string) string {
	return o.ColoredString(styleMagenta, text)
}
