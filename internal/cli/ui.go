package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/matzehuels/postbuild/pkg/pipeline"
)

// Writers for command output and the spinner; replaced in tests.
var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - commands
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Styles
// =============================================================================

var (
	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleWritten = lipgloss.NewStyle().Foreground(colorGreen)
	styleReused  = lipgloss.NewStyle().Foreground(colorGray)

	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
	styleKey     = lipgloss.NewStyle().Foreground(colorGray).Width(12)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
	iconRemoved = "-"
)

// =============================================================================
// Status Output
// =============================================================================

func printSuccess(format string, args ...any) {
	fmt.Fprintln(out, styleIconSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Fprintln(out, styleIconError.Render(iconError)+" "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(out, styleIconWarning.Render(iconWarning)+" "+StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	fmt.Fprintln(out, styleIconInfo.Render(iconInfo)+" "+fmt.Sprintf(format, args...))
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	fmt.Fprintln(out, "  "+StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile prints a file line prefixed with icon.
func printFile(icon, path string) {
	fmt.Fprintln(out, "  "+StyleDim.Render(icon)+" "+StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	fmt.Fprintln(out, styleKey.Render(key)+" "+StyleValue.Render(value))
}

// printNextStep prints a suggested next command.
func printNextStep(description, cmd string) {
	fmt.Fprintln(out, StyleDim.Render(description+":")+" "+styleCommand.Render(cmd))
}

// =============================================================================
// Run Summaries
// =============================================================================

// printStats prints file and variant counts on a single line.
func printStats(res *pipeline.Result, variants *variantCounter) {
	parts := []string{
		fmt.Sprintf("%d html", res.HTMLFiles),
		fmt.Sprintf("%d css", res.CSSFiles),
		fmt.Sprintf("%d images", res.Optimized),
	}
	line := "  "
	for i, part := range parts {
		if i > 0 {
			line += StyleDim.Render(" · ")
		}
		line += StyleDim.Render(part)
	}
	if variants != nil {
		written, reused, size := variants.snapshot()
		line += StyleDim.Render(" · ") + styleWritten.Render(fmt.Sprintf("%d written (%s)", written, humanize.IBytes(uint64(size))))
		line += StyleDim.Render(" · ") + styleReused.Render(fmt.Sprintf("%d reused", reused))
	}
	line += StyleDim.Render(" · " + res.Duration.Round(time.Millisecond).String())
	fmt.Fprintln(out, line)
}

// printResult prints the outcome of a pipeline run.
func printResult(res *pipeline.Result, variants *variantCounter, dryRun bool) {
	verb := "Updated"
	if dryRun {
		verb = "Would update"
	}
	printSuccess("%s %s of %d files", verb, StyleNumber.Render(fmt.Sprint(res.Changed)), res.Files)
	printStats(res, variants)
	for _, p := range res.Removed {
		printFile(iconRemoved, p)
	}
	for _, d := range res.Diagnostics {
		printWarning("%s", d.String())
	}
	for _, f := range res.Failures {
		printError("%s", f.Error())
	}
}
