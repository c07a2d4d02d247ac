package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/storynest/vignette/internal/vignette"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Results go to stdout, progress and diagnostics to stderr. Tests swap both.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// printVignette lists the nine panel URLs in reading order, then the panorama.
func printVignette(res vignette.Result) {
	printSuccess("Story %s: %d panels", res.StoryID, len(res.Panels))
	for _, p := range res.Panels {
		fmt.Fprintf(stdout, "%s %s\n", colorize(colorCyan, fmt.Sprintf("[%d]", p.Index)), p.ImageURL)
	}
	if res.PanoramicImageURL != "" {
		fmt.Fprintf(stdout, "%s %s\n", colorize(colorBold, "panorama"), res.PanoramicImageURL)
	}
	if res.GenerationID != "" {
		printStatus("Generation", "%s", res.GenerationID)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
