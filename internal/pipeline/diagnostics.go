package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxStageOutput bounds the output kept for one stage.
	MaxStageOutput = 4 << 10
	// MaxDiagnostics bounds the diagnostics kept for one run.
	MaxDiagnostics = 32 << 10

	truncatedMarker = "\n... [truncated]\n"
)

// diagnostics accumulates per-stage output within fixed bounds.
type diagnostics struct {
	perStage int
	total    int
	b        strings.Builder
	full     bool
}

func newDiagnostics(perStage, total int) *diagnostics {
	if perStage <= 0 {
		perStage = MaxStageOutput
	}
	if total <= 0 {
		total = MaxDiagnostics
	}
	return &diagnostics{perStage: perStage, total: total}
}

// add appends one section. Long output keeps its tail, where failures
// are usually reported.
func (d *diagnostics) add(stage Stage, exitCode int, output string) {
	if d.full {
		return
	}
	section := fmt.Sprintf("== %s (exit %d) ==\n%s", stage, exitCode, tail(output, d.perStage))
	if !strings.HasSuffix(section, "\n") {
		section += "\n"
	}
	d.write(section)
}

// note appends a single line.
func (d *diagnostics) note(stage Stage, format string, args ...any) {
	if d.full {
		return
	}
	d.write(fmt.Sprintf("== %s == %s\n", stage, fmt.Sprintf(format, args...)))
}

func (d *diagnostics) write(s string) {
	room := d.total - d.b.Len()
	if len(s) <= room {
		d.b.WriteString(s)
		return
	}
	d.full = true
	if room > len(truncatedMarker) {
		d.b.WriteString(head(s, room-len(truncatedMarker)))
		d.b.WriteString(truncatedMarker)
	}
}

func (d *diagnostics) String() string {
	return d.b.String()
}

// head keeps at most n bytes of s without splitting a rune.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tail keeps at most the last n bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "[truncated] ..." + s[i:]
}

// combined joins stdout and stderr the way a terminal would show them.
func combined(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	case strings.HasSuffix(stdout, "\n"):
		return stdout + stderr
	default:
		return stdout + "\n" + stderr
	}
}
