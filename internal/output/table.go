// Package output renders vmsnap results for the terminal and encodes them
// as JSON or YAML.
//
// Tables are plain ASCII with optional ANSI color. Color is only used when
// stdout is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/vmsnap/internal/consistency"
	"github.com/blackwell-systems/vmsnap/internal/runner"
	"github.com/blackwell-systems/vmsnap/internal/scrub"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderStatusTable renders one row per domain, sorted by name, followed by
// the first mismatch of each inconsistent domain.
func RenderStatusTable(records map[string]consistency.StatusRecord) string {
	if len(records) == 0 {
		return "No domains.\n"
	}

	domains := make([]string, 0, len(records))
	for d := range records {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-12s %-11s %-6s %-8s %-7s %-10s\n",
		"Domain", "Status", "Checkpoints", "Disks", "Markers", "Files", "Size"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	var notes []string
	for _, d := range domains {
		rec := records[d]

		markers, files, size := "-", "-", "-"
		if s := rec.BackupDirStats; s != nil {
			markers = fmt.Sprintf("%d", s.MarkerFiles)
			files = fmt.Sprintf("%d", s.TotalFiles)
			size = formatSize(s.TotalSize)
		}

		// Pad before coloring so escape codes do not break alignment.
		status := fmt.Sprintf("%-12s", rec.OverallStatus)
		if rec.Consistent() {
			status = colorize(colorGreen, status)
		} else {
			status = colorize(colorRed, status)
		}

		sb.WriteString(fmt.Sprintf("%-20s %s %-11d %-6d %-8s %-7s %-10s\n",
			truncate(d, 20), status, len(rec.Checkpoints), len(rec.Disks), markers, files, size))

		if rec.Detail != nil {
			notes = append(notes, fmt.Sprintf("%s: %s", d, describeMismatch(rec.Detail)))
		}
	}

	if len(notes) > 0 {
		sb.WriteString("\n")
		for _, n := range notes {
			sb.WriteString(colorize(colorYellow, "⚠ "+n))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func describeMismatch(m *consistency.Mismatch) string {
	switch m.Source {
	case consistency.SourceBitmaps:
		return fmt.Sprintf("disk %s has %d bitmaps, expected %d", m.Disk, m.Actual, m.Expected)
	case consistency.SourceBackupDir:
		return fmt.Sprintf("backup directory has %d checkpoint files, expected %d", m.Actual, m.Expected)
	}
	return fmt.Sprintf("%s mismatch: %d != %d", m.Source, m.Actual, m.Expected)
}

// RenderBackupTable summarizes a backup run.
func RenderBackupTable(results []runner.DomainResult) string {
	if len(results) == 0 {
		return "No domains backed up.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-8s %-8s %-9s %-30s %s\n",
		"Domain", "Result", "Cleaned", "Duration", "Pruned", "Output"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	var failures []string
	ok := 0
	for _, r := range results {
		result := fmt.Sprintf("%-8s", "ok")
		if r.OK() {
			ok++
			result = colorize(colorGreen, result)
		} else {
			result = colorize(colorRed, fmt.Sprintf("%-8s", "failed"))
			failures = append(failures, fmt.Sprintf("%s: %v", r.Domain, r.Err))
		}

		cleaned := "no"
		if r.Cleaned {
			cleaned = "yes"
		}
		pruned := "-"
		if r.PrunedPath != "" {
			pruned = filepath.Base(r.PrunedPath)
		}
		out := r.OutputPath
		if out == "" {
			out = colorize(colorGray, "-")
		}

		sb.WriteString(fmt.Sprintf("%-20s %s %-8s %-9s %-30s %s\n",
			truncate(r.Domain, 20), result, cleaned, formatDuration(r.Duration), pruned, out))
	}

	sb.WriteString(fmt.Sprintf("\n%d of %d domains backed up.\n", ok, len(results)))
	for _, f := range failures {
		sb.WriteString(colorize(colorRed, "✗ "+f))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderScrubTable lists every scrubbed item that failed, after a per-domain
// count of what was removed.
func RenderScrubTable(reports []scrub.Report) string {
	if len(reports) == 0 {
		return "Nothing scrubbed.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-12s %-8s %-7s\n", "Domain", "Checkpoints", "Bitmaps", "Failed"))
	sb.WriteString(strings.Repeat("─", 50))
	sb.WriteString("\n")

	var failed []string
	for _, rep := range reports {
		f := rep.Failed()
		sb.WriteString(fmt.Sprintf("%-20s %-12d %-8d %-7d\n",
			truncate(rep.Domain, 20), rep.Removed(scrub.KindCheckpoint), rep.Removed(scrub.KindBitmap), len(f)))
		for _, it := range f {
			target := it.ID
			if it.Disk != "" {
				target = it.Disk + "/" + it.ID
			}
			failed = append(failed, fmt.Sprintf("%s %s %s: %v", rep.Domain, it.Kind, target, it.Err))
		}
	}

	if len(failed) > 0 {
		sb.WriteString("\n")
		for _, f := range failed {
			sb.WriteString(colorize(colorRed, "✗ "+f))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// formatSize renders bytes as 1.2 GB; zero is shown as 0 B.
func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(bytes))
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
