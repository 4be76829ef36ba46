package notify

import (
	"fmt"
	"strings"
	"time"

	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// FormatSuccessMessage creates a success notification body.
func FormatSuccessMessage(result *cmssync.RunResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Languages: %d\n", len(result.Languages)))
	sb.WriteString(fmt.Sprintf("Changed: %d\n", result.ChangedCount()))
	sb.WriteString(fmt.Sprintf("Sitemaps refreshed: %d\n", result.SitemapCount()))
	writeChanged(&sb, result)
	sb.WriteString(fmt.Sprintf("Duration: %s", result.Duration.Round(time.Millisecond)))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body. result may be nil
// when the run never started.
func FormatFailureMessage(result *cmssync.RunResult, err error) string {
	var sb strings.Builder

	if result != nil {
		if result.Failed != "" {
			sb.WriteString(fmt.Sprintf("Failed language: %s\n", result.Failed))
		}
		sb.WriteString(fmt.Sprintf("Completed before failure: %d\n", len(result.Languages)))
		writeChanged(&sb, result)
		sb.WriteString(fmt.Sprintf("Duration: %s", result.Duration.Round(time.Millisecond)))
	}

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	return strings.TrimLeft(sb.String(), "\n")
}

func writeChanged(sb *strings.Builder, result *cmssync.RunResult) {
	for _, l := range result.Languages {
		if !l.Changed {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: items %d -> %d, pages %d -> %d",
			l.Language, l.Previous.ItemToken, l.Current.ItemToken, l.Previous.PageToken, l.Current.PageToken))
		if len(l.SitemapsUpdated) > 0 {
			sb.WriteString(fmt.Sprintf(" (sitemaps: %s)", strings.Join(l.SitemapsUpdated, ", ")))
		}
		sb.WriteString("\n")
	}
}
