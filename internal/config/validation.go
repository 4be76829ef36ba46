package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Language codes as the CMS spells them: "en-us", "fr-ca", "zh-hant-tw"
	languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})*$`)
	channelNamePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	MissingLanguages   bool
	MissingChannels    bool
	InvalidLanguages   []string
	InvalidChannels    []string
	DuplicateLanguages []string
	DuplicateChannels  []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return e.MissingLanguages || e.MissingChannels ||
		len(e.InvalidLanguages) > 0 || len(e.InvalidChannels) > 0 ||
		len(e.DuplicateLanguages) > 0 || len(e.DuplicateChannels) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("sync configuration validation failed:\n")

	if e.MissingLanguages {
		sb.WriteString("\nNo languages configured (sync.languages)\n")
	}
	if e.MissingChannels {
		sb.WriteString("\nNo channels configured (sync.channels)\n")
	}

	writeList(&sb, "Invalid language codes", e.InvalidLanguages)
	if len(e.InvalidLanguages) > 0 {
		sb.WriteString("\nLanguage codes are lowercase, e.g. en-us, fr-ca\n")
	}
	writeList(&sb, "Invalid channel names", e.InvalidChannels)
	if len(e.InvalidChannels) > 0 {
		sb.WriteString("\nChannel names use lowercase letters, digits, '-' and '_', e.g. website\n")
	}
	writeList(&sb, "Duplicate languages", e.DuplicateLanguages)
	writeList(&sb, "Duplicate channels", e.DuplicateChannels)

	return sb.String()
}

func writeList(sb *strings.Builder, title string, values []string) {
	if len(values) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n%s:\n", title))
	for _, v := range values {
		sb.WriteString(fmt.Sprintf("  - %s\n", v))
	}
}

// ValidateSyncConfig validates the ordered language and channel lists
func ValidateSyncConfig(languages, channels []string) error {
	errs := &ValidationErrors{
		MissingLanguages: len(languages) == 0,
		MissingChannels:  len(channels) == 0,
	}

	errs.InvalidLanguages, errs.DuplicateLanguages = checkNames(languages, languageCodePattern)
	errs.InvalidChannels, errs.DuplicateChannels = checkNames(channels, channelNamePattern)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func checkNames(names []string, pattern *regexp.Regexp) (invalid, duplicate []string) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !pattern.MatchString(name) {
			invalid = append(invalid, name)
			continue
		}
		if seen[name] {
			duplicate = append(duplicate, name)
			continue
		}
		seen[name] = true
	}
	return invalid, duplicate
}
