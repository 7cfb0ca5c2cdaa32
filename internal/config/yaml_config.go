package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// KnownKeys are the scalar keys `ra config set` may write.
var KnownKeys = map[string]bool{
	KeyAgentsDir:      true,
	KeyWorkflowPath:   true,
	KeyWorkflowName:   true,
	KeyWorkflowRunsOn: true,
	KeyMaxParallel:    true,
	KeyToolVersion:    true,

	KeyPullRequestAuthor: true,
	KeyRequireExplicit:   true,

	KeyGitHubAPIURL:      true,
	KeyGitHubTokenEnv:    true,
	KeyGitHubRepository:  true,
	KeyGitHubRPS:         true,
	KeyGitHubRunLookback: true,

	KeyPreflightVerify:  true,
	KeyExecutionCommand: true,
	KeyExecutionTimeout: true,
	KeyOutputsDir:       true,
	KeyAuditLog:         true,

	KeyLogLevel:  true,
	KeyLogFormat: true,
}

// IsKnownKey reports whether key can be set from the command line.
// Gate check modes ("gate.checks.<id>.mode") are accepted too.
func IsKnownKey(key string) bool {
	if KnownKeys[key] {
		return true
	}
	return strings.HasPrefix(key, KeyGateChecks+".") && strings.HasSuffix(key, ".mode")
}

// SortedKnownKeys returns KnownKeys in sorted order.
func SortedKnownKeys() []string {
	keys := make([]string, 0, len(KnownKeys))
	for k := range KnownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetYamlConfig sets a value in the project's config file, creating
// .github/repo-agents.yaml in the working directory if none exists.
// Keys are written flat ("agents.dir: x"); viper resolves dotted keys.
func SetYamlConfig(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	configPath, err := findProjectConfig()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return fmt.Errorf("failed to get working directory: %w", cwdErr)
		}
		configPath = filepath.Join(cwd, ConfigDir, ConfigFileName)
		if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", ConfigDir, err)
		}
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from findProjectConfig
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
	}

	newContent := updateYamlKey(string(content), key, value)
	if !strings.HasSuffix(newContent, "\n") {
		newContent += "\n"
	}
	if err := os.WriteFile(configPath, []byte(newContent), 0o644); err != nil { //nolint:gosec // config is committed to the repository
		return fmt.Errorf("failed to write %s: %w", ConfigFileName, err)
	}
	return nil
}

// updateYamlKey updates a key in yaml content, handling commented-out keys.
// If the key exists (commented or not), it updates it in place.
// If the key doesn't exist, it appends it at the end.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))

	// Matches "key: value" or "# key: value" with optional leading whitespace.
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if !found && keyPattern.MatchString(line) {
			matches := keyPattern.FindStringSubmatch(line)
			result = append(result, matches[1]+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}

	return strings.Join(result, "\n")
}

// formatYamlValue formats a value appropriately for YAML.
func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}
	if isNumeric(value) || isDuration(value) {
		return value
	}
	if needsQuoting(value) {
		return fmt.Sprintf("%q", value)
	}
	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	suffix := s[len(s)-1]
	if suffix != 's' && suffix != 'm' && suffix != 'h' {
		return false
	}
	return isNumeric(s[:len(s)-1])
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	special := []string{":", "#", "[", "]", "{", "}", ",", "&", "*", "!", "|", ">", "'", "\"", "%", "@", "`"}
	for _, c := range special {
		if strings.Contains(s, c) {
			return true
		}
	}
	return strings.TrimSpace(s) != s
}
