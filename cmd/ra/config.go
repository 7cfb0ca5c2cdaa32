package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage ra settings stored in .github/repo-agents.yaml.

Every key can also be set with an RA_ environment variable, dots and
dashes becoming underscores (agents.dir -> RA_AGENTS_DIR).

Examples:
  ra config set agents.dir .github/bots
  ra config set execution.command "claude -p \"$(cat $RA_INSTRUCTIONS_FILE)\""
  ra config set gate.checks.open-pr-cap.mode soft
  ra config get automation.identities
  ra config list`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if !config.IsKnownKey(key) {
			FatalErrorWithHint(fmt.Sprintf("unknown config key %q", key),
				"run 'ra config list' to see settable keys; list values are edited in the file")
		}
		if err := config.SetYamlConfig(key, value); err != nil {
			FatalError("setting config: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return
		}
		fmt.Printf("Set %s = %s\n", key, value)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a key",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		key := args[0]
		var value any = config.GetString(key)
		if key == config.KeyAutomationIdentities || key == config.KeyCredentialEnv {
			value = config.GetStringSlice(key)
		}
		if jsonOutput {
			outputJSON(map[string]any{"key": key, "value": value})
			return
		}
		if list, ok := value.([]string); ok {
			value = strings.Join(list, ", ")
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective settings",
	Run: func(_ *cobra.Command, _ []string) {
		keys := config.SortedKnownKeys()
		keys = append(keys, config.KeyAutomationIdentities, config.KeyCredentialEnv)
		sort.Strings(keys)

		if jsonOutput {
			out := make(map[string]any, len(keys))
			for _, k := range keys {
				out[k] = config.GetString(k)
			}
			out[config.KeyAutomationIdentities] = config.GetStringSlice(config.KeyAutomationIdentities)
			out[config.KeyCredentialEnv] = config.GetStringSlice(config.KeyCredentialEnv)
			outputJSON(out)
			return
		}

		if f := config.ConfigFileUsed(); f != "" {
			fmt.Println(ui.RenderMuted("# " + f))
		}
		for _, k := range keys {
			v := config.GetString(k)
			if k == config.KeyAutomationIdentities || k == config.KeyCredentialEnv {
				v = strings.Join(config.GetStringSlice(k), ", ")
			}
			fmt.Printf("%s = %s\n", ui.RenderAccent(k), v)
		}
		policy := config.GatePolicy()
		ids := make([]string, 0, len(policy.Checks))
		for id := range policy.Checks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			key := config.KeyGateChecks + "." + id + ".mode"
			fmt.Printf("%s = %s\n", ui.RenderAccent(key), policy.Checks[id].Mode)
		}
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
