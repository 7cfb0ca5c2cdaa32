package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/config"
	"github.com/steveyegge/repoagents/internal/preflight"
	"github.com/steveyegge/repoagents/internal/ui"
)

var preflightCmd = &cobra.Command{
	Use:     "preflight",
	GroupID: "pipeline",
	Short:   "Check that an AI backend credential is configured",
	Long: `Fail the pipeline early when none of the configured credential variables
(credentials.env) is set. With --verify or preflight.verify, an API key is
also checked against the backend.`,
	Run: func(cmd *cobra.Command, args []string) {
		verify, _ := cmd.Flags().GetBool("verify")
		if !cmd.Flags().Changed("verify") {
			verify = config.GetBool(config.KeyPreflightVerify)
		}

		var verifier preflight.Verifier
		if verify {
			verifier = preflight.AnthropicVerifier{}
		}
		res, err := preflight.Run(getRootContext(), os.Getenv, config.GetStringSlice(config.KeyCredentialEnv), verifier)
		if err != nil {
			if jsonOutput {
				outputJSONError(err, "preflight")
			}
			FatalErrorWithHint(err.Error(), "add the credential as a repository secret; the compiled workflow exposes it to this job")
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		msg := fmt.Sprintf("credential found in %s", res.Env)
		if res.Verified {
			msg += " (verified)"
		}
		fmt.Printf("%s %s\n", ui.RenderPassIcon(), msg)
	},
}

func init() {
	preflightCmd.Flags().Bool("verify", false, "Verify an API key against the backend")
	rootCmd.AddCommand(preflightCmd)
}
