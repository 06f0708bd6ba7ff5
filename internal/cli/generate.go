package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	generateProvider string
	generateTimeout  time.Duration
	generateChain    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt> [prompt...]",
	Short: "Send a prompt or a chain of prompts to the running service",
	Long: `Send a prompt to the running service and print the reply.
Several prompts (or --chain) run as one chain in a single conversation;
every reply is printed in order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateProvider, "provider", "p", "", "provider id (default chatgpt)")
	generateCmd.Flags().DurationVar(&generateTimeout, "timeout", 15*time.Minute, "how long to wait for the reply")
	generateCmd.Flags().BoolVar(&generateChain, "chain", false, "send a single prompt as a one-step chain")
	rootCmd.AddCommand(generateCmd)
}

type generateResult struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	Mode      string `json:"mode"`
	Result    any    `json:"result"`
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, generateTimeout)
	if err != nil {
		return err
	}

	req := map[string]any{"prompt": args[0]}
	if len(args) > 1 || generateChain {
		req["prompt"] = args
	}
	if generateProvider != "" {
		req["provider"] = generateProvider
	}

	var resp generateResult
	if err := client.do(cmd.Context(), http.MethodPost, "/generate", req, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch result := resp.Result.(type) {
	case []any:
		for i, r := range result {
			fmt.Fprintf(out, "[%d] %v\n", i+1, r)
		}
	default:
		fmt.Fprintln(out, result)
	}
	return nil
}
