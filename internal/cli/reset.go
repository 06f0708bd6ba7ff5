package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <provider>",
	Short: "Close a provider's browser session",
	Long: `Close the browser session of one provider on the running service.
The next prompt for that provider opens a fresh browser.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, 30*time.Second)
	if err != nil {
		return err
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := client.do(cmd.Context(), http.MethodDelete, "/session/"+url.PathEscape(args[0]), nil, &resp); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}
