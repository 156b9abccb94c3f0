package pgrest

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc <function>",
	Short: "Call a stored function",
	Long: `Calls /rpc/<function> with --args as the JSON body. The schema flag
selects the schema the function is looked up in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("args")
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("--args is not valid JSON")
		}

		logger, err := newLogger(cfg.Log.Level)
		if err != nil {
			return err
		}
		defer logger.Sync()

		client, err := newClient(logger)
		if err != nil {
			return err
		}
		return execute(cmd.Context(), cmd, client.RPC(args[0], json.RawMessage(raw)))
	},
}

func init() {
	rpcCmd.Flags().StringP("args", "a", "{}", "function arguments as a JSON object")
	rpcCmd.Flags().Bool("status", false, "print the status line before the body")
	rootCmd.AddCommand(rpcCmd)
}
