package pgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/edgeflare/pgrest/pkg/postgrest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var getCmd = &cobra.Command{
	Use:   "get <table>",
	Short: "Read rows from a table or view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(c *postgrest.Client) *postgrest.Builder {
			return c.From(args[0])
		})
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <table>",
	Short: "Insert rows given with --data as a JSON object or array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := dataFlag(cmd)
		if err != nil {
			return err
		}
		upsert, _ := cmd.Flags().GetBool("upsert")
		onConflict, _ := cmd.Flags().GetString("on-conflict")
		return runQuery(cmd, func(c *postgrest.Client) *postgrest.Builder {
			if upsert {
				b := c.From(args[0]).Upsert(data)
				if onConflict != "" {
					b.OnConflict(onConflict)
				}
				return b
			}
			return c.From(args[0]).Insert(data)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <table>",
	Short: "Update the rows matching the filters with --data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := dataFlag(cmd)
		if err != nil {
			return err
		}
		return runQuery(cmd, func(c *postgrest.Client) *postgrest.Builder {
			return c.From(args[0]).Update(data)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <table>",
	Short: "Delete the rows matching the filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, func(c *postgrest.Client) *postgrest.Builder {
			return c.From(args[0]).Delete()
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, insertCmd, updateCmd, deleteCmd} {
		addQueryFlags(cmd.Flags())
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{insertCmd, updateCmd} {
		cmd.Flags().StringP("data", "d", "", "JSON body")
		cmd.MarkFlagRequired("data")
	}
	insertCmd.Flags().Bool("upsert", false, "merge rows that conflict with existing ones")
	insertCmd.Flags().String("on-conflict", "", "columns that identify a conflicting row")
}

func addQueryFlags(f *pflag.FlagSet) {
	f.String("select", "", "columns to return, eg username,status")
	f.StringArray("eq", nil, "equality filter col=value, repeatable")
	f.StringArrayP("filter", "f", nil, "filter col=op.value, repeatable")
	f.String("or", "", "disjunction, eg age.lt.18,status.eq.OFFLINE")
	f.StringArray("order", nil, "order by col[.desc], repeatable")
	f.Int("limit", -1, "maximum number of rows")
	f.Int("offset", 0, "rows to skip")
	f.Bool("single", false, "expect exactly one row and return it as an object")
	f.String("count", "", "ask for a total count (exact, planned, estimated)")
	f.Bool("status", false, "print the status line before the body")
}

func dataFlag(cmd *cobra.Command) (json.RawMessage, error) {
	data, _ := cmd.Flags().GetString("data")
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// applyQueryFlags adds the filter and modifier flags of cmd to b.
func applyQueryFlags(f *pflag.FlagSet, b *postgrest.Builder) error {
	if sel, _ := f.GetString("select"); sel != "" {
		b.Select(sel)
	}
	eqs, _ := f.GetStringArray("eq")
	for _, kv := range eqs {
		col, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--eq %q: want col=value", kv)
		}
		b.Eq(col, val)
	}
	filters, _ := f.GetStringArray("filter")
	for _, kv := range filters {
		col, expr, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--filter %q: want col=op.value", kv)
		}
		op, val, ok := strings.Cut(expr, ".")
		if !ok {
			return fmt.Errorf("--filter %q: want col=op.value", kv)
		}
		b.Filter(col, op, val)
	}
	if or, _ := f.GetString("or"); or != "" {
		b.Or(or)
	}
	orders, _ := f.GetStringArray("order")
	for _, o := range orders {
		col, dir, _ := strings.Cut(o, ".")
		b.Order(col, postgrest.OrderOpts{Descending: dir == "desc"})
	}
	if limit, _ := f.GetInt("limit"); limit >= 0 {
		b.Limit(limit)
	}
	if offset, _ := f.GetInt("offset"); offset > 0 {
		b.Offset(offset)
	}
	if single, _ := f.GetBool("single"); single {
		b.Single()
	}
	if count, _ := f.GetString("count"); count != "" {
		b.Count(postgrest.CountKind(count))
	}
	return nil
}

func runQuery(cmd *cobra.Command, build func(*postgrest.Client) *postgrest.Builder) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := newClient(logger)
	if err != nil {
		return err
	}

	b := build(client)
	if err := applyQueryFlags(cmd.Flags(), b); err != nil {
		return err
	}
	return execute(cmd.Context(), cmd, b)
}

// execute sends b and writes the raw body to the command output. An error
// status is reported as an error after the body is written.
func execute(ctx context.Context, cmd *cobra.Command, b *postgrest.Builder) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := b.Execute(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if status, _ := cmd.Flags().GetBool("status"); status {
		fmt.Fprintf(out, "HTTP %d\n", resp.StatusCode)
	}
	writeBody(out, resp)

	if apiErr, ok := resp.APIError(); ok {
		return apiErr
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("server responded with status %d", resp.StatusCode)
	}
	return nil
}

func writeBody(w io.Writer, resp *postgrest.Response) {
	if len(resp.Body) == 0 {
		return
	}
	w.Write(resp.Body)
	if resp.Body[len(resp.Body)-1] != '\n' {
		io.WriteString(w, "\n")
	}
}
