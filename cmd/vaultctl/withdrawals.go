package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"evovault/core/session"
	"evovault/core/withdrawals"
)

func newWithdrawalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdrawals",
		Short: "Inspect withdrawal status results",
	}
	cmd.AddCommand(newWithdrawalsViewCmd(a))
	return cmd
}

type viewFlags struct {
	statuses string
	sort     string
	asc      bool
	page     int
	pageSize int
	export   string
}

func newWithdrawalsViewCmd(a *app) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "view <result.json>...",
		Short: "Merge partial results in order and print or export the view",
		Long: `Each file holds one partial result object or an array of them, as delivered
by the withdrawal status query. Files are merged in the order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.New(a.networkID(),
				session.WithLogger(a.logger),
				session.WithMetrics(nil),
				session.WithQuery(a.cfg.Query()))
			if err != nil {
				return err
			}
			defer sess.Close()

			for _, path := range args {
				results, err := readPartialResults(path)
				if err != nil {
					return err
				}
				for _, result := range results {
					if _, err := sess.Apply(result); err != nil {
						return err
					}
				}
			}

			q, err := flags.query(cmd, sess.Query())
			if err != nil {
				return err
			}
			if flags.export != "" {
				return exportView(sess, q, flags.export, cmd)
			}
			view, err := sess.Render(q)
			if err != nil {
				return err
			}
			if a.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			printView(cmd, view)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.statuses, "status", "", "comma separated statuses to show (empty shows nothing)")
	cmd.Flags().StringVar(&flags.sort, "sort", "", "sort column (date_time, status, amount, owner_id, destination)")
	cmd.Flags().BoolVar(&flags.asc, "asc", false, "sort ascending")
	cmd.Flags().IntVar(&flags.page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "page size (10, 15, 20, 30, 50)")
	cmd.Flags().StringVar(&flags.export, "export", "", "write every matching record to a .csv or .parquet file instead of printing")
	return cmd
}

func (f viewFlags) query(cmd *cobra.Command, q withdrawals.Query) (withdrawals.Query, error) {
	if cmd.Flags().Changed("status") {
		set, err := withdrawals.ParseStatusSet(f.statuses)
		if err != nil {
			return q, err
		}
		q.Statuses = set
	}
	if f.sort != "" {
		column, err := withdrawals.ParseSortColumn(f.sort)
		if err != nil {
			return q, err
		}
		q.Sort = withdrawals.Sort{Column: column, Ascending: f.asc}
	} else if cmd.Flags().Changed("asc") {
		q.Sort.Ascending = f.asc
	}
	if f.pageSize != 0 {
		size, err := withdrawals.ParsePageSize(f.pageSize)
		if err != nil {
			return q, err
		}
		q.PageSize = size
	}
	q.Page = f.page - 1
	return q, nil
}

func readPartialResults(path string) ([]withdrawals.PartialResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []withdrawals.PartialResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return results, nil
	}
	var result withdrawals.PartialResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []withdrawals.PartialResult{result}, nil
}

func exportView(sess *session.Session, q withdrawals.Query, path string, cmd *cobra.Command) error {
	snap, _, err := sess.Snapshot()
	if err != nil {
		return err
	}
	records := withdrawals.Filter(snap.Withdrawals, q.Statuses)
	withdrawals.SortRecords(records, q.Sort)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		if err := withdrawals.WriteParquet(path, records); err != nil {
			return err
		}
	case ".csv":
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := withdrawals.WriteCSV(file, records); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported export format %q (use .csv or .parquet)", filepath.Ext(path))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d withdrawals to %s\n", len(records), path)
	return nil
}

func printView(cmd *cobra.Command, view session.View) {
	out := cmd.OutOrStdout()
	if !view.Populated {
		fmt.Fprintln(out, "no withdrawal results")
		return
	}
	fmt.Fprintf(out, "Total withdrawn: %s  Recent: %s  Daily limit: %s  Platform credits: %s\n",
		withdrawals.FormatDash(view.TotalAmount),
		withdrawals.FormatDash(view.RecentWithdrawalAmount),
		withdrawals.FormatDash(view.DailyWithdrawalLimit),
		withdrawals.FormatDash(view.TotalCreditsOnPlatform))
	if view.Error != "" {
		fmt.Fprintf(out, "Last query error: %s\n", view.Error)
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Date", "Status", "Amount", "Owner", "Destination"})
	table.SetAutoWrapText(false)
	for _, r := range view.Records {
		table.Append([]string{
			r.DateTime.UTC().Format("2006-01-02 15:04:05"),
			r.Status.String(),
			withdrawals.FormatDash(r.Amount),
			r.OwnerID.String(),
			r.Address,
		})
	}
	table.Render()

	page := 0
	if view.PageCount > 0 {
		page = view.Page.Page + 1
	}
	fmt.Fprintf(out, "Page %d of %d (%d of %d withdrawals shown by filter %q, sorted by %s %s)\n",
		page, view.PageCount, view.Filtered, view.Total, view.Statuses, view.SortColumn, direction(view.Ascending))
}

func direction(ascending bool) string {
	if ascending {
		return "ascending"
	}
	return "descending"
}

