package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var scanReq Request

var scanCmd = &cobra.Command{
	Use:   "scan [flags]",
	Short: "scan the demo relation once and print the rows",
	Long: `
  Scans the seeded items relation. Conditions take the form
  "column op value", e.g. --where "cat = 2" --where "name LIKE item-01%".
`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanReq.Action, "action", "scan", "scan, count or delete")
	f.StringVar(&scanReq.Table, "table", "items", "relation to scan")
	f.StringSliceVar(&scanReq.Columns, "columns", nil, "columns to project")
	f.StringArray("where", nil, `condition "column op value"`)
	f.StringSliceVar(&scanReq.Order, "order", nil, "order columns, '-' prefix for descending")
	f.StringVar(&scanReq.Index, "index", "", "key to scan")
	f.IntVar(&scanReq.Limit, "limit", 0, "stop after this many rows")
	f.BoolVar(&scanReq.Explain, "explain", false, "print the access plan")
}

func runScan(cmd *cobra.Command, args []string) error {
	conds, err := cmd.Flags().GetStringArray("where")
	if err != nil {
		return err
	}
	for _, s := range conds {
		c, err := parseCondition(s)
		if err != nil {
			return err
		}
		scanReq.Where = append(scanReq.Where, c)
	}

	ctx := cmd.Context()
	e := NewEngine(cfg, prometheus.NewRegistry())
	if err := e.Seed(ctx, seedRows); err != nil {
		return err
	}
	res, err := e.Run(ctx, &scanReq)
	if err != nil {
		return err
	}
	printResult(os.Stdout, &scanReq, res)
	return nil
}

func printResult(w io.Writer, req *Request, res *Result) {
	if res.Plan != "" {
		fmt.Fprintln(w, res.Plan)
		fmt.Fprintln(w)
	}
	switch req.Action {
	case "count":
		fmt.Fprintf(w, "%s rows (estimated %s)\n", humanize.Comma(res.Count), humanize.Comma(res.Estimate))
		return
	case "delete":
		fmt.Fprintf(w, "%s rows deleted\n", humanize.Comma(res.Count))
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(res.Columns)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(res.Rows)
	table.Render()
	fmt.Fprintf(w, "%s rows (estimated %s)\n", humanize.Comma(res.Count), humanize.Comma(res.Estimate))
}
