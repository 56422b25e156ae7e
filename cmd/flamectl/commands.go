package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/eepycrawl/flamekv/coordinator"
	flamecoord "github.com/eepycrawl/flamekv/flame/coordinator"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newSubmitCommand(flags *commandFlags) *cobra.Command {
	var showRunID bool
	m := &cobra.Command{
		Use:   "submit <job> [args...]",
		Short: "run a job on the Flame coordinator and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context()
			defer cancel()
			res, err := flamecoord.Submit(ctx, &http.Client{}, flags.flame, args[0], args[1:])
			if err != nil {
				return err
			}
			if showRunID {
				printLine(cmd, "run "+res.RunID)
			}
			printLine(cmd, res.Output)
			return nil
		},
	}
	m.Flags().BoolVar(&showRunID, "run-id", false, "also print the run ID")
	return m
}

func newWorkersCommand(flags *commandFlags) *cobra.Command {
	var flame bool
	m := &cobra.Command{
		Use:   "workers",
		Short: "list the live workers of the KVS or, with --of-flame, of Flame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context()
			defer cancel()
			addr := flags.kvs
			if flame {
				addr = flags.flame
			}
			workers, err := coordinator.FetchWorkers(ctx, &http.Client{}, addr)
			if err != nil {
				return err
			}
			printText(cmd, coordinator.FormatWorkers(workers))
			return nil
		},
	}
	m.Flags().BoolVar(&flame, "of-flame", false, "list Flame workers")
	return m
}

func newKVSCommand(flags *commandFlags) *cobra.Command {
	m := &cobra.Command{
		Use:   "kvs",
		Short: "read and write KVS tables",
	}
	m.AddCommand(
		&cobra.Command{
			Use:   "get <table> <row> <column>",
			Short: "print one cell",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := flags.context()
				defer cancel()
				v, err := flags.kvsClient().Get(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if v == nil {
					return errors.Errorf("no cell %s/%s/%s", args[0], args[1], args[2])
				}
				printLine(cmd, string(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "put <table> <row> <column> <value>",
			Short: "write one cell",
			Args:  cobra.ExactArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := flags.context()
				defer cancel()
				return flags.kvsClient().Put(ctx, args[0], args[1], args[2], []byte(args[3]))
			},
		},
		&cobra.Command{
			Use:   "count <table>",
			Short: "print the number of rows",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := flags.context()
				defer cancel()
				n, err := flags.kvsClient().Count(ctx, args[0])
				if err != nil {
					return err
				}
				printLine(cmd, strconv.Itoa(n))
				return nil
			},
		},
		newScanCommand(flags),
		&cobra.Command{
			Use:   "delete <table>",
			Short: "drop a table on every worker",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := flags.context()
				defer cancel()
				return flags.kvsClient().Delete(ctx, args[0])
			},
		},
		&cobra.Command{
			Use:   "rename <table> <new-name>",
			Short: "rename a table on every worker",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := flags.context()
				defer cancel()
				return flags.kvsClient().Rename(ctx, args[0], args[1])
			},
		},
	)
	return m
}

func newScanCommand(flags *commandFlags) *cobra.Command {
	var from, to string
	var limit int
	m := &cobra.Command{
		Use:   "scan <table>",
		Short: "print the rows of a table in key order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := flags.context()
			defer cancel()
			it, err := flags.kvsClient().Scan(ctx, args[0], from, to)
			if err != nil {
				return err
			}
			defer it.Close()
			for n := 0; limit <= 0 || n < limit; n++ {
				r, err := it.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				printLine(cmd, r.String())
			}
			return nil
		},
	}
	m.Flags().StringVar(&from, "from", "", "first row key, inclusive")
	m.Flags().StringVar(&to, "to", "", "last row key, exclusive")
	m.Flags().IntVar(&limit, "limit", 0, "print at most this many rows, 0 for all")
	return m
}

// Results go to stdout; cobra's own printers default to stderr.
func printLine(cmd *cobra.Command, s string) {
	fmt.Fprintln(cmd.OutOrStdout(), s)
}

func printText(cmd *cobra.Command, s string) {
	fmt.Fprint(cmd.OutOrStdout(), s)
}
