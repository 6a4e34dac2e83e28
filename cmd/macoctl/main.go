/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// macoctl is the operator's CLI: it submits one-off jobs against the
// master's request server and manages minion keys through the admin
// HTTP surface. It replaces the teacher's single-shot gRPC demo
// (a hardcoded dial target, one Call, done) with a cobra command tree
// matching cmd/maco/app's "key" subcommand shape.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/macofab/macod/api/types"
	"github.com/macofab/macod/client"
	"github.com/macofab/macod/pkg/cliutil"
	"github.com/macofab/macod/pkg/logutil"
)

func main() {
	lc := logutil.NewLogConfig()
	_ = lc.SetupLogging()
	lc.SetupGlobalLoggers()

	root := newRootCommand()
	os.Exit(cliutil.Run(root))
}

func newRootCommand() *cobra.Command {
	var requestAddr, adminAddr string

	root := &cobra.Command{
		Use:   "macoctl",
		Short: "command-line client for the macod remote-execution fabric",
	}
	root.PersistentFlags().StringVar(&requestAddr, "request-addr", "127.0.0.1:4506", "master request-server address")
	root.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:4507", "master admin HTTP address")

	newClient := func() (*client.Client, error) {
		cfg := client.NewConfig(requestAddr, adminAddr)
		return client.NewClient(cfg)
	}

	root.AddCommand(newCallCommand(newClient))
	root.AddCommand(newKeyCommand(newClient))
	return root
}

func newCallCommand(newClient func() (*client.Client, error)) *cobra.Command {
	var (
		target     string
		targetKind string
		args       []string
		kwargs     map[string]string
		ttl        time.Duration
		gather     string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "call <fn> [args...]",
		Short: "submit a job against a target expression and print each minion's result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			req := &types.CallRequest{
				TargetExpr: target,
				TargetKind: types.TargetKind(targetKind),
				Fn:         cmdArgs[0],
				Args:       append(args, cmdArgs[1:]...),
				Kwargs:     kwargs,
				User:       user,
				Ttl:        ttl,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), ttl+5*time.Second)
			defer cancel()

			tracker, err := c.Call(ctx, req)
			if err != nil {
				return fmt.Errorf("call: %w", err)
			}

			report, err := tracker.Collect(ctx, types.GatherMode(gather))
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}

			printReport(cmd, report)
			if report.GatherMode == types.GatherFailOnAnyMissing && len(report.Missing) > 0 {
				return fmt.Errorf("collect: %d targeted minion(s) never replied", len(report.Missing))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "*", "target expression (id list, glob, or grain/compound selector)")
	cmd.Flags().StringVar(&targetKind, "target-kind", string(types.TargetGlob), "one of glob, list, grain, compound")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "positional argument, repeatable")
	cmd.Flags().StringToStringVar(&kwargs, "kwarg", nil, "key=value argument, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Second, "how long to wait for minion returns")
	cmd.Flags().StringVar(&gather, "gather-mode", string(types.GatherList), "one of list, batch, fail_on_any_missing")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "identity to submit the publish under; checked against the master's publish_acl if one is configured")

	return cmd
}

func printReport(cmd *cobra.Command, report *types.Report) {
	out := cmd.OutOrStdout()
	ids := make([]string, 0, len(report.Items))
	for id := range report.Items {
		ids = append(ids, id)
	}
	for _, id := range ids {
		item := report.Items[id]
		fmt.Fprintf(out, "%s:\n", id)
		if item.Success {
			fmt.Fprintf(out, "    %s\n", string(item.Payload))
		} else {
			fmt.Fprintf(out, "    Error: %s\n", item.Error)
		}
	}
	if len(report.Missing) > 0 {
		fmt.Fprintf(out, "missing: %s\n", strings.Join(report.Missing, ", "))
	}
}

func newKeyCommand(newClient func() (*client.Client, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "manage minion authentication keys",
	}

	var state string
	list := &cobra.Command{
		Use:   "list",
		Short: "list minion keys, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			keys, err := c.ListMinions(cmd.Context(), state)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %s\n", k.MinionId, k.State, k.Fingerprint)
			}
			return nil
		},
	}
	list.Flags().StringVar(&state, "state", "", "filter by state (unaccepted, accepted, auto_sign, denied, rejected)")
	cmd.AddCommand(list)

	var includeRejected, includeDenied bool
	accept := &cobra.Command{
		Use:   "accept <minion_id>",
		Short: "accept a pending minion key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.AcceptMinion(cmd.Context(), args[0], includeRejected, includeDenied)
		},
	}
	accept.Flags().BoolVar(&includeRejected, "include-rejected", false, "also accept a previously rejected key")
	accept.Flags().BoolVar(&includeDenied, "include-denied", false, "also accept a previously denied key")
	cmd.AddCommand(accept)

	var includeAccepted bool
	reject := &cobra.Command{
		Use:   "reject <minion_id>",
		Short: "reject a pending minion key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.RejectMinion(cmd.Context(), args[0], includeAccepted, includeDenied)
		},
	}
	reject.Flags().BoolVar(&includeAccepted, "include-accepted", false, "also reject a previously accepted key")
	reject.Flags().BoolVar(&includeDenied, "include-denied", false, "also reject a previously denied key")
	cmd.AddCommand(reject)

	del := &cobra.Command{
		Use:   "delete <minion_id>",
		Short: "delete a minion key record entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.DeleteMinion(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(del)

	return cmd
}
