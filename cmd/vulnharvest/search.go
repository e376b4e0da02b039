package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	harvestuc "github.com/kailas-cloud/vulnharvest/internal/usecase/harvest"
	"github.com/kailas-cloud/vulnharvest/internal/version"
)

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Run one live search across every source and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.build(cmd.Context())
			if err != nil {
				return err
			}

			resp := svc.harvest.Submit(cmd.Context(), harvestuc.Request{
				Query:       strings.Join(args, " "),
				CallerAgent: version.Agent("cli"),
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Error)
			}
			return nil
		},
	}
}
