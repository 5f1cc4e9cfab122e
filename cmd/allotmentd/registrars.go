package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ipo-allotment-checker/internal/normalize"
)

type registrarReport struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Active   bool     `json:"active"`
	Problems []string `json:"problems"`
}

func newRegistrarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrars",
		Short: "Inspect registrar profiles",
	}
	cmd.AddCommand(newRegistrarsValidateCmd())
	return cmd
}

func newRegistrarsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compile every registrar selector and report the ones that would be skipped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app App) error {
				registrars, err := app.Catalog().ListRegistrars(cmd.Context())
				if err != nil {
					return fmt.Errorf("list registrars: %w", err)
				}
				reports := make([]registrarReport, 0, len(registrars))
				failing := 0
				for _, r := range registrars {
					report := registrarReport{Slug: r.Slug, Name: r.Name, Active: r.IsActive, Problems: []string{}}
					for _, p := range normalize.ValidateRules(r) {
						report.Problems = append(report.Problems, p.Error())
					}
					if len(report.Problems) > 0 {
						failing++
					}
					reports = append(reports, report)
				}
				if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
				if failing > 0 {
					return fmt.Errorf("%d of %d registrars have invalid selectors", failing, len(registrars))
				}
				return nil
			})
		},
	}
}
