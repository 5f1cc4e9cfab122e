package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// cliClientID keys the rate governor for command-line checks.
const cliClientID = "cli"

type checkOutput struct {
	Success       bool             `json:"success"`
	Status        allotment.Status `json:"status,omitempty"`
	Shares        int              `json:"shares"`
	ApplicationNo *string          `json:"applicationNo,omitempty"`
	RefundAmount  float64          `json:"refundAmount"`
	Message       *string          `json:"message,omitempty"`
	Error         string           `json:"error,omitempty"`
	IPO           string           `json:"ipo,omitempty"`
	Registrar     string           `json:"registrar,omitempty"`
	MaskedPAN     *string          `json:"maskedPAN,omitempty"`
	FallbackURL   string           `json:"fallbackUrl,omitempty"`
	Timestamp     *time.Time       `json:"timestamp,omitempty"`
}

func newCheckCmd() *cobra.Command {
	var req allotment.CheckRequest
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one allotment check and print the result as JSON",
		Long: `check runs a single allotment lookup through the same service the HTTP API uses.
Only the masked PAN is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app App) error {
				resp, err := app.Check(cmd.Context(), cliClientID, req)
				out := toCheckOutput(resp, err)
				if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
					return werr
				}
				if err != nil {
					return fmt.Errorf("check failed: %s", allotment.KindOf(err))
				}
				if !resp.Outcome.Success {
					return fmt.Errorf("check failed: %s", resp.Outcome.Result.Status)
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.IPOSlug, "ipo", "", "IPO slug")
	flags.StringVar(&req.PAN, "pan", "", "PAN (ABCDE1234F)")
	flags.StringVar(&req.AppNo, "app-no", "", "application number")
	flags.StringVar(&req.DPID, "dp-id", "", "depository participant id")
	flags.StringVar(&req.ClientID, "client-id", "", "demat client id")
	_ = cmd.MarkFlagRequired("ipo")
	return cmd
}

func toCheckOutput(resp allotment.Response, err error) checkOutput {
	if err != nil {
		out := checkOutput{Error: allotment.MsgInternal}
		var typed *allotment.Error
		if errors.As(err, &typed) {
			out.Error = typed.Message
			if typed.Detail != "" {
				out.Error += ": " + typed.Detail
			}
			out.FallbackURL = typed.FallbackURL
		}
		return out
	}
	out := checkOutput{
		Success:       resp.Outcome.Success,
		Status:        resp.Outcome.Result.Status,
		Shares:        resp.Outcome.Result.Shares,
		ApplicationNo: resp.Outcome.Result.ApplicationNo,
		RefundAmount:  resp.Outcome.Result.RefundAmount,
		Message:       resp.Outcome.Result.Message,
		Error:         resp.Outcome.Error,
		IPO:           resp.IPO.Slug,
		Registrar:     resp.Registrar.Name,
		MaskedPAN:     resp.MaskedPAN,
	}
	if !resp.Outcome.Success {
		out.FallbackURL = resp.FallbackURL
	}
	if !resp.CheckedAt.IsZero() {
		at := resp.CheckedAt.UTC()
		out.Timestamp = &at
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
