package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/shineum/alertmail-lite/internal/alert"
	"github.com/shineum/alertmail-lite/internal/capability"
)

type testReport struct {
	Test         alert.TestResult    `json:"test" yaml:"test"`
	Fallbacks    int                 `json:"fallback_providers_count" yaml:"fallback_providers_count"`
	Capabilities []capability.Status `json:"capabilities" yaml:"capabilities"`
}

func newTestCommand(rt *runtimeState) *cobra.Command {
	var (
		output string
		noSend bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check the configured provider and send a test email to the sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noSend {
				rt.cfg.Delivery.SelfTestSend = false
			}
			a := newApp(rt.cfg, rt.logger)

			primary, ok := a.primaryConfig(false)
			if !ok {
				return errors.New("no email provider configured")
			}
			if err := a.svc.UpdateConfiguration(cmd.Context(), primary); err != nil {
				return err
			}
			a.configureFallbacks(cmd.Context())

			status := a.svc.Status(cmd.Context())
			report := testReport{
				Test:         a.svc.TestConfiguration(cmd.Context()),
				Fallbacks:    status.FallbackCount,
				Capabilities: status.Capabilities,
			}
			if err := writeObject(rt.out, output, report); err != nil {
				return err
			}
			if !report.Test.Success {
				return errors.New("email configuration test failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json, yaml")
	cmd.Flags().BoolVar(&noSend, "no-send", false, "skip the test email")

	return cmd
}
