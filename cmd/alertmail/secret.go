package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/alertmail-lite/internal/credentials"
)

func newSecretCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "secret",
		Short:       "Manage sender credentials in the OS secret store",
		Annotations: skipConfig(),
	}
	cmd.AddCommand(newSecretSetCommand(rt))
	return cmd
}

func newSecretSetCommand(rt *runtimeState) *cobra.Command {
	var (
		service string
		value   string
	)

	cmd := &cobra.Command{
		Use:         "set USER",
		Short:       "Store a sender secret and print the reference to use as sender_secret",
		Args:        cobra.ExactArgs(1),
		Annotations: skipConfig(),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := value
			if secret == "" {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					secret = strings.TrimSpace(scanner.Text())
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
			}
			if secret == "" {
				return errors.New("secret cannot be empty")
			}

			ref, err := credentials.NewResolver().Store(service, args[0], secret)
			if err != nil {
				return err
			}
			rt.logger.Info("stored sender secret", "service", service, "user", args[0])
			_, err = fmt.Fprintln(rt.out, ref)
			return err
		},
	}

	cmd.Flags().StringVar(&service, "service", credentials.DefaultService, "keyring service name")
	cmd.Flags().StringVar(&value, "value", "", "secret value (read from stdin when empty)")

	return cmd
}
