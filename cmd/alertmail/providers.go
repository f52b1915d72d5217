package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shineum/alertmail-lite/internal/provider"
	"github.com/shineum/alertmail-lite/internal/provider/builtin"
)

type providerInfo struct {
	Type            string   `json:"type" yaml:"type"`
	DisplayName     string   `json:"display_name" yaml:"display_name"`
	DefaultServer   string   `json:"default_server,omitempty" yaml:"default_server,omitempty"`
	DefaultPort     int      `json:"default_port,omitempty" yaml:"default_port,omitempty"`
	Ports           []int    `json:"supported_ports,omitempty" yaml:"supported_ports,omitempty"`
	SenderDomains   []string `json:"sender_domains,omitempty" yaml:"sender_domains,omitempty"`
	AuthMethods     []string `json:"auth_methods" yaml:"auth_methods"`
	RequiresAppPass bool     `json:"requires_app_password" yaml:"requires_app_password"`
	RequiredOptions []string `json:"required_options,omitempty" yaml:"required_options,omitempty"`
	Notes           []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

func describeProviders(reg *provider.Registry) []providerInfo {
	var out []providerInfo
	for _, kind := range reg.Kinds() {
		rule, ok := reg.Rule(kind)
		if !ok {
			continue
		}
		info := providerInfo{
			Type:            string(rule.Kind),
			DisplayName:     rule.DisplayName,
			DefaultServer:   rule.DefaultServer,
			DefaultPort:     rule.DefaultPort,
			Ports:           rule.Ports,
			SenderDomains:   rule.SenderDomains,
			RequiresAppPass: rule.RequireAppPassword,
			RequiredOptions: rule.RequiredOptions,
			Notes:           rule.Notes,
		}
		for _, m := range rule.AuthMethods {
			info.AuthMethods = append(info.AuthMethods, string(m))
		}
		out = append(out, info)
	}
	return out
}

func newProvidersCommand(rt *runtimeState) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:         "providers",
		Short:       "List the supported email providers and their requirements",
		Args:        cobra.NoArgs,
		Annotations: skipConfig(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := describeProviders(builtin.Registry())
			if output != "" && output != "table" {
				return writeObject(rt.out, output, infos)
			}

			tw := tabwriter.NewWriter(rt.out, 2, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TYPE\tNAME\tSERVER\tPORTS\tAUTH\tSENDER DOMAINS")
			for _, p := range infos {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Type, p.DisplayName, orDash(p.DefaultServer), ports(p), strings.Join(p.AuthMethods, ","), orDash(strings.Join(p.SenderDomains, ",")))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, yaml")

	return cmd
}

func ports(p providerInfo) string {
	if len(p.Ports) == 0 {
		if p.DefaultPort == 0 {
			return "-"
		}
		return strconv.Itoa(p.DefaultPort)
	}
	parts := make([]string, len(p.Ports))
	for i, port := range p.Ports {
		parts[i] = strconv.Itoa(port)
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
