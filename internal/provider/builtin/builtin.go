// Package builtin registers every transport shipped with alertmail.
package builtin

import (
	"context"

	"github.com/shineum/alertmail-lite/internal/provider"
	"github.com/shineum/alertmail-lite/internal/provider/graph"
	"github.com/shineum/alertmail-lite/internal/provider/postmark"
	"github.com/shineum/alertmail-lite/internal/provider/ses"
	"github.com/shineum/alertmail-lite/internal/provider/smtp"
	"github.com/shineum/alertmail-lite/internal/provider/stdout"
)

// Registry returns a registry with all built-in providers.
func Registry() *provider.Registry {
	r := provider.NewRegistry()

	for _, rule := range []provider.Rule{
		provider.GmailRule,
		provider.OutlookRule,
		provider.YahooRule,
		provider.CustomRule,
	} {
		r.Register(rule, func(context.Context, provider.Config) (provider.Transport, error) {
			return smtp.New(rule), nil
		})
	}

	r.Register(provider.SESRule, func(context.Context, provider.Config) (provider.Transport, error) {
		return ses.New(), nil
	})
	r.Register(provider.GraphRule, func(context.Context, provider.Config) (provider.Transport, error) {
		return graph.New(), nil
	})
	r.Register(provider.PostmarkRule, func(context.Context, provider.Config) (provider.Transport, error) {
		return postmark.New(), nil
	})
	r.Register(provider.StdoutRule, func(context.Context, provider.Config) (provider.Transport, error) {
		return stdout.New(), nil
	})

	return r
}
