package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/autopost-client/apiclient"
	"github.com/jrsteele09/autopost-client/callback"
	"github.com/jrsteele09/autopost-client/credentials/sqlitestore"
	"github.com/jrsteele09/autopost-client/internal/config"
	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/jrsteele09/autopost-client/navigation"
	"github.com/jrsteele09/autopost-client/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const credentialsFile = "credentials.db"

// app wires the session layer for one CLI invocation.
type app struct {
	cfg        config.Config
	out        io.Writer
	store      *sqlitestore.Store
	client     *apiclient.Client
	session    *sessions.Manager
	reconciler *callback.Reconciler
	registry   *prometheus.Registry
}

func newApp(cfg config.Config, out io.Writer) (*app, error) {
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.GetDataFolder(), 0o700); err != nil {
		return nil, fmt.Errorf("os.MkdirAll: %w", err)
	}
	store, err := sqlitestore.Open(filepath.Join(cfg.GetDataFolder(), credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore.Open: %w", err)
	}

	registry := prometheus.NewRegistry()
	client, err := apiclient.New(store,
		apiclient.WithConfig(cfg),
		apiclient.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("apiclient.New: %w", err)
	}

	nav := &printNavigator{out: out}
	session, err := sessions.New(client, store, nav, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sessions.New: %w", err)
	}

	return &app{
		cfg:        cfg,
		out:        out,
		store:      store,
		client:     client,
		session:    session,
		reconciler: callback.New(session, nav, cfg),
		registry:   registry,
	}, nil
}

func (a *app) Close() {
	a.session.Close()
	if err := a.store.Close(); err != nil {
		log.Err(err).Msg("failed to close credential store")
	}
}

// printMetrics writes the non-zero session counters.
func (a *app) printMetrics() error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("registry.Gather: %w", err)
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			name := family.GetName()
			for _, label := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", label.GetName(), label.GetValue())
			}
			fmt.Fprintf(a.out, "%s %v\n", name, value)
		}
	}
	return nil
}

func setupLogging(cfg config.EnvConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// printNavigator reports navigation requests on the terminal.
type printNavigator struct {
	out io.Writer
}

var _ navigation.Navigator = (*printNavigator)(nil)

func (n *printNavigator) Navigate(route string) {
	fmt.Fprintf(n.out, "-> %s\n", route)
}

func (n *printNavigator) ReplaceState(address string) {
	log.Debug().Str("address", address).Msg("address replaced")
}
