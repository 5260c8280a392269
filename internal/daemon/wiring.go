package daemon

import (
	"context"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/events"
	"github.com/cloudguardian/policyguard/internal/metrics"
	"github.com/cloudguardian/policyguard/internal/notify"
	"github.com/cloudguardian/policyguard/internal/provider"
	"github.com/cloudguardian/policyguard/internal/state"
	"github.com/prometheus/client_golang/prometheus"
)

// buildProvider constructs the concrete Resource Provider named by
// cfg.Cloud. The rest of the daemon only ever sees the provider.Provider
// interface; this is the one place the core knows AWS from Azure exists
// (spec.md §9: "the engine must never branch on provider identity").
func (d *Daemon) buildProvider(ctx context.Context) (provider.Provider, error) {
	switch d.cfg.Cloud {
	case CloudAWS:
		return provider.NewAWSProvider(ctx, provider.AWSConfig{AccountID: d.cfg.SubscriptionID})
	case CloudAzure:
		return provider.NewAzureProvider(provider.AzureConfig{
			SubscriptionID:  d.cfg.SubscriptionID,
			ManagementGroup: d.cfg.ManagementGroup,
		})
	default:
		return nil, apperrors.Newf(apperrors.TypeValidation, "unknown cloud provider %q (want \"aws\" or \"azure\")", d.cfg.Cloud)
	}
}

// buildStore picks FileStore or SQLiteStore per cfg.UseSQLiteState. Both
// satisfy the same state.Store interface, so nothing downstream branches
// on which one is active.
func (d *Daemon) buildStore() (state.Store, error) {
	if !d.cfg.UseSQLiteState {
		return state.NewFileStore(d.cfg.StateFile), nil
	}

	store, err := state.NewSQLiteStore(d.cfg.StateFile)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, store.Close)
	return store, nil
}

// buildEventSink fans every transition event out to stdout plus, if
// configured, a webhook -- spec.md §6's "sink may be a message bus or
// stdout; the core does not care".
func (d *Daemon) buildEventSink() events.Sink {
	sinks := events.MultiSink{events.NewStdoutSink()}
	if d.cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(d.cfg.WebhookURL))
	}
	return sinks
}

// buildMetricSink wires a Prometheus sink and, if cfg.MetricsAddr is set,
// starts the /metrics+/healthz HTTP surface in the background (spec.md §6,
// the daemon's one HTTP surface).
func (d *Daemon) buildMetricSink() metrics.Sink {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg)

	if d.cfg.MetricsAddr != "" {
		serverCtx, cancel := context.WithCancel(context.Background())
		server := metrics.NewServer(d.cfg.MetricsAddr, reg)
		d.closers = append(d.closers, func() error { cancel(); return nil })
		go server.Start(serverCtx)
	}
	return sink
}

// buildWarner returns the SMTP warner when configured, otherwise the
// always-available log warner (spec.md §4.5's "externalised" side channel).
func (d *Daemon) buildWarner() notify.Warner {
	if d.cfg.SMTP == nil || len(d.cfg.SMTP.To) == 0 {
		return notify.LogWarner{}
	}
	return notify.NewSMTPWarner(*d.cfg.SMTP)
}
