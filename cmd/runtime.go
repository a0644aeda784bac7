package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/luxbot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
	"github.com/nextlevelbuilder/luxbot/internal/session"
	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/open"
)

// runtimeDeps are the long-lived resources shared by run and pair.
type runtimeDeps struct {
	store   store.CredentialStore
	adapter *whatsapp.Adapter
	closers []io.Closer
}

func (r *runtimeDeps) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtimeDeps, error) {
	st, closer, err := open.Store(ctx, cfg.Session.Backend, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Session.Backend, err)
	}
	rt := &runtimeDeps{store: st, closers: []io.Closer{closer}}

	adapter, err := whatsapp.Open(ctx, adapterConfig(cfg))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.adapter = adapter
	rt.closers = append(rt.closers, adapter)
	return rt, nil
}

func adapterConfig(cfg *config.Config) whatsapp.Config {
	deviceDB := cfg.Session.DeviceDB
	if cfg.Session.Backend == store.BackendPostgres && (deviceDB == "" || deviceDB == config.Default().Session.DeviceDB) {
		deviceDB = cfg.Storage.Postgres.DSN
	}
	if !strings.HasPrefix(deviceDB, "postgres") {
		deviceDB = config.ExpandHome(deviceDB)
	}
	return whatsapp.Config{
		DeviceDB:          deviceDB,
		PhoneNumber:       cfg.Session.PhoneNumber,
		PreferPairingCode: cfg.Session.PreferPairingCode,
		ClientName:        cfg.Session.ClientName,
		SendRate:          2,
		SendBurst:         5,
		SyncInterval:      cfg.Session.KeySyncInterval.Std(),
	}
}

func managerOptions(cfg *config.Config, rt *runtimeDeps) session.Options {
	sc := cfg.Session
	return session.Options{
		SessionID:         sc.ID,
		Store:             rt.store,
		FallbackFile:      config.ExpandHome(sc.FallbackFile),
		Dial:              rt.adapter.Dial,
		ReconnectDelay:    sc.ReconnectDelay.Std(),
		MaxReconnectDelay: sc.MaxReconnectDelay.Std(),
		Exponential:       sc.Backoff == "exponential",
		ChallengeTimeout:  sc.ChallengeTimeout.Std(),
		LogoutStatusCodes: sc.LogoutStatusCodes,
		OnLogout:          sc.OnLogout,
	}
}

// dispatcherSettings maps the commands and rate limit sections onto the
// dispatcher.
func dispatcherSettings(cfg *config.Config) dispatch.Settings {
	cc := cfg.Commands
	return dispatch.Settings{
		Prefix:         dispatch.NewPrefixNormalizer(cc.Prefix, cc.PrefixAliases...),
		Owners:         cc.Owners,
		RateLimit:      cfg.RateLimit.Limit,
		RateWindow:     cfg.RateLimit.Window.Std(),
		SilentThrottle: cfg.RateLimit.Mode == "silent",
		Fallback:       cc.Fallback,
		Timeout:        cc.Timeout.Std(),
	}
}
