package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/store/open"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and storage health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(ctxOrBackground(cmd.Context()))
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("luxbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Session:")
	fmt.Printf("    %-12s %s\n", "ID:", cfg.Session.ID)
	fmt.Printf("    %-12s %s\n", "Backend:", cfg.Session.Backend)
	fmt.Printf("    %-12s %s\n", "Device DB:", maskDSN(adapterConfig(cfg).DeviceDB))
	checkStore(ctx, cfg)

	fmt.Println()
	fmt.Println("  Commands:")
	fmt.Printf("    %-12s %q\n", "Prefix:", cfg.Commands.Prefix)
	if len(cfg.Commands.Owners) == 0 {
		fmt.Printf("    %-12s (none: owner-only commands are unusable)\n", "Owners:")
	} else {
		fmt.Printf("    %-12s %s\n", "Owners:", strings.Join(cfg.Commands.Owners, ", "))
	}
	fmt.Printf("    %-12s %d per %s (%s)\n", "Rate limit:", cfg.RateLimit.Limit, cfg.RateLimit.Window.Std(), cfg.RateLimit.Mode)

	fmt.Println()
	checkFeature("Web", cfg.Web.Enabled, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port))
	checkFeature("Telemetry", cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
	checkFeature("Eval", cfg.Commands.EvalEnabled, "owner only")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(ctx context.Context, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, closer, err := open.Store(ctx, cfg.Session.Backend, cfg.Storage)
	if err != nil {
		fmt.Printf("    %-12s ERROR: %s\n", "Storage:", err)
		return
	}
	defer closer.Close()

	state, err := st.Load(ctx, cfg.Session.ID)
	switch {
	case err != nil:
		fmt.Printf("    %-12s ERROR: %s\n", "Storage:", err)
	case state == nil:
		fmt.Printf("    %-12s reachable, no credentials (run `luxbot pair`)\n", "Storage:")
	default:
		me, _ := state.Creds["me"].(string)
		if me == "" {
			me = "unregistered"
		}
		fmt.Printf("    %-12s reachable, credentials for %s\n", "Storage:", me)
	}
}

func checkFeature(name string, enabled bool, detail string) {
	status := "disabled"
	if enabled {
		status = "enabled"
		if detail != "" {
			status += " (" + detail + ")"
		}
	}
	fmt.Printf("  %-14s %s\n", name+":", status)
}

// maskDSN hides the password of a connection URL.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":****" + dsn[at:]
	}
	return dsn
}
