package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/luxbot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/store"
	"github.com/nextlevelbuilder/luxbot/internal/store/file"
	"github.com/nextlevelbuilder/luxbot/internal/store/open"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and move stored session credentials",
	}
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionDeleteCmd())
	cmd.AddCommand(sessionExportCmd())
	cmd.AddCommand(sessionImportCmd())
	return cmd
}

func sessionShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored credentials of the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			state, err := loadFrom(cmd.Context(), cfg, cfg.Session.Backend)
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Printf("No credentials stored for session %q (%s backend).\n", cfg.Session.ID, cfg.Session.Backend)
				return nil
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(redactState(state), "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printStateSummary(cfg, state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON (key material redacted)")
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored credentials of the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Delete session %q from the %s backend?", cfg.Session.ID, cfg.Session.Backend), false)
				if err != nil || !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}
			st, closer, err := open.Store(ctxOrBackground(cmd.Context()), cfg.Session.Backend, cfg.Storage)
			if err != nil {
				return err
			}
			defer closer.Close()
			ctx := ctxOrBackground(cmd.Context())
			if err := st.Delete(ctx, cfg.Session.ID); err != nil {
				return err
			}
			if err := resetLocalDevice(ctx, cfg); err != nil {
				return fmt.Errorf("deleted from %s, but clearing the local device keys failed: %w", cfg.Session.Backend, err)
			}
			fmt.Printf("Deleted session: %s\n", cfg.Session.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func sessionExportCmd() *cobra.Command {
	var toBackend, toFile string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the session to another backend or a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (toBackend == "") == (toFile == "") {
				return errors.New("exactly one of --to or --file is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := ctxOrBackground(cmd.Context())
			state, err := loadFrom(ctx, cfg, cfg.Session.Backend)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("no credentials stored for session %q", cfg.Session.ID)
			}
			if toFile != "" {
				if err := file.SaveFile(config.ExpandHome(toFile), state); err != nil {
					return err
				}
				fmt.Printf("Exported session %q to %s\n", cfg.Session.ID, toFile)
				return nil
			}
			if err := saveTo(ctx, cfg, toBackend, state); err != nil {
				return err
			}
			fmt.Printf("Copied session %q from %s to %s\n", cfg.Session.ID, cfg.Session.Backend, toBackend)
			return nil
		},
	}
	cmd.Flags().StringVar(&toBackend, "to", "", "target backend: file|s3|postgres|sqlite|redis")
	cmd.Flags().StringVar(&toFile, "file", "", "target JSON file")
	return cmd
}

func sessionImportCmd() *cobra.Command {
	var fromBackend, fromFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load the session from another backend or a JSON file into the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (fromBackend == "") == (fromFile == "") {
				return errors.New("exactly one of --from or --file is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := ctxOrBackground(cmd.Context())

			var state *store.AuthState
			if fromFile != "" {
				state, err = file.LoadFile(config.ExpandHome(fromFile))
			} else {
				state, err = loadFrom(ctx, cfg, fromBackend)
			}
			if err != nil {
				return err
			}
			if state == nil {
				return errors.New("source holds no credentials")
			}
			if err := saveTo(ctx, cfg, cfg.Session.Backend, state); err != nil {
				return err
			}
			if err := resetLocalDevice(ctx, cfg); err != nil {
				return fmt.Errorf("imported, but clearing the local device keys failed: %w", err)
			}
			fmt.Printf("Imported session %q into the %s backend\n", cfg.Session.ID, cfg.Session.Backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromBackend, "from", "", "source backend: file|s3|postgres|sqlite|redis")
	cmd.Flags().StringVar(&fromFile, "file", "", "source JSON file")
	return cmd
}

// resetLocalDevice drops the device DB copy of the keys so the next run
// links with exactly what the backend holds.
func resetLocalDevice(ctx context.Context, cfg *config.Config) error {
	a, err := whatsapp.Open(ctx, adapterConfig(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return a.ResetDevice(ctx)
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func loadFrom(ctx context.Context, cfg *config.Config, backend string) (*store.AuthState, error) {
	ctx = ctxOrBackground(ctx)
	st, closer, err := open.Store(ctx, backend, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}
	defer closer.Close()
	return st.Load(ctx, cfg.Session.ID)
}

func saveTo(ctx context.Context, cfg *config.Config, backend string, state *store.AuthState) error {
	st, closer, err := open.Store(ctx, backend, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", backend, err)
	}
	defer closer.Close()
	return st.Save(ctx, cfg.Session.ID, state)
}

func printStateSummary(cfg *config.Config, state *store.AuthState) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SESSION\t%s\n", cfg.Session.ID)
	fmt.Fprintf(tw, "BACKEND\t%s\n", cfg.Session.Backend)
	for _, k := range []string{"me", "lid", "pushName", "platform", "registered"} {
		if v, ok := state.Creds[k]; ok {
			fmt.Fprintf(tw, "%s\t%v\n", k, v)
		}
	}
	fmt.Fprintf(tw, "KEY TYPES\t%d\n", len(state.Keys))
	tw.Flush()
}

// redactState keeps identity fields and replaces everything else with a
// marker, so the output is safe to paste.
func redactState(state *store.AuthState) map[string]any {
	visible := []string{"me", "lid", "pushName", "platform", "businessName", "registered"}
	creds := make(map[string]any, len(state.Creds))
	for k, v := range state.Creds {
		if slices.Contains(visible, k) {
			creds[k] = v
		} else {
			creds[k] = "****"
		}
	}
	keys := make(map[string]int, len(state.Keys))
	for typ, entries := range state.Keys {
		switch v := entries.(type) {
		case map[string]any:
			keys[typ] = len(v)
		case []any:
			keys[typ] = len(v)
		default:
			keys[typ] = 1
		}
	}
	return map[string]any{"creds": creds, "keys": keys}
}
