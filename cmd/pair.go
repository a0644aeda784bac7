package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/luxbot/internal/session"
)

const (
	pairMethodQR   = "qr"
	pairMethodCode = "code"
)

func pairCmd() *cobra.Command {
	var (
		phone    string
		method   string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link this bot as a WhatsApp device and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPair(cmd.Context(), method, phone, noPrompt)
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "phone number for pairing-code linking (digits, with country code)")
	cmd.Flags().StringVar(&method, "method", "", "qr or code (prompted when empty)")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "never prompt; default to QR")
	return cmd
}

func runPair(parent context.Context, method, phone string, noPrompt bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if phone == "" {
		phone = cfg.Session.PhoneNumber
	}

	if method == "" && !noPrompt {
		method, err = promptSelect("How do you want to link?", []SelectOption[string]{
			{Label: "Scan a QR code", Value: pairMethodQR},
			{Label: "Enter a pairing code on the phone", Value: pairMethodCode},
		}, 0)
		if err != nil {
			return err
		}
	}
	if method == pairMethodCode && phone == "" {
		if noPrompt {
			return errors.New("--phone is required for pairing-code linking")
		}
		phone, err = promptString("Phone number", "International format with country code, e.g. 15551234567", "", validatePhone)
		if err != nil {
			return err
		}
	}
	cfg.Session.PreferPairingCode = method == pairMethodCode
	cfg.Session.PhoneNumber = digitsOnly(phone)

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if jid, ok := rt.adapter.LinkedJID(ctx); ok {
		fmt.Printf("Session %q is already linked as %s.\n", cfg.Session.ID, jid)
		return nil
	}

	opts := managerOptions(cfg, rt)
	opts.OnChallenge = session.ChallengeWriter(os.Stdout)
	mgr, err := session.New(opts)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	opened := make(chan struct{}, 1)
	mgr.Subscribe("pair", func(ev session.PhaseEvent) {
		if ev.Phase == session.PhaseOpen {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})
	linked := make(chan error, 1)
	go func() {
		select {
		case <-runCtx.Done():
			return
		case <-opened:
		}
		// Save once more on the parent context before stopping the run loop.
		linked <- mgr.Auth().Persist(ctx)
		cancel()
	}()

	outcome, err := mgr.Run(runCtx)
	select {
	case perr := <-linked:
		if perr != nil {
			return fmt.Errorf("linked, but saving the session failed: %w", perr)
		}
		jid, _ := rt.adapter.LinkedJID(ctx)
		fmt.Printf("Linked %s. Session %q and its device keys saved to the %s backend.\n", jid, cfg.Session.ID, cfg.Session.Backend)
		return nil
	default:
	}
	if outcome == session.OutcomeChallengeTimeout {
		return fmt.Errorf("pairing not completed within %s", cfg.Session.ChallengeTimeout.Std())
	}
	return err
}

func validatePhone(s string) error {
	if n := len(digitsOnly(s)); n < 8 || n > 15 {
		return errors.New("enter 8 to 15 digits including the country code")
	}
	return nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
