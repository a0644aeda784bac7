// Package whatsapp connects sessions to WhatsApp multi-device through
// whatsmeow. It implements the session socket and the dispatcher's sender.
package whatsapp

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
	"github.com/nextlevelbuilder/luxbot/internal/session"
)

// MessageHandler receives inbound messages.
type MessageHandler interface {
	Submit(ctx context.Context, m *dispatch.Inbound)
}

// Config configures the adapter.
type Config struct {
	// DeviceDB is where whatsmeow keeps device keys: a postgres:// DSN or a
	// sqlite file path.
	DeviceDB          string
	PhoneNumber       string
	PreferPairingCode bool
	ClientName        string
	SendRate          float64 // messages per second, 0 = unlimited
	SendBurst         int
	// SyncInterval is how often key changes of a connected device are copied
	// into the session's auth state. 0 copies only on pair, open and close.
	SyncInterval time.Duration
}

// Adapter owns the device store and the live whatsmeow client.
type Adapter struct {
	cfg       Config
	container *sqlstore.Container
	devices   *deviceDB
	limiter   *rate.Limiter

	mu      sync.RWMutex
	client  *whatsmeow.Client
	handler MessageHandler
	baseCtx context.Context
}

// Open opens the device store.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	dialect, address := deviceDialect(cfg.DeviceDB)
	container, err := sqlstore.New(ctx, dialect, address, newLogger("store"))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	devices, err := openDeviceDB(dialect, address)
	if err != nil {
		container.Close()
		return nil, err
	}
	if cfg.ClientName != "" {
		waStore.SetOSInfo(cfg.ClientName, [3]uint32{0, 1, 0})
	}
	a := &Adapter{cfg: cfg, container: container, devices: devices, baseCtx: context.Background()}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return a, nil
}

func deviceDialect(db string) (dialect, address string) {
	if strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://") {
		return "pgx", db
	}
	return "sqlite", "file:" + db + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// SetHandler routes inbound messages to h. ctx is the parent of every
// dispatch started from an event.
func (a *Adapter) SetHandler(ctx context.Context, h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
	a.baseCtx = ctx
}

// Dial implements session.DialFunc. The device carried by auth is written to
// the device DB first, so the socket authenticates with the stored keys.
func (a *Adapter) Dial(ctx context.Context, auth *session.AuthHandle, sink session.EventSink) (session.Socket, error) {
	if auth != nil {
		st := auth.State()
		if err := a.restore(ctx, st.Creds, st.Keys); err != nil {
			return nil, err
		}
	}
	device, err := a.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	client := whatsmeow.NewClient(device, newLogger("client"))
	client.EnableAutoReconnect = false

	s := &socket{adapter: a, client: client, sink: sink, stop: make(chan struct{})}
	client.AddEventHandler(s.handleEvent)

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	return s, nil
}

// restore loads the stored device unless the device DB already holds that
// account. A state without a device leaves the DB alone.
func (a *Adapter) restore(ctx context.Context, creds, keys map[string]any) error {
	row, jid := deviceEntry(creds)
	if row == nil {
		return nil
	}
	if cur, ok := a.LinkedJID(ctx); ok && cur == jid {
		return nil
	}
	if err := a.devices.restore(ctx, row, keys); err != nil {
		return fmt.Errorf("restore device %s: %w", jid, err)
	}
	slog.Info("device restored from credential store", "jid", jid)
	return nil
}

// ResetDevice forgets the linked device and its keys locally. The next dial
// restores from the credential store or pairs again.
func (a *Adapter) ResetDevice(ctx context.Context) error {
	return a.devices.reset(ctx)
}

// deviceState returns the auth state entries for the device in the DB,
// identity fields included.
func (a *Adapter) deviceState(ctx context.Context, identity map[string]any) (map[string]any, error) {
	device, keys, err := a.devices.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	creds := maps.Clone(identity)
	if device != nil {
		creds[credsDevice] = device
	}
	return map[string]any{"creds": creds, "keys": keys}, nil
}

func (a *Adapter) currentClient() *whatsmeow.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// SendText implements dispatch.Sender.
func (a *Adapter) SendText(ctx context.Context, chat, text string, quoted *dispatch.Inbound) error {
	client := a.currentClient()
	if client == nil || !client.IsConnected() {
		return errors.New("whatsapp: not connected")
	}
	jid, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("parse chat jid %q: %w", chat, err)
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if _, err := client.SendMessage(ctx, jid, textMessage(text, quoted)); err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	return nil
}

// Logout unlinks the device from the phone.
func (a *Adapter) Logout(ctx context.Context) error {
	client := a.currentClient()
	if client == nil {
		return errors.New("whatsapp: no client")
	}
	return client.Logout(ctx)
}

// LinkedJID returns the account of the stored device, if any.
func (a *Adapter) LinkedJID(ctx context.Context) (string, bool) {
	device, err := a.container.GetFirstDevice(ctx)
	if err != nil || device.ID == nil {
		return "", false
	}
	return device.ID.String(), true
}

func (a *Adapter) Close() error {
	if c := a.currentClient(); c != nil {
		c.Disconnect()
	}
	return errors.Join(a.devices.Close(), a.container.Close())
}

// socket is one connection attempt.
type socket struct {
	adapter *Adapter
	client  *whatsmeow.Client
	sink    session.EventSink

	cancelQR context.CancelFunc

	syncMu   sync.Mutex
	lastSync [sha256.Size]byte
	syncOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

const (
	qrEventCode    = "code"
	qrEventTimeout = "timeout"
	qrEventSuccess = "success"
)

func (s *socket) Connect(ctx context.Context) error {
	if s.client.Store.ID != nil {
		return s.client.Connect()
	}

	qrCtx, cancel := context.WithCancel(ctx)
	s.cancelQR = cancel
	qrChan, err := s.client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		cancel()
		return err
	}
	go s.pump(qrCtx, qrChan)
	return nil
}

// pump forwards pairing challenges until the device is linked.
func (s *socket) pump(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	cfg := s.adapter.cfg
	pairingRequested := false
	for item := range qrChan {
		switch item.Event {
		case qrEventCode:
			u := session.ConnectionUpdate{QR: item.Code}
			if cfg.PreferPairingCode && cfg.PhoneNumber != "" && !pairingRequested {
				pairingRequested = true
				code, err := s.client.PairPhone(ctx, cfg.PhoneNumber, true, whatsmeow.PairClientChrome, clientDisplayName(cfg.ClientName))
				if err != nil {
					slog.Warn("pairing code request failed, QR only", "error", err)
				} else {
					u.PairingCode = code
				}
			}
			s.sink.OnConnectionUpdate(u)
		case qrEventTimeout:
			s.sink.OnConnectionUpdate(session.ConnectionUpdate{Connection: session.ConnClose, StatusCode: StatusQRTimeout})
		case qrEventSuccess:
			slog.Info("device linked")
		default:
			slog.Warn("pairing channel event", "event", item.Event, "error", item.Error)
			if item.Error != nil {
				s.sink.OnConnectionUpdate(session.ConnectionUpdate{
					Connection: session.ConnClose, StatusCode: StatusConnectionError, Err: item.Error,
				})
			}
		}
	}
}

func clientDisplayName(name string) string {
	if name == "" {
		return "Chrome (Linux)"
	}
	return name
}

func (s *socket) Disconnect() {
	if s.cancelQR != nil {
		s.cancelQR()
	}
	s.stopOnce.Do(func() { close(s.stop) })
	s.client.Disconnect()
	if s.client.Store.ID != nil {
		s.syncCreds(s.identity())
	}
}

func (s *socket) identity() map[string]any {
	st := s.client.Store
	return identityCreds(st.ID, st.LID, st.PushName, st.Platform, st.BusinessName)
}

// syncCreds copies the device DB into the auth state when it changed since
// the last copy.
func (s *socket) syncCreds(identity map[string]any) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	partial, err := s.adapter.deviceState(ctx, identity)
	if err != nil {
		slog.Warn("device snapshot failed", "error", err)
		return
	}
	data, err := json.Marshal(partial)
	if err != nil {
		slog.Warn("device snapshot not encodable", "error", err)
		return
	}
	sum := sha256.Sum256(data)
	if sum == s.lastSync {
		return
	}
	s.lastSync = sum
	s.sink.OnCredentialUpdate(partial)
}

// startSync copies key changes every SyncInterval until Disconnect.
func (s *socket) startSync() {
	interval := s.adapter.cfg.SyncInterval
	if interval <= 0 {
		return
	}
	s.syncOnce.Do(func() {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-t.C:
					s.syncCreds(s.identity())
				}
			}
		}()
	})
}

func (s *socket) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		s.adapter.mu.RLock()
		h, ctx := s.adapter.handler, s.adapter.baseCtx
		s.adapter.mu.RUnlock()
		if h != nil {
			h.Submit(ctx, toInbound(e))
		}
		return

	case *events.PairSuccess:
		s.syncCreds(identityCreds(&e.ID, e.LID, s.client.Store.PushName, e.Platform, e.BusinessName))
		return

	case *events.Connected:
		s.syncCreds(s.identity())
		s.startSync()

	case *events.KeepAliveTimeout:
		slog.Debug("whatsapp keepalive timeout", "errors", e.ErrorCount)
		return
	}

	if u, ok := connectionUpdate(evt); ok {
		s.sink.OnConnectionUpdate(u)
	}
}
