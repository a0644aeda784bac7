package dispatch

import "sync"

// ChatFlags holds per-conversation toggles. It lives as long as the
// dispatcher that owns it.
type ChatFlags struct {
	mu   sync.RWMutex
	echo map[string]bool
}

func NewChatFlags() *ChatFlags {
	return &ChatFlags{echo: make(map[string]bool)}
}

// SetEcho enables or disables echoing non-command text in chat.
func (f *ChatFlags) SetEcho(chat string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.echo[chat] = true
	} else {
		delete(f.echo, chat)
	}
}

func (f *ChatFlags) Echo(chat string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.echo[chat]
}
