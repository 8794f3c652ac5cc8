// Package platform defines the types shared by every chat platform adapter:
// the Adapter interface, the Chat/Message records adapters produce, the
// address forms a send path accepts, and the error taxonomy commands report.
package platform

import (
	"context"
	"fmt"
	"time"
)

// ID identifies one of the supported platforms.
type ID string

const (
	// Messages is the macOS Messages store (chat.db).
	Messages ID = "messages"
	// Telegram is the Telegram macOS postbox store.
	Telegram ID = "telegram"
)

// All returns the supported platforms in priority order. Merge tie-breaks
// and candidate ordering follow this order.
func All() []ID {
	return []ID{Messages, Telegram}
}

// Priority returns the merge tie-break rank of the platform (lower wins).
func (id ID) Priority() int {
	for i, p := range All() {
		if p == id {
			return i
		}
	}
	return len(All())
}

// Parse validates a --platform flag value. Empty means "all platforms".
func Parse(s string) (ID, error) {
	switch ID(s) {
	case "", Messages, Telegram:
		return ID(s), nil
	}
	return "", fmt.Errorf("unknown platform %q (expected %q or %q)", s, Messages, Telegram)
}

// AddressKind discriminates the forms a send destination can take.
type AddressKind string

const (
	// AddressPhone is a canonical phone number (E.164 digits, no '+').
	AddressPhone AddressKind = "phone"
	// AddressEmail is an email handle (iMessage accounts can be emails).
	AddressEmail AddressKind = "email"
	// AddressUsername is a platform username without the leading '@'.
	AddressUsername AddressKind = "username"
	// AddressPeerID is a platform-internal numeric id.
	AddressPeerID AddressKind = "peer_id"
	// AddressChatID is a platform-internal group chat identifier.
	AddressChatID AddressKind = "chat_id"
)

// Address is the atomic destination unit a resolver produces and a sender
// consumes. An Address is only meaningful on the platform that produced it.
type Address struct {
	Kind  AddressKind
	Value string
}

func (a Address) String() string {
	if a.Kind == AddressUsername {
		return "@" + a.Value
	}
	return a.Value
}

// Chat is one conversation on one platform.
type Chat struct {
	Platform     ID
	Identifier   string // platform-specific identity token
	DisplayName  string // may be empty for unnamed group chats
	Members      []Address
	LastActivity time.Time
}

// Name returns the best human label for the chat.
func (c Chat) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Identifier
}

// Message is one message row read from a platform store. Messages are
// immutable once read; crosstalk only ever creates one as the side effect
// of a confirmed send.
type Message struct {
	Platform       ID
	ChatIdentifier string
	ChatName       string
	Sender         string // display name, or "Me" for self
	FromMe         bool
	Timestamp      time.Time
	Text           string
	Edited         bool
}

// Counts is the per-platform stats pair.
type Counts struct {
	Platform ID  `json:"platform"`
	Messages int `json:"messages"`
	Chats    int `json:"chats"`
}

// Candidate is a resolved send/read target: one chat on one platform plus
// the concrete address to use when sending to it. Cross-platform ambiguity
// is surfaced as multiple candidates, never collapsed.
type Candidate struct {
	Platform ID
	Chat     Chat
	Address  Address
}

// Label renders the candidate for disambiguation lists.
func (c Candidate) Label() string {
	name := c.Chat.Name()
	addr := c.Address.String()
	if addr != "" && addr != name {
		return fmt.Sprintf("%s [%s] (%s)", name, addr, c.Platform)
	}
	return fmt.Sprintf("%s (%s)", name, c.Platform)
}

// Adapter is the uniform capability set over one platform's local store and
// outbound transport. Implementations must be safe for the single-threaded
// per-invocation use the CLI makes of them; read methods on distinct
// adapters may run concurrently.
type Adapter interface {
	// Platform returns the adapter's platform tag.
	Platform() ID

	// Available reports whether the backing store exists locally. It must
	// be cheap: path checks only, no decryption or connection.
	Available() bool

	// ListChats returns up to limit chats, most recent activity first.
	ListChats(ctx context.Context, limit int) ([]Chat, error)

	// FindChats returns chats whose display name, member names, or member
	// addresses contain query (case-insensitive). Unordered at this layer;
	// ranking is the resolver's job.
	FindChats(ctx context.Context, query string) ([]Chat, error)

	// ReadMessages returns the most recent limit messages of the chat in
	// chronological order. Full text always; truncation is presentation.
	ReadMessages(ctx context.Context, chatIdentifier string, limit int) ([]Message, error)

	// SearchMessages returns up to limit messages whose body contains
	// query (case-insensitive), most recent first.
	SearchMessages(ctx context.Context, query string, limit int) ([]Message, error)

	// Counts returns total message and chat counts for the store.
	Counts(ctx context.Context) (Counts, error)

	// Send delivers body to the destination address. Exactly one transport
	// call per invocation; the caller handles the dry-run gate.
	Send(ctx context.Context, to Address, body string) error
}
