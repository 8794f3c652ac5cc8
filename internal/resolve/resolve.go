// Package resolve maps free-form identifier strings (names, phone numbers,
// usernames, raw peer ids) onto concrete chat candidates across platforms.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// Kind classifies the shape of a query string.
type Kind string

const (
	KindName     Kind = "name"
	KindPhone    Kind = "phone"
	KindUsername Kind = "username"
	KindRawID    Kind = "raw_id"
)

// rawIDDigits is the length above which an unpunctuated digit string is
// treated as a platform-internal id as well as a phone number.
const rawIDDigits = 6

// Classify determines the query's shape and its normalized comparison
// value: canonical phone digits, bare username, or the trimmed string.
func Classify(query string) (Kind, string) {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "@") && len(q) > 1 {
		return KindUsername, q[1:]
	}
	if q != "" && isDigits(q) {
		if len(q) > rawIDDigits {
			return KindRawID, q
		}
		return KindPhone, platform.NormalizePhone(q)
	}
	if looksLikePhone(q) {
		return KindPhone, platform.NormalizePhone(q)
	}
	return KindName, q
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// looksLikePhone accepts digit strings with phone punctuation only, and
// requires at least as many digits as a short dial code.
func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 3
}

// Resolver runs the tiered matching algorithm over a set of adapters.
type Resolver struct {
	adapters []platform.Adapter
}

func New(adapters ...platform.Adapter) *Resolver {
	return &Resolver{adapters: adapters}
}

// Resolve returns every candidate the query matches, platform-tagged and
// deterministically ordered. Per adapter, matching stops at the first
// non-empty tier: exact address, then exact display name, then substring.
// Tiers are never mixed within one adapter; the caller decides what to do
// with zero, one, or many candidates.
func (r *Resolver) Resolve(ctx context.Context, query string, restrict platform.ID) ([]platform.Candidate, error) {
	kind, norm := Classify(query)
	findQuery := strings.TrimSpace(query)
	if kind == KindUsername {
		findQuery = norm
	}

	var out []platform.Candidate
	for _, adapter := range r.adapters {
		if restrict != "" && adapter.Platform() != restrict {
			continue
		}
		// Without an explicit restriction an absent store is skipped, not an
		// error; with one, the adapter's own failure is surfaced.
		if restrict == "" && !adapter.Available() {
			continue
		}
		chats, err := adapter.FindChats(ctx, findQuery)
		if err != nil {
			return nil, fmt.Errorf("find chats on %s: %w", adapter.Platform(), err)
		}
		out = append(out, bestTier(adapter.Platform(), chats, kind, norm, query)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform.Priority() < out[j].Platform.Priority()
		}
		if ni, nj := out[i].Chat.Name(), out[j].Chat.Name(); ni != nj {
			return ni < nj
		}
		return out[i].Chat.Identifier < out[j].Chat.Identifier
	})
	return out, nil
}

// ResolveOne narrows resolution to exactly one candidate, as send and read
// require. Zero candidates is NotFound; several is Ambiguous with the full
// candidate list, never a guess.
func (r *Resolver) ResolveOne(ctx context.Context, query string, restrict platform.ID) (platform.Candidate, error) {
	candidates, err := r.Resolve(ctx, query, restrict)
	if err != nil {
		return platform.Candidate{}, err
	}
	switch len(candidates) {
	case 0:
		return platform.Candidate{}, &platform.NotFoundError{Query: query}
	case 1:
		return candidates[0], nil
	}
	return platform.Candidate{}, &platform.AmbiguousError{Query: query, Candidates: candidates}
}

// bestTier partitions one adapter's matches and keeps the highest
// non-empty tier.
func bestTier(id platform.ID, chats []platform.Chat, kind Kind, norm, query string) []platform.Candidate {
	var tiers [3][]platform.Candidate
	for _, chat := range chats {
		tier := tierOf(chat, kind, norm, query)
		tiers[tier] = append(tiers[tier], platform.Candidate{
			Platform: id,
			Chat:     chat,
			Address:  SendAddress(chat),
		})
	}
	for _, tier := range tiers {
		if len(tier) > 0 {
			return tier
		}
	}
	return nil
}

func tierOf(chat platform.Chat, kind Kind, norm, query string) int {
	if exactAddressMatch(chat, kind, norm) {
		return 0
	}
	if strings.EqualFold(chat.DisplayName, strings.TrimSpace(query)) {
		return 1
	}
	return 2
}

func exactAddressMatch(chat platform.Chat, kind Kind, norm string) bool {
	if kind == KindRawID && chat.Identifier == norm {
		return true
	}
	for _, m := range chat.Members {
		switch kind {
		case KindPhone, KindRawID:
			if m.Kind == platform.AddressPhone && platform.SamePhone(m.Value, norm) {
				return true
			}
		case KindUsername:
			if m.Kind == platform.AddressUsername && strings.EqualFold(m.Value, norm) {
				return true
			}
		case KindName:
			if m.Kind == platform.AddressEmail && strings.EqualFold(m.Value, norm) {
				return true
			}
		}
	}
	return false
}

// SendAddress picks the address a send to this chat should target: the
// group chat id for Messages group chats, otherwise the chat's preferred
// member address.
func SendAddress(chat platform.Chat) platform.Address {
	if chat.Platform == platform.Messages && strings.HasPrefix(chat.Identifier, "chat") {
		return platform.Address{Kind: platform.AddressChatID, Value: chat.Identifier}
	}
	if len(chat.Members) > 0 {
		return chat.Members[0]
	}
	return platform.Address{Kind: platform.AddressChatID, Value: chat.Identifier}
}
