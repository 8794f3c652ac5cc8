package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// Store is the Telegram platform adapter. It reads from a decrypted copy
// of the local postbox and sends over MTProto with the account's own auth
// key. The decrypt-and-export pipeline runs at most once per Store.
type Store struct {
	container string

	mu        sync.Mutex
	pb        *Postbox
	openErr   error
	opened    bool
	peerCache map[int64]peerInfo
	latest    map[int64]int32

	send sendFunc
}

func NewStore(container string) *Store {
	return &Store{
		container: container,
		peerCache: make(map[int64]peerInfo),
		send:      mtprotoSend,
	}
}

func (s *Store) Platform() platform.ID { return platform.Telegram }

// Available checks for the postbox and its key file. Path checks only; the
// expensive decryption happens on first read.
func (s *Store) Available() bool {
	return findPostboxPath(s.container) != "" && findKeyPath(s.container) != ""
}

func (s *Store) ensureOpen(ctx context.Context) (*Postbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		s.pb, s.openErr = OpenPostbox(ctx, s.container)
		s.opened = true
	}
	return s.pb, s.openErr
}

// Close deletes the plaintext postbox copy, if one was made.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pb == nil {
		return nil
	}
	err := s.pb.Close()
	s.pb = nil
	s.opened = false
	return err
}

func (s *Store) ListChats(ctx context.Context, limit int) ([]platform.Chat, error) {
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestByPeer(ctx, pb)
	if err != nil {
		return nil, err
	}

	type peerTS struct {
		peerID int64
		ts     int32
	}
	ordered := make([]peerTS, 0, len(latest))
	for id, ts := range latest {
		ordered = append(ordered, peerTS{id, ts})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ts != ordered[j].ts {
			return ordered[i].ts > ordered[j].ts
		}
		return ordered[i].peerID < ordered[j].peerID
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	chats := make([]platform.Chat, 0, len(ordered))
	for _, p := range ordered {
		peer, err := s.getPeer(ctx, pb, p.peerID)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chatForPeer(p.peerID, peer, p.ts))
	}
	return chats, nil
}

func (s *Store) FindChats(ctx context.Context, query string) ([]platform.Chat, error) {
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestByPeer(ctx, pb)
	if err != nil {
		return nil, err
	}

	queryTrimmed := strings.TrimSpace(query)
	queryLower := strings.ToLower(queryTrimmed)
	queryDigits := platform.Digits(query)

	rows, err := pb.db.QueryContext(ctx, "SELECT key, value FROM t2")
	if err != nil {
		return nil, fmt.Errorf("scan peers: %w", err)
	}
	defer rows.Close()

	var chats []platform.Chat
	for rows.Next() {
		var peerID int64
		var value []byte
		if err := rows.Scan(&peerID, &value); err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		peer, ok := parsePeer(value)
		if !ok {
			continue
		}
		s.cachePeer(peerID, peer)

		searchable := strings.ToLower(peer.displayName() + " " + peer.username + " " + peer.phone)
		phoneDigits := platform.Digits(peer.phone)
		match := strings.Contains(searchable, queryLower) ||
			(queryDigits != "" && phoneDigits != "" && strings.Contains(phoneDigits, queryDigits)) ||
			strconv.FormatInt(peerID, 10) == queryTrimmed
		if !match {
			continue
		}
		chats = append(chats, chatForPeer(peerID, peer, latest[peerID]))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan peers: %w", err)
	}

	sort.Slice(chats, func(i, j int) bool { return chats[i].Identifier < chats[j].Identifier })
	return chats, nil
}

func (s *Store) ReadMessages(ctx context.Context, chatIdentifier string, limit int) ([]platform.Message, error) {
	peerID, err := strconv.ParseInt(chatIdentifier, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad peer id %q: %w", chatIdentifier, err)
	}
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pb.db.QueryContext(ctx,
		"SELECT key, value FROM t7 WHERE substr(key, 1, 8) = ? ORDER BY key DESC LIMIT ?",
		peerKeyPrefix(peerID), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	chatPeer, err := s.getPeer(ctx, pb, peerID)
	if err != nil {
		return nil, err
	}
	chatName := chatPeer.displayName()

	var out []platform.Message
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg, ok := s.buildMessage(ctx, pb, key, value, chatName)
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	// Rows came newest-first; readers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]platform.Message, error) {
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	queryLower := strings.ToLower(query)

	rows, err := pb.db.QueryContext(ctx, "SELECT key, value FROM t7 ORDER BY key DESC")
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []platform.Message
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		raw, ok := parseMessageValue(value)
		if !ok || raw.text == "" || !strings.Contains(strings.ToLower(raw.text), queryLower) {
			continue
		}
		msg, ok := s.buildMessage(ctx, pb, key, value, "")
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (platform.Counts, error) {
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return platform.Counts{}, err
	}
	counts := platform.Counts{Platform: platform.Telegram}
	if err := pb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t7").Scan(&counts.Messages); err != nil {
		return platform.Counts{}, fmt.Errorf("count messages: %w", err)
	}
	if err := pb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t2").Scan(&counts.Chats); err != nil {
		return platform.Counts{}, fmt.Errorf("count peers: %w", err)
	}
	return counts, nil
}

// Send connects with the postbox's own auth key and delivers one message.
func (s *Store) Send(ctx context.Context, to platform.Address, body string) error {
	pb, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	keys, err := pb.AuthKeys()
	if err != nil {
		return err
	}
	sessions, err := candidateSessions(keys)
	if err != nil {
		return err
	}
	if err := s.send(ctx, sessions, to, body); err != nil {
		return &platform.SendError{Platform: platform.Telegram, Err: err}
	}
	return nil
}

// buildMessage turns a t7 row into a platform message, resolving the sender
// display name. Messages without text (service messages, media-only) are
// dropped. chatName may be empty to resolve from the key's peer.
func (s *Store) buildMessage(ctx context.Context, pb *Postbox, key, value []byte, chatName string) (platform.Message, bool) {
	mk, err := parseMessageKey(key)
	if err != nil {
		return platform.Message{}, false
	}
	raw, ok := parseMessageValue(value)
	if !ok || raw.text == "" {
		return platform.Message{}, false
	}

	if chatName == "" {
		peer, err := s.getPeer(ctx, pb, mk.peerID)
		if err != nil {
			return platform.Message{}, false
		}
		chatName = peer.displayName()
	}

	sender := "Me"
	if raw.incoming {
		authorID := raw.authorID
		if authorID == 0 {
			authorID = mk.peerID
		}
		author, err := s.getPeer(ctx, pb, authorID)
		if err != nil {
			return platform.Message{}, false
		}
		sender = author.displayName()
	}

	return platform.Message{
		Platform:       platform.Telegram,
		ChatIdentifier: strconv.FormatInt(mk.peerID, 10),
		ChatName:       chatName,
		Sender:         sender,
		FromMe:         !raw.incoming,
		Timestamp:      time.Unix(int64(mk.timestamp), 0),
		Text:           raw.text,
	}, true
}

func (s *Store) getPeer(ctx context.Context, pb *Postbox, peerID int64) (peerInfo, error) {
	s.mu.Lock()
	cached, ok := s.peerCache[peerID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var value []byte
	err := pb.db.QueryRowContext(ctx, "SELECT value FROM t2 WHERE key = ? LIMIT 1", peerID).Scan(&value)
	var peer peerInfo
	if err == nil {
		peer, _ = parsePeer(value)
	}
	s.cachePeer(peerID, peer)
	return peer, nil
}

func (s *Store) cachePeer(peerID int64, peer peerInfo) {
	s.mu.Lock()
	s.peerCache[peerID] = peer
	s.mu.Unlock()
}

// latestByPeer scans every t7 key once and records the newest message
// timestamp per peer. The postbox has no chat index to lean on.
func (s *Store) latestByPeer(ctx context.Context, pb *Postbox) (map[int64]int32, error) {
	s.mu.Lock()
	cached := s.latest
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	rows, err := pb.db.QueryContext(ctx, "SELECT key FROM t7")
	if err != nil {
		return nil, fmt.Errorf("scan message keys: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]int32)
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		mk, err := parseMessageKey(key)
		if err != nil {
			continue
		}
		if ts, ok := latest[mk.peerID]; !ok || mk.timestamp > ts {
			latest[mk.peerID] = mk.timestamp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan message keys: %w", err)
	}

	s.mu.Lock()
	s.latest = latest
	s.mu.Unlock()
	return latest, nil
}

// chatForPeer builds the chat record, ordering members by send preference:
// phone first, then username, then the bare peer id.
func chatForPeer(peerID int64, peer peerInfo, lastTS int32) platform.Chat {
	var members []platform.Address
	if peer.phone != "" {
		members = append(members, platform.Address{Kind: platform.AddressPhone, Value: platform.NormalizePhone(peer.phone)})
	}
	if peer.username != "" {
		members = append(members, platform.Address{Kind: platform.AddressUsername, Value: peer.username})
	}
	if len(members) == 0 {
		members = append(members, platform.Address{Kind: platform.AddressPeerID, Value: strconv.FormatInt(peerID, 10)})
	}

	var last time.Time
	if lastTS > 0 {
		last = time.Unix(int64(lastTS), 0)
	}
	return platform.Chat{
		Platform:     platform.Telegram,
		Identifier:   strconv.FormatInt(peerID, 10),
		DisplayName:  peer.displayName(),
		Members:      members,
		LastActivity: last,
	}
}
