// Package imessage is the platform adapter for the macOS Messages store.
// Reads go straight to chat.db over a read-only SQLite connection; sends go
// through the Messages AppleScript automation interface.
package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/crosstalk/internal/contacts"
	"github.com/Napageneral/crosstalk/internal/platform"
)

// appleReferenceUnix is the CoreData epoch: 2001-01-01T00:00:00Z.
const appleReferenceUnix = int64(978307200)

var tapbackTypes = map[int64]string{
	2000: "Loved",
	2001: "Liked",
	2002: "Disliked",
	2003: "Laughed at",
	2004: "Emphasized",
	2005: "Questioned",
}

// Store is the Messages platform adapter.
type Store struct {
	dbPath string
	book   *contacts.Book

	// runScript is swapped out in tests; production uses osascript.
	runScript scriptRunner
}

// NewStore returns a Store over the given chat.db path, resolving handles
// to names through book.
func NewStore(dbPath string, book *contacts.Book) *Store {
	return &Store{dbPath: dbPath, book: book, runScript: runAppleScript}
}

func (s *Store) Platform() platform.ID { return platform.Messages }

// Available reports whether chat.db exists. Cheap path check only.
func (s *Store) Available() bool {
	_, err := os.Stat(s.dbPath)
	return err == nil
}

func (s *Store) open() (*sql.DB, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, &platform.StoreUnavailableError{
			Platform: platform.Messages,
			Hint:     "is Messages set up on this Mac?",
			Err:      err,
		}
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", strings.ReplaceAll(s.dbPath, " ", "%20"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chat.db: %w", err)
	}
	// A permission failure only surfaces on first query.
	if _, err := db.Exec("SELECT 1 FROM message LIMIT 1"); err != nil {
		db.Close()
		return nil, &platform.StoreUnavailableError{
			Platform: platform.Messages,
			Hint:     "grant Full Disk Access to your terminal in System Settings > Privacy & Security",
			Err:      err,
		}
	}
	return db, nil
}

// ListChats returns up to limit chats, most recent activity first.
func (s *Store) ListChats(ctx context.Context, limit int) ([]platform.Chat, error) {
	if limit <= 0 {
		limit = 20
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT c.chat_identifier, COALESCE(c.display_name, ''), MAX(m.date)
		FROM chat c
		JOIN chat_message_join cmj ON c.ROWID = cmj.chat_id
		JOIN message m ON cmj.message_id = m.ROWID
		GROUP BY c.ROWID
		ORDER BY MAX(m.date) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []platform.Chat
	for rows.Next() {
		var identifier, displayName string
		var lastDate int64
		if err := rows.Scan(&identifier, &displayName, &lastDate); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, s.buildChat(db, identifier, displayName, lastDate))
	}
	return chats, rows.Err()
}

// FindChats matches chats by display name, member handle, or phone digits,
// resolving contact names to phone numbers when the query has no digits.
func (s *Store) FindChats(ctx context.Context, query string) ([]platform.Chat, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	needles := []string{}
	digits := platform.Digits(query)
	switch {
	case digits != "":
		needles = append(needles, digits)
	case strings.Contains(query, "@"):
		needles = append(needles, query)
	default:
		// Name query: resolve to phone numbers via the address book.
		people, err := s.book.Search(query)
		if err == nil {
			for _, p := range people {
				for _, phone := range p.Phones {
					if d := platform.Digits(phone); d != "" {
						needles = append(needles, d)
					}
				}
			}
		}
	}

	seen := map[int64]bool{}
	var chats []platform.Chat

	// Chats whose display name contains the query directly.
	if err := s.findChatRows(ctx, db, `
		SELECT c.ROWID, c.chat_identifier, COALESCE(c.display_name, ''),
		       COALESCE((SELECT MAX(m.date) FROM chat_message_join cmj
		                 JOIN message m ON cmj.message_id = m.ROWID
		                 WHERE cmj.chat_id = c.ROWID), 0)
		FROM chat c
		WHERE c.display_name LIKE ? ESCAPE '\'
	`, "%"+escapeLike(query)+"%", seen, &chats); err != nil {
		return nil, err
	}

	for _, needle := range needles {
		pattern := "%" + escapeLike(needle) + "%"
		// Direct (DM) chats whose identifier contains the needle.
		if err := s.findChatRows(ctx, db, `
			SELECT c.ROWID, c.chat_identifier, COALESCE(c.display_name, ''),
			       COALESCE((SELECT MAX(m.date) FROM chat_message_join cmj
			                 JOIN message m ON cmj.message_id = m.ROWID
			                 WHERE cmj.chat_id = c.ROWID), 0)
			FROM chat c
			WHERE c.chat_identifier LIKE ? ESCAPE '\'
		`, pattern, seen, &chats); err != nil {
			return nil, err
		}
		// Group chats with a matching member handle.
		if err := s.findChatRows(ctx, db, `
			SELECT c.ROWID, c.chat_identifier, COALESCE(c.display_name, ''),
			       COALESCE((SELECT MAX(m.date) FROM chat_message_join cmj
			                 JOIN message m ON cmj.message_id = m.ROWID
			                 WHERE cmj.chat_id = c.ROWID), 0)
			FROM chat c
			JOIN chat_handle_join chj ON c.ROWID = chj.chat_id
			JOIN handle h ON chj.handle_id = h.ROWID
			WHERE h.id LIKE ? ESCAPE '\'
			GROUP BY c.ROWID
		`, pattern, seen, &chats); err != nil {
			return nil, err
		}
	}

	return chats, nil
}

func (s *Store) findChatRows(ctx context.Context, db *sql.DB, query, arg string, seen map[int64]bool, chats *[]platform.Chat) error {
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("find chats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rowID, lastDate int64
		var identifier, displayName string
		if err := rows.Scan(&rowID, &identifier, &displayName, &lastDate); err != nil {
			return fmt.Errorf("scan chat: %w", err)
		}
		if seen[rowID] {
			continue
		}
		seen[rowID] = true
		*chats = append(*chats, s.buildChat(db, identifier, displayName, lastDate))
	}
	return rows.Err()
}

// ReadMessages returns the most recent limit messages of one chat in
// chronological order, with tapbacks, attachments, and attributedBody
// fallbacks folded into the text.
func (s *Store) ReadMessages(ctx context.Context, chatIdentifier string, limit int) ([]platform.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT m.ROWID, m.date, COALESCE(m.is_from_me, 0), m.text, m.attributedBody,
		       COALESCE(h.id, ''), COALESCE(m.date_edited, 0),
		       COALESCE(m.associated_message_type, 0),
		       COALESCE(c.display_name, '')
		FROM message m
		JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
		JOIN chat c ON cmj.chat_id = c.ROWID
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE c.chat_identifier = ?
		ORDER BY m.date DESC
		LIMIT ?
	`, chatIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	defer rows.Close()

	var raws []rawMessage
	for rows.Next() {
		var r rawMessage
		if err := rows.Scan(&r.rowID, &r.date, &r.fromMe, &r.text, &r.body, &r.handle, &r.edited, &r.assocType, &r.chatName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attachments, err := s.attachmentLabels(ctx, db, raws)
	if err != nil {
		return nil, err
	}

	var messages []platform.Message
	for _, r := range raws {
		text, ok := s.renderBody(r.text, r.body, r.assocType, attachments[r.rowID])
		if !ok {
			continue
		}
		messages = append(messages, platform.Message{
			Platform:       platform.Messages,
			ChatIdentifier: chatIdentifier,
			ChatName:       r.chatName,
			Sender:         s.senderName(r.fromMe, r.handle),
			FromMe:         r.fromMe,
			Timestamp:      appleNanoToTime(r.date),
			Text:           text,
			Edited:         r.edited > 0,
		})
	}

	// Chronological order for display.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// SearchMessages matches message bodies by substring, most recent first.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]platform.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT m.date, COALESCE(m.is_from_me, 0), COALESCE(m.text, ''),
		       COALESCE(h.id, ''), c.chat_identifier, COALESCE(c.display_name, '')
		FROM message m
		JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
		JOIN chat c ON cmj.chat_id = c.ROWID
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.text LIKE ? ESCAPE '\'
		ORDER BY m.date DESC
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var messages []platform.Message
	for rows.Next() {
		var date int64
		var fromMe bool
		var text, handle, identifier, displayName string
		if err := rows.Scan(&date, &fromMe, &text, &handle, &identifier, &displayName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		chatName := displayName
		if chatName == "" {
			chatName = s.handleLabel(identifier)
		}
		messages = append(messages, platform.Message{
			Platform:       platform.Messages,
			ChatIdentifier: identifier,
			ChatName:       chatName,
			Sender:         s.senderName(fromMe, handle),
			FromMe:         fromMe,
			Timestamp:      appleNanoToTime(date),
			Text:           text,
		})
	}
	return messages, rows.Err()
}

// Counts returns total message and chat counts.
func (s *Store) Counts(ctx context.Context) (platform.Counts, error) {
	counts := platform.Counts{Platform: platform.Messages}
	db, err := s.open()
	if err != nil {
		return counts, err
	}
	defer db.Close()

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message").Scan(&counts.Messages); err != nil {
		return counts, fmt.Errorf("count messages: %w", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat").Scan(&counts.Chats); err != nil {
		return counts, fmt.Errorf("count chats: %w", err)
	}
	return counts, nil
}

func (s *Store) buildChat(db *sql.DB, identifier, displayName string, lastDate int64) platform.Chat {
	chat := platform.Chat{
		Platform:     platform.Messages,
		Identifier:   identifier,
		DisplayName:  displayName,
		LastActivity: appleNanoToTime(lastDate),
	}

	if strings.HasPrefix(identifier, "chat") {
		handles := chatParticipants(db, identifier)
		for _, h := range handles {
			chat.Members = append(chat.Members, handleAddress(h))
		}
		if chat.DisplayName == "" {
			chat.DisplayName = s.participantLabel(handles)
		}
	} else {
		chat.Members = []platform.Address{handleAddress(identifier)}
		if chat.DisplayName == "" {
			chat.DisplayName = s.handleLabel(identifier)
		}
	}
	return chat
}

// participantLabel names an unnamed group chat by its first members.
func (s *Store) participantLabel(handles []string) string {
	if len(handles) == 0 {
		return ""
	}
	names := make([]string, 0, 3)
	for _, h := range handles {
		if len(names) == 3 {
			break
		}
		names = append(names, s.handleLabel(h))
	}
	label := strings.Join(names, ", ")
	if extra := len(handles) - len(names); extra > 0 {
		label += fmt.Sprintf(" +%d", extra)
	}
	return label
}

// handleLabel renders one handle as a contact name, formatted phone, or the
// raw handle.
func (s *Store) handleLabel(handle string) string {
	if name := s.book.NameForHandle(handle); name != "" {
		return name
	}
	if platform.Digits(handle) != "" && !strings.Contains(handle, "@") {
		return platform.FormatPhone(handle)
	}
	return handle
}

func (s *Store) senderName(fromMe bool, handle string) string {
	if fromMe {
		return "Me"
	}
	if handle == "" {
		return "Unknown"
	}
	return s.handleLabel(handle)
}

// renderBody folds tapbacks, attributedBody fallback, and attachment labels
// into one display string. ok=false means the row carries nothing showable
// (empty body, or a reaction-removal record).
func (s *Store) renderBody(text sql.NullString, attributedBody []byte, assocType int64, attachments []string) (string, bool) {
	if reaction, isTapback := tapbackTypes[assocType]; isTapback {
		body := text.String
		if body == "" {
			body = ExtractAttributedBody(attributedBody)
		}
		// Strip the redundant reaction prefix Messages bakes into the body.
		for _, prefix := range tapbackTypes {
			if strings.HasPrefix(body, prefix+" ") {
				body = body[len(prefix)+1:]
				break
			}
		}
		return fmt.Sprintf("[%s] %s", reaction, body), true
	}
	if assocType >= 3000 {
		return "", false // reaction removal
	}

	content := text.String
	if content == "" {
		content = ExtractAttributedBody(attributedBody)
	}
	if len(attachments) > 0 {
		joined := strings.Join(attachments, " ")
		if content == "" {
			content = joined
		} else {
			content = content + " " + joined
		}
	}
	if content == "" {
		return "", false
	}
	return content, true
}

type rawMessage struct {
	rowID     int64
	date      int64
	fromMe    bool
	text      sql.NullString
	body      []byte
	handle    string
	edited    int64
	assocType int64
	chatName  string
	chatIdent string
}

func (s *Store) attachmentLabels(ctx context.Context, db *sql.DB, raws []rawMessage) (map[int64][]string, error) {
	labels := make(map[int64][]string)
	if len(raws) == 0 {
		return labels, nil
	}

	placeholders := make([]string, len(raws))
	args := make([]any, len(raws))
	for i, r := range raws {
		placeholders[i] = "?"
		args[i] = r.rowID
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT maj.message_id, COALESCE(a.transfer_name, ''), COALESCE(a.filename, ''),
		       COALESCE(a.mime_type, '')
		FROM message_attachment_join maj
		JOIN attachment a ON maj.attachment_id = a.ROWID
		WHERE maj.message_id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var transferName, filename, mimeType string
		if err := rows.Scan(&messageID, &transferName, &filename, &mimeType); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		name := transferName
		if name == "" {
			name = filename
		}
		if name == "" {
			name = "attachment"
		}
		if strings.Contains(name, "pluginPayloadAttachment") {
			continue
		}
		label := "file"
		if i := strings.IndexByte(mimeType, '/'); i > 0 {
			label = mimeType[:i]
		}
		labels[messageID] = append(labels[messageID], fmt.Sprintf("[%s: %s]", label, name))
	}
	return labels, rows.Err()
}

func chatParticipants(db *sql.DB, chatIdentifier string) []string {
	rows, err := db.Query(`
		SELECT h.id
		FROM handle h
		JOIN chat_handle_join chj ON h.ROWID = chj.handle_id
		JOIN chat c ON chj.chat_id = c.ROWID
		WHERE c.chat_identifier = ?
		ORDER BY h.id
	`, chatIdentifier)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err == nil && h != "" {
			handles = append(handles, h)
		}
	}
	return handles
}

func handleAddress(handle string) platform.Address {
	if strings.HasPrefix(handle, "chat") && platform.Digits(handle) == handle[4:] {
		return platform.Address{Kind: platform.AddressChatID, Value: handle}
	}
	if strings.Contains(handle, "@") {
		return platform.Address{Kind: platform.AddressEmail, Value: handle}
	}
	return platform.Address{Kind: platform.AddressPhone, Value: platform.NormalizePhone(handle)}
}

func appleNanoToTime(nanos int64) time.Time {
	if nanos <= 0 {
		return time.Time{}
	}
	sec := nanos / int64(time.Second)
	nsec := nanos % int64(time.Second)
	return time.Unix(appleReferenceUnix+sec, nsec).UTC()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
