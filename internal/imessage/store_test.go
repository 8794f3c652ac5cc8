package imessage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/crosstalk/internal/contacts"
	"github.com/Napageneral/crosstalk/internal/platform"
)

const chatDBSchema = `
	CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, chat_identifier TEXT, display_name TEXT, service_name TEXT);
	CREATE TABLE message (
		ROWID INTEGER PRIMARY KEY, guid TEXT, date INTEGER, is_from_me INTEGER,
		text TEXT, attributedBody BLOB, handle_id INTEGER,
		date_edited INTEGER DEFAULT 0, associated_message_type INTEGER DEFAULT 0
	);
	CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT, uncanonicalized_id TEXT);
	CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
	CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER);
	CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, filename TEXT, mime_type TEXT, transfer_name TEXT);
	CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
`

// appleNanos converts a time to the chat.db date column representation.
func appleNanos(t time.Time) int64 {
	return (t.Unix() - appleReferenceUnix) * int64(time.Second)
}

type fixture struct {
	db    *sql.DB
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(chatDBSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	book := contacts.Open(filepath.Join(t.TempDir(), "no-sources"))
	return &fixture{db: db, store: NewStore(dbPath, book)}
}

func (f *fixture) addChat(t *testing.T, rowID int64, identifier, displayName string) {
	t.Helper()
	if _, err := f.db.Exec(`INSERT INTO chat (ROWID, chat_identifier, display_name, service_name) VALUES (?, ?, ?, 'iMessage')`,
		rowID, identifier, displayName); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
}

func (f *fixture) addHandle(t *testing.T, rowID int64, id string, chatID int64) {
	t.Helper()
	if _, err := f.db.Exec(`INSERT INTO handle (ROWID, id) VALUES (?, ?)`, rowID, id); err != nil {
		t.Fatalf("insert handle: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO chat_handle_join (chat_id, handle_id) VALUES (?, ?)`, chatID, rowID); err != nil {
		t.Fatalf("insert chat_handle_join: %v", err)
	}
}

func (f *fixture) addMessage(t *testing.T, rowID, chatID int64, ts time.Time, fromMe bool, text string, handleID int64, assocType int64) {
	t.Helper()
	var handle any
	if handleID > 0 {
		handle = handleID
	}
	fm := 0
	if fromMe {
		fm = 1
	}
	if _, err := f.db.Exec(`INSERT INTO message (ROWID, date, is_from_me, text, handle_id, associated_message_type) VALUES (?, ?, ?, ?, ?, ?)`,
		rowID, appleNanos(ts), fm, text, handle, assocType); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`, chatID, rowID); err != nil {
		t.Fatalf("insert chat_message_join: %v", err)
	}
}

func TestListChatsOrder(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	f.addChat(t, 1, "+12065551234", "")
	f.addChat(t, 2, "+14155550000", "")
	f.addMessage(t, 1, 1, base, false, "older", 0, 0)
	f.addMessage(t, 2, 2, base.Add(time.Hour), true, "newer", 0, 0)

	chats, err := f.store.ListChats(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].Identifier != "+14155550000" {
		t.Errorf("most recent chat first: got %q", chats[0].Identifier)
	}
	if chats[0].Platform != platform.Messages {
		t.Errorf("platform tag = %q", chats[0].Platform)
	}
	if !chats[0].LastActivity.After(chats[1].LastActivity) {
		t.Error("last activity ordering broken")
	}
}

func TestFindChatsByDigitsAndDisplayName(t *testing.T) {
	f := newFixture(t)
	f.addChat(t, 1, "+12065551234", "")
	f.addChat(t, 2, "chat100200300", "Robotics Club")
	f.addHandle(t, 1, "+12065551234", 1)
	f.addHandle(t, 2, "+12065551234", 2)

	// Phone with punctuation finds both the DM and the group containing it.
	chats, err := f.store.FindChats(context.Background(), "(206) 555-1234")
	if err != nil {
		t.Fatalf("FindChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2: %+v", len(chats), chats)
	}

	// Display name substring, case preserved by LIKE.
	chats, err = f.store.FindChats(context.Background(), "Robotics")
	if err != nil {
		t.Fatalf("FindChats: %v", err)
	}
	if len(chats) != 1 || chats[0].DisplayName != "Robotics Club" {
		t.Fatalf("unexpected result: %+v", chats)
	}
}

func TestFindChatsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addChat(t, 1, "+12065551234", "")
	f.addHandle(t, 1, "+12065551234", 1)

	first, err := f.store.FindChats(context.Background(), "2065551234")
	if err != nil {
		t.Fatalf("FindChats: %v", err)
	}
	second, err := f.store.FindChats(context.Background(), "2065551234")
	if err != nil {
		t.Fatalf("FindChats: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result set changed between identical queries: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Identifier != second[i].Identifier {
			t.Errorf("order changed at %d: %q vs %q", i, first[i].Identifier, second[i].Identifier)
		}
	}
}

func TestReadMessagesChronologicalWithTapback(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	f.addChat(t, 1, "+12065551234", "")
	f.addHandle(t, 1, "+12065551234", 1)
	f.addMessage(t, 1, 1, base, false, "hello there", 1, 0)
	f.addMessage(t, 2, 1, base.Add(time.Minute), true, "hi!", 0, 0)
	f.addMessage(t, 3, 1, base.Add(2*time.Minute), false, `Loved "hi!"`, 1, 2000)
	f.addMessage(t, 4, 1, base.Add(3*time.Minute), false, "removed", 1, 3000)

	msgs, err := f.store.ReadMessages(context.Background(), "+12065551234", 10)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (reaction removal skipped): %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "hello there" || msgs[2].Text != `[Loved] "hi!"` {
		t.Errorf("unexpected rendering: %q ... %q", msgs[0].Text, msgs[2].Text)
	}
	if !msgs[0].Timestamp.Before(msgs[1].Timestamp) {
		t.Error("messages should be chronological")
	}
	if msgs[1].Sender != "Me" || !msgs[1].FromMe {
		t.Errorf("self message sender = %q", msgs[1].Sender)
	}
}

func TestReadMessagesAttachmentOnly(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	f.addChat(t, 1, "+12065551234", "")
	f.addMessage(t, 1, 1, base, false, "", 0, 0)
	if _, err := f.db.Exec(`INSERT INTO attachment (ROWID, filename, mime_type, transfer_name) VALUES (1, 'IMG_1.heic', 'image/heic', 'IMG_1.heic')`); err != nil {
		t.Fatalf("insert attachment: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (1, 1)`); err != nil {
		t.Fatalf("insert join: %v", err)
	}

	msgs, err := f.store.ReadMessages(context.Background(), "+12065551234", 10)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Text != "[image: IMG_1.heic]" {
		t.Errorf("attachment rendering = %q", msgs[0].Text)
	}
}

func TestSearchMessagesMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	f.addChat(t, 1, "+12065551234", "")
	f.addMessage(t, 1, 1, base, false, "dinner on friday?", 0, 0)
	f.addMessage(t, 2, 1, base.Add(time.Hour), true, "dinner works", 0, 0)
	f.addMessage(t, 3, 1, base.Add(2*time.Hour), false, "unrelated", 0, 0)

	msgs, err := f.store.SearchMessages(context.Background(), "DINNER", 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d matches, want 2", len(msgs))
	}
	if !msgs[0].Timestamp.After(msgs[1].Timestamp) {
		t.Error("search results should be most recent first")
	}
}

func TestCounts(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f.addChat(t, 1, "+12065551234", "")
	f.addMessage(t, 1, 1, base, false, "one", 0, 0)
	f.addMessage(t, 2, 1, base, true, "two", 0, 0)

	counts, err := f.store.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Messages != 2 || counts.Chats != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.Platform != platform.Messages {
		t.Errorf("platform = %q", counts.Platform)
	}
}

func TestStoreUnavailable(t *testing.T) {
	book := contacts.Open(t.TempDir())
	store := NewStore(filepath.Join(t.TempDir(), "missing", "chat.db"), book)

	if store.Available() {
		t.Error("Available should be false for missing db")
	}
	_, err := store.ListChats(context.Background(), 5)
	var unavailable *platform.StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
	if unavailable.Platform != platform.Messages {
		t.Errorf("platform = %q", unavailable.Platform)
	}
}

func TestSendDelegatesToScript(t *testing.T) {
	f := newFixture(t)
	var calls int
	var gotArgs []string
	f.store.runScript = func(ctx context.Context, lines []string, args []string) (string, error) {
		calls++
		gotArgs = args
		return "", nil
	}

	err := f.store.Send(context.Background(), platform.Address{Kind: platform.AddressPhone, Value: "12065551234"}, "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 1 {
		t.Fatalf("transport called %d times, want exactly 1", calls)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "+12065551234" || gotArgs[1] != "hi" {
		t.Errorf("script args = %v", gotArgs)
	}
}

func TestSendFailureWrapped(t *testing.T) {
	f := newFixture(t)
	f.store.runScript = func(ctx context.Context, lines []string, args []string) (string, error) {
		return "", context.DeadlineExceeded
	}

	err := f.store.Send(context.Background(), platform.Address{Kind: platform.AddressEmail, Value: "x@example.com"}, "hi")
	var sendErr *platform.SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendError, got %v", err)
	}
}

func TestAppleNanoToTime(t *testing.T) {
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := appleNanoToTime(appleNanos(ts)); !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
	if !appleNanoToTime(0).IsZero() {
		t.Error("zero date should map to zero time")
	}
}

func TestHandleAddressKinds(t *testing.T) {
	if a := handleAddress("+12065551234"); a.Kind != platform.AddressPhone || a.Value != "12065551234" {
		t.Errorf("phone address = %+v", a)
	}
	if a := handleAddress("sarah@example.com"); a.Kind != platform.AddressEmail {
		t.Errorf("email address = %+v", a)
	}
	if a := handleAddress("chat100200300"); a.Kind != platform.AddressChatID {
		t.Errorf("chat address = %+v", a)
	}
}

func TestExtractAttributedBody(t *testing.T) {
	// Synthetic blob in the typedstream shape the extractor expects:
	// ...NSString...+<len><text>...NSDictionary...
	blob := []byte("streamtypedNSString\x01+\x0bhello world\x86NSDictionary")
	if got := ExtractAttributedBody(blob); got != "hello world" {
		t.Errorf("ExtractAttributedBody = %q", got)
	}
	if got := ExtractAttributedBody(nil); got != "" {
		t.Errorf("nil blob = %q", got)
	}
	if got := ExtractAttributedBody([]byte("no marker here")); got != "" {
		t.Errorf("markerless blob = %q", got)
	}
}

