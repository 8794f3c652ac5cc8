package telegram

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Test-side encoders mirroring the postbox record layout.

func putShortKey(buf *bytes.Buffer, key string) {
	buf.WriteByte(byte(len(key)))
	buf.WriteString(key)
}

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, int32(len(s)))
	buf.WriteString(s)
}

func putStringField(buf *bytes.Buffer, key, value string) {
	putShortKey(buf, key)
	buf.WriteByte(byte(typeString))
	putString(buf, value)
}

func encodePeerBlob(fn, ln, un, title, phone string) []byte {
	var inner bytes.Buffer
	for _, f := range []struct{ k, v string }{
		{"fn", fn}, {"ln", ln}, {"un", un}, {"t", title}, {"p", phone},
	} {
		if f.v != "" {
			putStringField(&inner, f.k, f.v)
		}
	}

	var outer bytes.Buffer
	putShortKey(&outer, "_")
	outer.WriteByte(byte(typeObject))
	binary.Write(&outer, binary.LittleEndian, int32(0)) // type hash
	binary.Write(&outer, binary.LittleEndian, int32(inner.Len()))
	outer.Write(inner.Bytes())
	return outer.Bytes()
}

func encodeMessageBlob(text string, incoming bool, authorID int64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(0)                                     // message record
	binary.Write(&buf, binary.LittleEndian, uint32(7))   // stable id
	binary.Write(&buf, binary.LittleEndian, uint32(1))   // stable version
	buf.WriteByte(0)                                     // data flags
	var flags uint32
	if incoming {
		flags = msgFlagIncoming
	}
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // tags
	buf.WriteByte(0)                                   // no fwd info
	if authorID != 0 {
		buf.WriteByte(1)
		binary.Write(&buf, binary.LittleEndian, authorID)
	} else {
		buf.WriteByte(0)
	}
	putString(&buf, text)
	return buf.Bytes()
}

func TestMessageKeyRoundTrip(t *testing.T) {
	want := messageKey{peerID: 777000, namespace: 0, timestamp: 1700000000, messageID: 42}
	key := encodeMessageKey(want)
	if len(key) != 20 {
		t.Fatalf("key length = %d, want 20", len(key))
	}
	got, err := parseMessageKey(key)
	if err != nil {
		t.Fatalf("parseMessageKey: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
	if !bytes.Equal(key[:8], peerKeyPrefix(want.peerID)) {
		t.Errorf("peerKeyPrefix does not match key prefix")
	}
}

func TestParseMessageKeyShort(t *testing.T) {
	if _, err := parseMessageKey([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestParseMessageValue(t *testing.T) {
	msg, ok := parseMessageValue(encodeMessageBlob("hello there", true, 1003))
	if !ok {
		t.Fatal("parseMessageValue failed")
	}
	if msg.text != "hello there" {
		t.Errorf("text = %q", msg.text)
	}
	if !msg.incoming {
		t.Error("expected incoming")
	}
	if msg.authorID != 1003 {
		t.Errorf("authorID = %d, want 1003", msg.authorID)
	}

	out, ok := parseMessageValue(encodeMessageBlob("sent by me", false, 0))
	if !ok {
		t.Fatal("parseMessageValue failed for outgoing")
	}
	if out.incoming {
		t.Error("expected outgoing")
	}
	if out.authorID != 0 {
		t.Errorf("authorID = %d, want 0", out.authorID)
	}
}

func TestParseMessageValueWithOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.WriteByte(dataFlagGloballyUniqueID | dataFlagThreadID)
	binary.Write(&buf, binary.LittleEndian, int64(999)) // globally unique id
	binary.Write(&buf, binary.LittleEndian, int64(5))   // thread id
	binary.Write(&buf, binary.LittleEndian, uint32(msgFlagIncoming))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	// fwd info with signature
	buf.WriteByte(fwdFlagSignature)
	binary.Write(&buf, binary.LittleEndian, int64(123)) // fwd author
	binary.Write(&buf, binary.LittleEndian, int32(456)) // fwd date
	putString(&buf, "signed")
	buf.WriteByte(0) // no author
	putString(&buf, "forwarded text")

	msg, ok := parseMessageValue(buf.Bytes())
	if !ok {
		t.Fatal("parseMessageValue failed")
	}
	if msg.text != "forwarded text" {
		t.Errorf("text = %q", msg.text)
	}
}

func TestParseMessageValueRejectsNonMessage(t *testing.T) {
	if _, ok := parseMessageValue([]byte{1, 0, 0}); ok {
		t.Error("expected failure for non-message record type")
	}
	if _, ok := parseMessageValue(nil); ok {
		t.Error("expected failure for empty blob")
	}
}

func TestParsePeer(t *testing.T) {
	peer, ok := parsePeer(encodePeerBlob("Alice", "Smith", "alice", "", "12065551234"))
	if !ok {
		t.Fatal("parsePeer failed")
	}
	if peer.firstName != "Alice" || peer.lastName != "Smith" {
		t.Errorf("name = %q %q", peer.firstName, peer.lastName)
	}
	if peer.username != "alice" || peer.phone != "12065551234" {
		t.Errorf("username/phone = %q %q", peer.username, peer.phone)
	}
	if got := peer.displayName(); got != "Alice Smith" {
		t.Errorf("displayName = %q", got)
	}
}

func TestParsePeerSkipsUnknownFields(t *testing.T) {
	var inner bytes.Buffer
	putShortKey(&inner, "i")
	inner.WriteByte(byte(typeInt64))
	binary.Write(&inner, binary.LittleEndian, int64(12345))
	putStringField(&inner, "t", "Go Club")

	var outer bytes.Buffer
	putShortKey(&outer, "x")
	outer.WriteByte(byte(typeInt32))
	binary.Write(&outer, binary.LittleEndian, int32(9))
	putShortKey(&outer, "_")
	outer.WriteByte(byte(typeObject))
	binary.Write(&outer, binary.LittleEndian, int32(0))
	binary.Write(&outer, binary.LittleEndian, int32(inner.Len()))
	outer.Write(inner.Bytes())

	peer, ok := parsePeer(outer.Bytes())
	if !ok {
		t.Fatal("parsePeer failed")
	}
	if peer.title != "Go Club" {
		t.Errorf("title = %q", peer.title)
	}
}

func TestParsePeerTruncated(t *testing.T) {
	if _, ok := parsePeer([]byte{1, 2, 3}); ok {
		t.Error("expected failure for short blob")
	}
}

func TestDisplayNamePrecedence(t *testing.T) {
	cases := []struct {
		peer peerInfo
		want string
	}{
		{peerInfo{title: "Go Club", firstName: "x"}, "Go Club"},
		{peerInfo{firstName: "Alice", lastName: "Smith", username: "alice"}, "Alice Smith"},
		{peerInfo{firstName: "Alice"}, "Alice"},
		{peerInfo{lastName: "Smith"}, "Smith"},
		{peerInfo{username: "bob"}, "@bob"},
		{peerInfo{}, "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.peer.displayName(); got != tc.want {
			t.Errorf("displayName(%+v) = %q, want %q", tc.peer, got, tc.want)
		}
	}
}

func TestDecodeFieldsStopsAtGarbage(t *testing.T) {
	var buf bytes.Buffer
	putStringField(&buf, "a", "ok")
	buf.Write([]byte{0xff, 0xff}) // truncated record

	fields := decodeFields(buf.Bytes())
	if got, _ := fields["a"].(string); got != "ok" {
		t.Errorf("field a = %q", got)
	}
	if len(fields) != 1 {
		t.Errorf("fields = %d, want 1", len(fields))
	}
}
