package telegram

// Message flag bits stored in the t7 value blob.
const (
	msgFlagUnsent   = 1 << 0
	msgFlagFailed   = 1 << 1
	msgFlagIncoming = 1 << 2
)

// Optional-field bits in the message data flags byte.
const (
	dataFlagGloballyUniqueID = 1 << 0
	dataFlagGlobalTags       = 1 << 1
	dataFlagGroupingKey      = 1 << 2
	dataFlagGroupInfo        = 1 << 3
	dataFlagLocalTags        = 1 << 4
	dataFlagThreadID         = 1 << 5
)

// Forward-info presence bits.
const (
	fwdFlagSourceID      = 1 << 1
	fwdFlagSourceMessage = 1 << 2
	fwdFlagSignature     = 1 << 3
	fwdFlagPsaType       = 1 << 4
	fwdFlagFlags         = 1 << 5
)

type rawMessage struct {
	text     string
	authorID int64 // 0 when absent
	incoming bool
}

// parseMessageValue decodes a t7 value blob. Returns ok=false for
// non-message records and truncated blobs.
func parseMessageValue(data []byte) (rawMessage, bool) {
	d := newDecoder(data)

	msgType, err := d.readInt8()
	if err != nil || msgType != 0 {
		return rawMessage{}, false
	}
	if _, err := d.readUint32(); err != nil { // stable id
		return rawMessage{}, false
	}
	if _, err := d.readUint32(); err != nil { // stable version
		return rawMessage{}, false
	}

	dataFlags, err := d.readUint8()
	if err != nil {
		return rawMessage{}, false
	}
	if dataFlags&dataFlagGloballyUniqueID != 0 {
		if _, err := d.readInt64(); err != nil {
			return rawMessage{}, false
		}
	}
	if dataFlags&dataFlagGlobalTags != 0 {
		if _, err := d.readUint32(); err != nil {
			return rawMessage{}, false
		}
	}
	if dataFlags&dataFlagGroupingKey != 0 {
		if _, err := d.readInt64(); err != nil {
			return rawMessage{}, false
		}
	}
	if dataFlags&dataFlagGroupInfo != 0 {
		if _, err := d.readUint32(); err != nil {
			return rawMessage{}, false
		}
	}
	if dataFlags&dataFlagLocalTags != 0 {
		if _, err := d.readUint32(); err != nil {
			return rawMessage{}, false
		}
	}
	if dataFlags&dataFlagThreadID != 0 {
		if _, err := d.readInt64(); err != nil {
			return rawMessage{}, false
		}
	}

	flags, err := d.readUint32()
	if err != nil {
		return rawMessage{}, false
	}
	if _, err := d.readUint32(); err != nil { // tags
		return rawMessage{}, false
	}
	if ok := skipFwdInfo(d); !ok {
		return rawMessage{}, false
	}

	var authorID int64
	hasAuthor, err := d.readInt8()
	if err != nil {
		return rawMessage{}, false
	}
	if hasAuthor == 1 {
		if authorID, err = d.readInt64(); err != nil {
			return rawMessage{}, false
		}
	}

	text, err := d.readString()
	if err != nil {
		return rawMessage{}, false
	}

	return rawMessage{
		text:     text,
		authorID: authorID,
		incoming: flags&msgFlagIncoming != 0,
	}, true
}

func skipFwdInfo(d *decoder) bool {
	infoFlags, err := d.readInt8()
	if err != nil {
		return false
	}
	if infoFlags == 0 {
		return true
	}
	if _, err := d.readInt64(); err != nil { // author id
		return false
	}
	if _, err := d.readInt32(); err != nil { // date
		return false
	}
	if infoFlags&fwdFlagSourceID != 0 {
		if _, err := d.readInt64(); err != nil {
			return false
		}
	}
	if infoFlags&fwdFlagSourceMessage != 0 {
		if _, err := d.readInt64(); err != nil {
			return false
		}
		if _, err := d.readInt32(); err != nil {
			return false
		}
		if _, err := d.readInt32(); err != nil {
			return false
		}
	}
	if infoFlags&fwdFlagSignature != 0 {
		if _, err := d.readString(); err != nil {
			return false
		}
	}
	if infoFlags&fwdFlagPsaType != 0 {
		if _, err := d.readString(); err != nil {
			return false
		}
	}
	if infoFlags&fwdFlagFlags != 0 {
		if _, err := d.readInt32(); err != nil {
			return false
		}
	}
	return true
}

type peerInfo struct {
	firstName string
	lastName  string
	username  string
	title     string
	phone     string
}

// parsePeer decodes a t2 value blob. The payload is a postbox record set
// whose "_" object carries the peer fields.
func parsePeer(data []byte) (peerInfo, bool) {
	if len(data) < 8 {
		return peerInfo{}, false
	}
	d := newDecoder(data)
	for d.remaining() > 0 {
		key, err := d.readShortString()
		if err != nil {
			return peerInfo{}, false
		}
		vt, value, err := d.readValue()
		if err != nil {
			return peerInfo{}, false
		}
		if key != "_" || vt != typeObject {
			continue
		}
		inner, ok := value.([]byte)
		if !ok {
			continue
		}
		fields := decodeFields(inner)
		return peerInfo{
			firstName: stringField(fields, "fn"),
			lastName:  stringField(fields, "ln"),
			username:  stringField(fields, "un"),
			title:     stringField(fields, "t"),
			phone:     stringField(fields, "p"),
		}, true
	}
	return peerInfo{}, false
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// displayName follows the client's own precedence: group title, then
// person name, then handle.
func (p peerInfo) displayName() string {
	if p.title != "" {
		return p.title
	}
	name := p.firstName
	if p.lastName != "" {
		if name != "" {
			name += " "
		}
		name += p.lastName
	}
	if name != "" {
		return name
	}
	if p.username != "" {
		return "@" + p.username
	}
	return "Unknown"
}
