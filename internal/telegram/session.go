package telegram

import (
	"bytes"
	"fmt"

	"howett.net/plist"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// API credentials of the official macOS Telegram client; both are public
// in its source, and the stored auth keys were issued against them.
const (
	apiID   = 2834
	apiHash = "68875f756c9b437a8b916ca3de215815"
)

// Production datacenter addresses.
var dcAddresses = map[int]string{
	1: "149.154.175.53",
	2: "149.154.167.51",
	3: "149.154.175.100",
	4: "149.154.167.91",
	5: "91.108.56.130",
}

// dcTryOrder puts the DCs most accounts live on first.
var dcTryOrder = []int{2, 1, 4, 5, 3}

const authInfoKey = "persistent:datacenterAuthInfoById"

// Session is MTProto connection material recovered from the local client:
// enough to talk to Telegram as the logged-in account without any login
// flow of our own.
type Session struct {
	DC      int
	Addr    string
	AuthKey []byte
}

// AuthKeys extracts the persistent per-DC auth keys from the postbox
// metadata table. The value is an NSKeyedArchiver plist mapping DC id to
// auth info; only keys with validUntilTimestamp == 0 persist across
// client restarts, temporary ones are useless to us.
func (p *Postbox) AuthKeys() (map[int][]byte, error) {
	var value []byte
	err := p.db.QueryRow("SELECT value FROM t1 WHERE key = ?", []byte(authInfoKey)).Scan(&value)
	if err != nil {
		return nil, &platform.ExtractionError{Reason: "no datacenter auth info in postbox"}
	}
	return parseAuthInfo(value)
}

func parseAuthInfo(data []byte) (map[int][]byte, error) {
	var archive struct {
		Objects []any `plist:"$objects"`
	}
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return nil, &platform.ExtractionError{Reason: fmt.Sprintf("auth info plist: %v", err)}
	}
	if len(archive.Objects) < 2 {
		return nil, &platform.ExtractionError{Reason: "auth info archive has no root object"}
	}

	resolve := func(v any) any {
		if uid, ok := v.(plist.UID); ok && int(uid) < len(archive.Objects) {
			return archive.Objects[uid]
		}
		return v
	}

	root, ok := resolve(archive.Objects[1]).(map[string]any)
	if !ok {
		return nil, &platform.ExtractionError{Reason: "auth info root is not a dictionary"}
	}
	keys, _ := root["NS.keys"].([]any)
	values, _ := root["NS.objects"].([]any)
	if len(keys) != len(values) {
		return nil, &platform.ExtractionError{Reason: "auth info keys/values mismatch"}
	}

	out := make(map[int][]byte)
	for i := range keys {
		dcID, ok := asInt(resolve(keys[i]))
		if !ok {
			continue
		}
		if _, known := dcAddresses[dcID]; !known {
			continue
		}
		info, ok := resolve(values[i]).(map[string]any)
		if !ok {
			continue
		}
		if until, ok := asInt(resolve(info["validUntilTimestamp"])); ok && until != 0 {
			continue
		}
		keyObj, ok := resolve(info["authKey"]).(map[string]any)
		if !ok {
			continue
		}
		authKey := dataBytes(keyObj["NS.data"])
		if len(authKey) == 256 {
			out[dcID] = bytes.Clone(authKey)
		}
	}
	return out, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func dataBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}

// candidateSessions orders the extracted keys by DC preference. The caller
// still has to probe each one: a key can exist locally yet be revoked.
func candidateSessions(keys map[int][]byte) ([]Session, error) {
	var out []Session
	for _, dc := range dcTryOrder {
		key, ok := keys[dc]
		if !ok {
			continue
		}
		out = append(out, Session{DC: dc, Addr: dcAddresses[dc], AuthKey: key})
	}
	if len(out) == 0 {
		return nil, &platform.ExtractionError{Reason: "no persistent auth keys found; is Telegram installed and logged in?"}
	}
	return out, nil
}
