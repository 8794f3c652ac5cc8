package telegram

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
	_ "modernc.org/sqlite"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// The macOS App Store Telegram client keeps its postbox under the shared
// group container, SQLCipher-encrypted. The cipher key sits next to it in
// .tempkeyEncrypted, itself AES-encrypted with a key derived from a fixed
// password. Reading the postbox means: decrypt the key file, verify its
// murmur checksum, then have the sqlcipher CLI export a plaintext copy we
// can open with a regular SQLite driver.

const keyFilePassword = "no-matter-key"

var murmurSeed int32 = -137723950

// containerVariants lists the group-container layouts seen in the wild:
// newer builds nest everything under appstore/.
var containerVariants = []string{"appstore", ""}

func findPostboxPath(container string) string {
	for _, variant := range containerVariants {
		base := filepath.Join(container, variant)
		accounts, err := filepath.Glob(filepath.Join(base, "account-*"))
		if err != nil {
			continue
		}
		for _, account := range accounts {
			dbPath := filepath.Join(account, "postbox", "db", "db_sqlite")
			if _, err := os.Stat(dbPath); err == nil {
				return dbPath
			}
		}
	}
	return ""
}

func findKeyPath(container string) string {
	for _, variant := range containerVariants {
		keyPath := filepath.Join(container, variant, ".tempkeyEncrypted")
		if _, err := os.Stat(keyPath); err == nil {
			return keyPath
		}
	}
	return ""
}

// decryptKeyFile recovers the SQLCipher raw key and salt from the
// .tempkeyEncrypted blob. The decrypted layout is key(32) + salt(16) +
// murmur3 checksum(4, little-endian int32) over key+salt.
func decryptKeyFile(path string) (key, salt []byte, err error) {
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}
	if len(encrypted) < 52 || len(encrypted)%aes.BlockSize != 0 {
		return nil, nil, &platform.DecryptionError{Err: fmt.Errorf("key file has unexpected size %d", len(encrypted))}
	}

	digest := sha512.Sum512([]byte(keyFilePassword))
	block, err := aes.NewCipher(digest[:32])
	if err != nil {
		return nil, nil, fmt.Errorf("init cipher: %w", err)
	}
	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, digest[len(digest)-16:]).CryptBlocks(decrypted, encrypted)

	key = decrypted[:32]
	salt = decrypted[32:48]
	storedHash := int32(binary.LittleEndian.Uint32(decrypted[48:52]))
	calcHash := int32(murmur3.SeedSum32(uint32(int32(murmurSeed)), decrypted[:48]))
	if storedHash != calcHash {
		return nil, nil, &platform.DecryptionError{
			Err: fmt.Errorf("key integrity check failed (hash %d != %d); is a local passcode set on Telegram?", storedHash, calcHash),
		}
	}
	return key, salt, nil
}

// exportPlaintext runs the sqlcipher CLI against the encrypted postbox and
// writes a plaintext copy into a fresh temp directory, returning its path.
func exportPlaintext(ctx context.Context, dbPath string, key, salt []byte) (string, error) {
	sqlcipherBin, err := exec.LookPath("sqlcipher")
	if err != nil {
		return "", &platform.StoreUnavailableError{
			Platform: platform.Telegram,
			Hint:     "sqlcipher not found on PATH; install it with `brew install sqlcipher`",
			Err:      err,
		}
	}

	dir, err := os.MkdirTemp("", "crosstalk-postbox-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	plaintextPath := filepath.Join(dir, uuid.NewString()+".db")

	hexKey := hex.EncodeToString(append(append([]byte{}, key...), salt...))
	commands := fmt.Sprintf(`PRAGMA key="x'%s'";
PRAGMA cipher_plaintext_header_size=32;
PRAGMA cipher_default_plaintext_header_size=32;
ATTACH DATABASE '%s' AS plaintext KEY '';
SELECT sqlcipher_export('plaintext');
DETACH DATABASE plaintext;
`, hexKey, plaintextPath)

	cmd := exec.CommandContext(ctx, sqlcipherBin, dbPath)
	cmd.Stdin = strings.NewReader(commands)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return "", &platform.DecryptionError{
			Err: fmt.Errorf("sqlcipher export failed: %w: %s", err, strings.TrimSpace(string(out))),
		}
	}

	info, err := os.Stat(plaintextPath)
	if err != nil || info.Size() == 0 {
		os.RemoveAll(dir)
		return "", &platform.DecryptionError{Err: fmt.Errorf("sqlcipher produced empty output")}
	}
	return plaintextPath, nil
}

// Postbox is an open plaintext copy of the Telegram message store.
type Postbox struct {
	db      *sql.DB
	tempDir string // removed on Close; empty when the caller owns the file
}

// OpenPostbox runs the full decrypt-and-export pipeline for the given
// group container and opens the resulting database read-only.
func OpenPostbox(ctx context.Context, container string) (*Postbox, error) {
	dbPath := findPostboxPath(container)
	keyPath := findKeyPath(container)
	if dbPath == "" || keyPath == "" {
		return nil, &platform.StoreUnavailableError{
			Platform: platform.Telegram,
			Hint:     "postbox not found under " + container + "; is Telegram (App Store) installed and logged in?",
		}
	}

	key, salt, err := decryptKeyFile(keyPath)
	if err != nil {
		return nil, err
	}
	plaintextPath, err := exportPlaintext(ctx, dbPath, key, salt)
	if err != nil {
		return nil, err
	}

	pb, err := openPlaintext(plaintextPath)
	if err != nil {
		os.RemoveAll(filepath.Dir(plaintextPath))
		return nil, err
	}
	pb.tempDir = filepath.Dir(plaintextPath)
	return pb, nil
}

func openPlaintext(path string) (*Postbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open postbox copy: %w", err)
	}
	return &Postbox{db: db}, nil
}

// Close releases the database and deletes the plaintext copy.
func (p *Postbox) Close() error {
	var err error
	if p.db != nil {
		err = p.db.Close()
		p.db = nil
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
		p.tempDir = ""
	}
	return err
}
