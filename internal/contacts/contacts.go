// Package contacts reads the macOS AddressBook sources to map raw message
// handles (phone numbers, emails) onto display names and back. It is a
// read-only collaborator: crosstalk never writes contact data.
package contacts

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/crosstalk/internal/platform"
)

const sourceDBName = "AddressBook-v22.abcddb"

// Person is one address-book entry with all phones and emails collapsed.
type Person struct {
	First  string   `json:"first"`
	Last   string   `json:"last"`
	Phones []string `json:"phones"`
	Emails []string `json:"emails"`
}

// DisplayName joins the name parts, falling back to the first phone/email.
func (p Person) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.First) + " " + strings.TrimSpace(p.Last))
	if name != "" {
		return name
	}
	if len(p.Phones) > 0 {
		return p.Phones[0]
	}
	if len(p.Emails) > 0 {
		return p.Emails[0]
	}
	return ""
}

// Book searches every AddressBook source database under one directory.
// Handle lookups are cached for the lifetime of the Book (one invocation).
type Book struct {
	dir string

	mu        sync.Mutex
	nameCache map[string]string
}

// Open returns a Book over the given AddressBook Sources directory. The
// directory is probed lazily; a missing or unreadable directory just makes
// every lookup come back empty.
func Open(dir string) *Book {
	return &Book{dir: dir, nameCache: make(map[string]string)}
}

// Search finds people whose first or last name contains name, one Person
// per record with phones and emails deduplicated.
func (b *Book) Search(name string) ([]Person, error) {
	type key struct {
		source string
		pk     int64
	}
	people := make(map[key]*Person)
	var order []key

	for _, dbPath := range b.sourceDBs() {
		db, err := openReadOnly(dbPath)
		if err != nil {
			continue
		}
		rows, err := db.Query(`
			SELECT ZABCDRECORD.Z_PK, ZFIRSTNAME, ZLASTNAME, ZFULLNUMBER, ZADDRESS
			FROM ZABCDRECORD
			LEFT JOIN ZABCDPHONENUMBER ON ZABCDRECORD.Z_PK = ZABCDPHONENUMBER.ZOWNER
			LEFT JOIN ZABCDEMAILADDRESS ON ZABCDRECORD.Z_PK = ZABCDEMAILADDRESS.ZOWNER
			WHERE ZFIRSTNAME LIKE ? OR ZLASTNAME LIKE ?
		`, "%"+name+"%", "%"+name+"%")
		if err != nil {
			db.Close()
			continue
		}
		for rows.Next() {
			var pk int64
			var first, last, phone, email sql.NullString
			if err := rows.Scan(&pk, &first, &last, &phone, &email); err != nil {
				continue
			}
			k := key{source: dbPath, pk: pk}
			p, ok := people[k]
			if !ok {
				p = &Person{First: first.String, Last: last.String}
				people[k] = p
				order = append(order, k)
			}
			if phone.Valid && phone.String != "" {
				p.Phones = appendUnique(p.Phones, phone.String)
			}
			if email.Valid && email.String != "" {
				p.Emails = appendUnique(p.Emails, email.String)
			}
		}
		rows.Close()
		db.Close()
	}

	out := make([]Person, 0, len(order))
	for _, k := range order {
		p := *people[k]
		sort.Strings(p.Phones)
		sort.Strings(p.Emails)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out, nil
}

// NameForHandle resolves a raw message handle (phone or email) to a contact
// display name. Returns "" when no contact matches.
func (b *Book) NameForHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ""
	}

	b.mu.Lock()
	if name, ok := b.nameCache[handle]; ok {
		b.mu.Unlock()
		return name
	}
	b.mu.Unlock()

	var name string
	if strings.Contains(handle, "@") {
		name = b.lookupByEmail(handle)
	} else {
		name = b.lookupByPhone(handle)
	}

	b.mu.Lock()
	b.nameCache[handle] = name
	b.mu.Unlock()
	return name
}

func (b *Book) lookupByPhone(handle string) string {
	digits := platform.Digits(handle)
	if digits == "" {
		return ""
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	pattern := "%" + digits + "%"

	for _, dbPath := range b.sourceDBs() {
		db, err := openReadOnly(dbPath)
		if err != nil {
			continue
		}
		var first, last sql.NullString
		err = db.QueryRow(`
			SELECT ZFIRSTNAME, ZLASTNAME
			FROM ZABCDRECORD
			JOIN ZABCDPHONENUMBER ON ZABCDRECORD.Z_PK = ZABCDPHONENUMBER.ZOWNER
			WHERE REPLACE(REPLACE(REPLACE(REPLACE(ZFULLNUMBER, ' ', ''), '-', ''), '(', ''), ')', '') LIKE ?
			LIMIT 1
		`, pattern).Scan(&first, &last)
		db.Close()
		if err != nil {
			continue
		}
		if name := strings.TrimSpace(strings.TrimSpace(first.String) + " " + strings.TrimSpace(last.String)); name != "" {
			return name
		}
	}
	return ""
}

func (b *Book) lookupByEmail(handle string) string {
	for _, dbPath := range b.sourceDBs() {
		db, err := openReadOnly(dbPath)
		if err != nil {
			continue
		}
		var first, last sql.NullString
		err = db.QueryRow(`
			SELECT ZFIRSTNAME, ZLASTNAME
			FROM ZABCDRECORD
			JOIN ZABCDEMAILADDRESS ON ZABCDRECORD.Z_PK = ZABCDEMAILADDRESS.ZOWNER
			WHERE ZADDRESS = ? COLLATE NOCASE
			LIMIT 1
		`, handle).Scan(&first, &last)
		db.Close()
		if err != nil {
			continue
		}
		if name := strings.TrimSpace(strings.TrimSpace(first.String) + " " + strings.TrimSpace(last.String)); name != "" {
			return name
		}
	}
	return ""
}

func (b *Book) sourceDBs() []string {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(b.dir, e.Name(), sourceDBName)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func openReadOnly(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", strings.ReplaceAll(path, " ", "%20"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
