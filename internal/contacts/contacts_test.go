package contacts

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// newFixtureBook creates a temp AddressBook layout with one source db
// holding the given (first, last, phone, email) rows.
func newFixtureBook(t *testing.T, rows [][4]string) *Book {
	t.Helper()
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "ABCD1234-SOURCE")
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		t.Fatalf("mkdir source: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(sourceDir, sourceDBName))
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	schema := `
		CREATE TABLE ZABCDRECORD (Z_PK INTEGER PRIMARY KEY, ZFIRSTNAME TEXT, ZLASTNAME TEXT);
		CREATE TABLE ZABCDPHONENUMBER (ZOWNER INTEGER, ZFULLNUMBER TEXT);
		CREATE TABLE ZABCDEMAILADDRESS (ZOWNER INTEGER, ZADDRESS TEXT);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	for i, r := range rows {
		pk := int64(i + 1)
		if _, err := db.Exec(`INSERT INTO ZABCDRECORD (Z_PK, ZFIRSTNAME, ZLASTNAME) VALUES (?, ?, ?)`, pk, r[0], r[1]); err != nil {
			t.Fatalf("insert record: %v", err)
		}
		if r[2] != "" {
			if _, err := db.Exec(`INSERT INTO ZABCDPHONENUMBER (ZOWNER, ZFULLNUMBER) VALUES (?, ?)`, pk, r[2]); err != nil {
				t.Fatalf("insert phone: %v", err)
			}
		}
		if r[3] != "" {
			if _, err := db.Exec(`INSERT INTO ZABCDEMAILADDRESS (ZOWNER, ZADDRESS) VALUES (?, ?)`, pk, r[3]); err != nil {
				t.Fatalf("insert email: %v", err)
			}
		}
	}

	return Open(dir)
}

func TestSearchByName(t *testing.T) {
	book := newFixtureBook(t, [][4]string{
		{"Sarah", "Connor", "+1 (206) 555-1234", "sarah@example.com"},
		{"John", "Connor", "+1 206 555 9999", ""},
		{"Miles", "Dyson", "", "miles@example.com"},
	})

	people, err := book.Search("Connor")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(people) != 2 {
		t.Fatalf("got %d people, want 2", len(people))
	}
	// Deterministic alphabetical ordering
	if people[0].First != "John" || people[1].First != "Sarah" {
		t.Errorf("unexpected order: %q, %q", people[0].First, people[1].First)
	}
	if len(people[1].Phones) != 1 || len(people[1].Emails) != 1 {
		t.Errorf("Sarah should have 1 phone and 1 email, got %v / %v",
			people[1].Phones, people[1].Emails)
	}
}

func TestSearchNoMatch(t *testing.T) {
	book := newFixtureBook(t, [][4]string{{"Sarah", "Connor", "12065551234", ""}})
	people, err := book.Search("Skynet")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(people) != 0 {
		t.Errorf("got %d people, want 0", len(people))
	}
}

func TestNameForHandlePhoneFormats(t *testing.T) {
	book := newFixtureBook(t, [][4]string{
		{"Sarah", "Connor", "+1 (206) 555-1234", ""},
	})

	// Lookup with differently formatted but identical number
	for _, handle := range []string{"+12065551234", "12065551234", "206-555-1234"} {
		if got := book.NameForHandle(handle); got != "Sarah Connor" {
			t.Errorf("NameForHandle(%q) = %q, want Sarah Connor", handle, got)
		}
	}
}

func TestNameForHandleEmail(t *testing.T) {
	book := newFixtureBook(t, [][4]string{
		{"Miles", "Dyson", "", "miles@example.com"},
	})
	if got := book.NameForHandle("MILES@example.com"); got != "Miles Dyson" {
		t.Errorf("NameForHandle = %q", got)
	}
	if got := book.NameForHandle("nobody@example.com"); got != "" {
		t.Errorf("NameForHandle = %q, want empty", got)
	}
}

func TestMissingDirIsEmptyNotError(t *testing.T) {
	book := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	people, err := book.Search("anyone")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(people) != 0 {
		t.Errorf("got %d people, want 0", len(people))
	}
	if got := book.NameForHandle("12065551234"); got != "" {
		t.Errorf("NameForHandle = %q, want empty", got)
	}
}
