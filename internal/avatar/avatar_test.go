package avatar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestURL(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "alice.jpg"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "bob.png"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "bob.jpeg"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "carol.png"), 0o755)

	l := Lookup{Dir: dir}
	cases := []struct {
		account string
		want    string
		ok      bool
	}{
		{"alice", "/static/avatars/alice.jpg", true},
		{"bob", "/static/avatars/bob.png", true}, // png wins
		{"carol", "", false},                     // directory, not a file
		{"dave", "", false},
		{"../alice", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := l.URL(tc.account)
		if got != tc.want || ok != tc.ok {
			t.Errorf("URL(%q) = %q, %v; want %q, %v", tc.account, got, ok, tc.want, tc.ok)
		}
	}
}

func TestURLNoDir(t *testing.T) {
	if _, ok := (Lookup{}).URL("alice"); ok {
		t.Error("expected no avatar without a directory")
	}
}
