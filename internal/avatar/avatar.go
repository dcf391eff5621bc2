// Package avatar resolves an account's uploaded avatar image to a URL.
package avatar

import (
	"os"
	"path/filepath"
)

// URLPrefix is where the avatar directory is served
const URLPrefix = "/static/avatars/"

var extensions = []string{".png", ".jpg", ".jpeg"}

// Lookup finds avatar files named after the account in Dir
type Lookup struct {
	Dir string
}

// URL returns the avatar URL for account, or false when none was uploaded
func (l Lookup) URL(account string) (string, bool) {
	if l.Dir == "" || account == "" || filepath.Base(account) != account {
		return "", false
	}
	for _, ext := range extensions {
		name := account + ext
		info, err := os.Stat(filepath.Join(l.Dir, name))
		if err == nil && info.Mode().IsRegular() {
			return URLPrefix + name, true
		}
	}
	return "", false
}
