package utils

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	escapedDollar = "\x00"
	escapedTilde  = "\x01"
)

// ExpandPath expands a leading ~ and environment variables in file paths.
// A backslash keeps the next ~ or $ literal.
//   - "~/data/file.txt" -> "/home/user/data/file.txt"
//   - "$HOME/data" -> "/home/user/data"
//   - `\$HOME/data` -> "$HOME/data"
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = strings.ReplaceAll(path, `\$`, escapedDollar)
	path = strings.ReplaceAll(path, `\~`, escapedTilde)

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			path = homeDir
		} else {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	path = strings.ReplaceAll(path, escapedDollar, "$")
	path = strings.ReplaceAll(path, escapedTilde, "~")
	return path, nil
}
