package remote

import "strings"

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuotePath quotes a remote path but leaves a leading "~/" for the shell to
// expand.
func QuotePath(p string) string {
	if p == "~" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if rest == "" {
			return "~/"
		}
		return "~/" + Quote(rest)
	}
	return Quote(p)
}

func isSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./_-", r):
		default:
			return false
		}
	}
	return true
}

// ResolveRemoteDir expands a leading "~" against the remote home directory.
// SFTP does not expand it.
func ResolveRemoteDir(home, dir string) string {
	switch {
	case dir == "~":
		return home
	case strings.HasPrefix(dir, "~/"):
		return strings.TrimRight(home, "/") + "/" + strings.TrimPrefix(dir, "~/")
	case strings.HasPrefix(dir, "/"):
		return dir
	default:
		return strings.TrimRight(home, "/") + "/" + dir
	}
}
