// Package pathutil normalizes POSIX-style virtual FTP paths.
package pathutil

import "strings"

// Normalize collapses cwd+input into a canonical absolute virtual path.
//
// The result always starts with "/", contains no "." or ".." segment, has
// no empty segments (except the root case "/"), and never has a trailing
// slash unless it is the root itself. ".." above root is clamped, never
// underflowed.
func Normalize(cwd, input string) string {
	input = strings.ReplaceAll(input, "\\", "/")

	var base string
	if strings.HasPrefix(input, "/") {
		base = input
	} else {
		if cwd == "" {
			cwd = "/"
		}
		base = strings.TrimSuffix(cwd, "/") + "/" + input
	}

	segments := strings.Split(base, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// Join normalizes cwd+input and returns it with a trailing slash, useful
// when building longest-prefix keys that must not partially match a sibling
// directory sharing a name prefix (e.g. "/inc" must not match "/incoming").
func Join(cwd, input string) string {
	p := Normalize(cwd, input)
	if p == "/" {
		return p
	}
	return p + "/"
}

// HasPrefix reports whether target is equal to prefix or a descendant of it,
// treating both as normalized virtual paths.
func HasPrefix(target, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if target == prefix {
		return true
	}
	return strings.HasPrefix(target, prefix+"/")
}

// Dir returns the normalized parent of a normalized virtual path.
func Dir(p string) string {
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the final path segment, or "/" for the root.
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}
