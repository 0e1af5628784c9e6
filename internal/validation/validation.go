package validation

import (
	"net/url"
	"strings"
	"unicode"

	"graft/internal/errors"
)

// RefName checks a branch or tag name against the reference-name rules:
// non-empty, no whitespace or control characters, none of ~^:?*[\ and no
// consecutive or trailing slashes.
func RefName(name string) error {
	if name == "" {
		return errors.InvalidRepository("reference name is empty")
	}
	if strings.Contains(name, "//") || strings.HasSuffix(name, "/") {
		return errors.InvalidRepository("invalid reference name %q", name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.InvalidRepository("invalid reference name %q", name)
		}
		switch r {
		case '~', '^', ':', '?', '*', '[', '\\':
			return errors.InvalidRepository("invalid reference name %q", name)
		}
	}
	return nil
}

// RemoteName applies the same charset rules as RefName but additionally
// rejects slashes, since remote names form key prefixes.
func RemoteName(name string) error {
	if err := RefName(name); err != nil {
		return err
	}
	if strings.Contains(name, "/") {
		return errors.InvalidRepository("invalid remote name %q", name)
	}
	return nil
}

// RemoteURL checks that a remote URL parses and carries a scheme.
func RemoteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return errors.InvalidRepository("invalid remote url %q", raw)
	}
	return nil
}
