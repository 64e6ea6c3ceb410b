package core

import (
	"fmt"
	"path"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"partcad/internal/types"
)

// Wildcard matches every package or item.
const Wildcard = "*"

const ellipsis = "..."

// ResolveResource normalizes a `package:item` reference against the current
// package into an absolute package path and an item name. Without a colon
// the whole reference is a package and the item is the wildcard.
func ResolveResource(current string, ref string) (string, string, error) {
	if strings.Count(ref, ":") > 1 {
		return "", "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("malformed resource path %q", ref))
	}
	pkg, item, found := strings.Cut(strings.TrimSpace(ref), ":")
	if !found || item == "" {
		item = Wildcard
	}
	item = strings.ReplaceAll(item, ellipsis, Wildcard)
	return JoinPackage(current, pkg), item, nil
}

// FormatResource is the inverse of ResolveResource for absolute pairs.
func FormatResource(pkg string, item string) string {
	return pkg + ":" + item
}

// JoinPackage resolves a package path relative to current. Empty and "."
// name the current package.
func JoinPackage(current string, pkg string) string {
	if current == "" {
		current = types.RootPackageName
	}
	pkg = strings.ReplaceAll(strings.TrimSpace(pkg), ellipsis, Wildcard)
	switch {
	case pkg == "" || pkg == types.CurrentPackage:
		return path.Clean("/" + current)
	case strings.HasPrefix(pkg, "/"):
		return path.Clean(pkg)
	default:
		return path.Clean(path.Join("/", current, pkg))
	}
}

// MatchPackage reports whether name matches a package pattern produced by
// ResolveResource, where `*` may stand for any number of path segments.
func MatchPackage(pattern string, name string) bool {
	if !strings.Contains(pattern, Wildcard) {
		return pattern == name
	}
	if pattern == "/"+Wildcard {
		return true
	}
	if ok, err := path.Match(pattern, name); err == nil && ok {
		return true
	}
	prefix := strings.TrimSuffix(pattern, "/"+Wildcard)
	if prefix != pattern && !strings.Contains(prefix, Wildcard) {
		return name == prefix || strings.HasPrefix(name, prefix+"/") || prefix == ""
	}
	return false
}
