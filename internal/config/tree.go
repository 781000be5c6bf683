// Package config loads the configuration tree every process bootstraps
// from: named values reachable by absolute path (`/router_name`) or by
// "anywhere in the tree" lookup (`//log_protect/match_string`).
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Required bootstrap paths every tree must provide before a process starts.
var RequiredBootstrapPaths = []string{
	"/router_name", "/domain", "/username", "/passwd", "/port",
	"/unixpath", "/logfile", "/loglevel", "/syslog", "/actlog", "/client",
}

// Tree is the loaded configuration. koanf owns the flattened key map
// (delimiter "."); Tree translates the spec's "/"-rooted path expressions
// onto it, including the "//" anywhere-in-the-tree form koanf itself has
// no equivalent for.
type Tree struct {
	k *koanf.Koanf
}

// Load reads a YAML configuration file into a Tree.
func Load(path string) (*Tree, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return &Tree{k: k}, nil
}

// FromMap builds a Tree directly from a nested map, useful for tests and
// for programmatically assembled configuration.
func FromMap(m map[string]interface{}) (*Tree, error) {
	k := koanf.New(".")
	if err := k.Load(confmapProvider(m), nil); err != nil {
		return nil, fmt.Errorf("config: loading map: %w", err)
	}
	return &Tree{k: k}, nil
}

// translate turns an absolute "/a/b/c" path into koanf's "a.b.c" key,
// stripping a trailing "[]" list marker and an "anywhere" "//" prefix (the
// caller checks IsAnywhere separately).
func translate(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "[]")
	return strings.ReplaceAll(path, "/", ".")
}

// IsAnywhere reports whether path uses the "//" match-anywhere form.
func IsAnywhere(path string) bool {
	return strings.HasPrefix(path, "//")
}

// String looks up an absolute path as a string.
func (t *Tree) String(path string) (string, bool) {
	key := translate(path)
	if !t.k.Exists(key) {
		return "", false
	}
	return t.k.String(key), true
}

// Int looks up an absolute path as an int.
func (t *Tree) Int(path string) (int, bool) {
	key := translate(path)
	if !t.k.Exists(key) {
		return 0, false
	}
	return t.k.Int(key), true
}

// Bool looks up an absolute path as a bool.
func (t *Tree) Bool(path string) (bool, bool) {
	key := translate(path)
	if !t.k.Exists(key) {
		return false, false
	}
	return t.k.Bool(key), true
}

// Strings looks up an absolute (or "[]"-suffixed list) path as a string
// slice.
func (t *Tree) Strings(path string) ([]string, bool) {
	key := translate(path)
	if !t.k.Exists(key) {
		return nil, false
	}
	return t.k.Strings(key), true
}

// Anywhere resolves a "//"-prefixed path expression by walking every key in
// the flattened tree and returning the string value of every key whose
// final segment matches the requested leaf (suffix match on the dotted
// key), which is the only "anywhere" semantics koanf's flat map needs.
func (t *Tree) Anywhere(path string) []string {
	if !IsAnywhere(path) {
		return nil
	}
	leaf := translate(path)
	var out []string
	for _, key := range t.k.Keys() {
		if key == leaf || strings.HasSuffix(key, "."+leaf) {
			out = append(out, t.k.String(key))
		}
	}
	return out
}

// AppNames returns the services listed under /activeapps/appname[].
func (t *Tree) AppNames() []string {
	names, _ := t.Strings("/activeapps/appname[]")
	return names
}

// AppLanguage and AppImplementation read an app's required fields.
func (t *Tree) AppLanguage(name string) (string, bool) {
	return t.String(fmt.Sprintf("/apps/%s/language", name))
}

func (t *Tree) AppImplementation(name string) (string, bool) {
	return t.String(fmt.Sprintf("/apps/%s/implementation", name))
}

// AppSubtree decodes an app's free-form per-app configuration subtree into
// out. It round-trips through yaml.v3, matching the teacher's convention of
// decoding per-app config with the yaml package rather than mapstructure.
func (t *Tree) AppSubtree(name string, out interface{}) error {
	cut := t.k.Cut(fmt.Sprintf("apps.%s", name))
	raw, err := yamlv3.Marshal(cut.Raw())
	if err != nil {
		return fmt.Errorf("config: marshaling subtree for app %s: %w", name, err)
	}
	if err := yamlv3.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("config: decoding subtree for app %s: %w", name, err)
	}
	return nil
}

// ValidateBootstrap reports every missing required bootstrap path.
func (t *Tree) ValidateBootstrap() error {
	var missing []string
	for _, p := range RequiredBootstrapPaths {
		if _, ok := t.String(p); !ok {
			if _, ok := t.Int(p); !ok {
				missing = append(missing, p)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required bootstrap paths: %s", strings.Join(missing, ", "))
	}
	return nil
}
