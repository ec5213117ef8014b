// Package i18n holds the programme message catalogs. Catalogs are yaml files
// embedded at build time, one per locale, flattened to dotted keys
// ("notify.review_scheduled.title"). English is the reference catalog: a key
// missing from another locale resolves to the English text.
package i18n

import (
	"fmt"
	"sort"
	"strings"

	"embed"

	"gopkg.in/yaml.v3"

	"github.com/skyassure/peerreview-backend/internal/domain/common"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var catalogs = mustLoadCatalogs()

func mustLoadCatalogs() map[string]map[string]string {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		panic(fmt.Sprintf("i18n: reading embedded locales: %v", err))
	}
	out := make(map[string]map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		raw, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			panic(fmt.Sprintf("i18n: reading %s: %v", name, err))
		}
		var tree map[string]interface{}
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			panic(fmt.Sprintf("i18n: parsing %s: %v", name, err))
		}
		flat := map[string]string{}
		flatten("", tree, flat)
		out[strings.TrimSuffix(name, ".yaml")] = flat
	}
	if _, ok := out[common.LocaleEN]; !ok {
		panic("i18n: english catalog missing")
	}
	return out
}

func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case string:
			out[key] = val
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}

// Key marks a message argument that should itself be resolved in the
// recipient's locale before formatting, e.g. a status label inside a
// notification body.
type Key string

// T resolves key in the requested locale, falling back to English, and
// formats the message with args when given. Args of type Key are resolved in
// the same locale first. An unknown key comes back as the key itself so
// broken lookups are visible instead of silent.
func T(locale, key string, args ...interface{}) string {
	msg, ok := lookup(locale, key)
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	resolved := make([]interface{}, len(args))
	for i, a := range args {
		if k, ok := a.(Key); ok {
			resolved[i] = T(locale, string(k))
			continue
		}
		resolved[i] = a
	}
	return fmt.Sprintf(msg, resolved...)
}

// Has reports whether the key resolves in the requested locale without
// falling back.
func Has(locale, key string) bool {
	catalog, ok := catalogs[common.NormalizeLocale(locale)]
	if !ok {
		return false
	}
	_, ok = catalog[key]
	return ok
}

// Keys returns the sorted key set of a locale's catalog.
func Keys(locale string) []string {
	catalog := catalogs[common.NormalizeLocale(locale)]
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookup(locale, key string) (string, bool) {
	normalized := common.NormalizeLocale(locale)
	if catalog, ok := catalogs[normalized]; ok {
		if msg, ok := catalog[key]; ok {
			return msg, true
		}
	}
	if normalized != common.LocaleEN {
		if msg, ok := catalogs[common.LocaleEN][key]; ok {
			return msg, true
		}
	}
	return "", false
}
