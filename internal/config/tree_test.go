package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := FromMap(map[string]interface{}{
		"router_name": "router",
		"domain":      "private.localhost",
		"username":    "opensrf",
		"passwd":      "secret",
		"port":        6379,
		"unixpath":    "/tmp/opensrf",
		"logfile":     "/var/log/opensrf.log",
		"loglevel":    3,
		"syslog":      "local0",
		"actlog":      "/var/log/activity.log",
		"client":      map[string]interface{}{"timeout": 30},
		"log_protect": map[string]interface{}{"match_string": []interface{}{"opensrf.auth."}},
		"activeapps":  map[string]interface{}{"appname": []interface{}{"opensrf.math"}},
		"apps": map[string]interface{}{
			"opensrf.math": map[string]interface{}{
				"language":       "go",
				"implementation": "mathdemo",
				"keepalive":      6,
			},
		},
	})
	require.NoError(t, err)
	return tree
}

func TestAbsoluteLookups(t *testing.T) {
	tree := sampleTree(t)

	v, ok := tree.String("/router_name")
	assert.True(t, ok)
	assert.Equal(t, "router", v)

	n, ok := tree.Int("/port")
	assert.True(t, ok)
	assert.Equal(t, 6379, n)
}

func TestAppNamesAndFields(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"opensrf.math"}, tree.AppNames())

	lang, ok := tree.AppLanguage("opensrf.math")
	assert.True(t, ok)
	assert.Equal(t, "go", lang)

	impl, ok := tree.AppImplementation("opensrf.math")
	assert.True(t, ok)
	assert.Equal(t, "mathdemo", impl)
}

func TestAnywhereMatchesNestedLeaf(t *testing.T) {
	tree := sampleTree(t)
	matches := tree.Anywhere("//match_string")
	assert.NotEmpty(t, matches)
}

func TestValidateBootstrapPasses(t *testing.T) {
	tree := sampleTree(t)
	assert.NoError(t, tree.ValidateBootstrap())
}

func TestValidateBootstrapFailsWhenMissing(t *testing.T) {
	tree, err := FromMap(map[string]interface{}{"router_name": "router"})
	require.NoError(t, err)
	assert.Error(t, tree.ValidateBootstrap())
}

func TestAppSubtreeDecodesIntoStruct(t *testing.T) {
	tree := sampleTree(t)
	var cfg struct {
		Language       string `yaml:"language"`
		Implementation string `yaml:"implementation"`
		Keepalive      int    `yaml:"keepalive"`
	}
	require.NoError(t, tree.AppSubtree("opensrf.math", &cfg))
	assert.Equal(t, "go", cfg.Language)
	assert.Equal(t, 6, cfg.Keepalive)
}
