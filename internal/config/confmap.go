package config

import "github.com/knadh/koanf/providers/confmap"

func confmapProvider(m map[string]interface{}) *confmap.Confmap {
	return confmap.Provider(m, ".")
}
