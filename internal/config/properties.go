package config

import (
	"strings"

	"github.com/magiconair/properties"
)

// readProperties loads a Java-style properties file and returns its keys as
// nested maps for viper. ${key} references are kept literally, the way
// java.util.Properties reads them.
func readProperties(path string) (map[string]interface{}, error) {
	loader := properties.Loader{
		Encoding:         properties.UTF8,
		DisableExpansion: true,
	}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return nestProperties(p.Map()), nil
}

// nestProperties turns dotted keys into nested maps for viper.
func nestProperties(props map[string]string) map[string]interface{} {
	root := make(map[string]interface{})
	for key, value := range props {
		parts := strings.Split(key, ".")
		m := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := m[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[part] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = value
	}
	return root
}
