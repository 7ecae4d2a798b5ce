package config

import (
	"encoding/json"
	"path/filepath"
)

func parentDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}

func matchesConfigFile(eventName, configPath string) bool {
	absEvent, err := filepath.Abs(eventName)
	if err != nil {
		absEvent = eventName
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		absConfig = configPath
	}
	return absEvent == absConfig
}

func marshalRepository(r Repository) ([]byte, error) {
	return json.Marshal(r)
}
