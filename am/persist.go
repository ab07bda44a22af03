package am

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "path", back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// UserConfigPath returns ~/.hypermark/am.toml
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "am.toml")
}

// loadOrInitialize reads configPath as a raw TOML table, or returns an empty one
func loadOrInitialize(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return nil, errors.Wrap(err, "failed to create config directory")
	}

	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// save writes config to configPath with backup
func save(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// relayURLs reads relays.urls out of a raw TOML table
func relayURLs(config map[string]interface{}) []string {
	section, _ := config["relays"].(map[string]interface{})
	raw, _ := section["urls"].([]interface{})
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		if s, ok := u.(string); ok {
			urls = append(urls, s)
		}
	}
	return urls
}

func setRelayURLs(config map[string]interface{}, urls []string) {
	section, ok := config["relays"].(map[string]interface{})
	if !ok {
		section = make(map[string]interface{})
	}
	section["urls"] = urls
	config["relays"] = section
}

// AddRelay appends url to relays.urls in configPath. Adding a listed relay
// is a no-op.
func AddRelay(configPath, url string) error {
	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}
	urls := relayURLs(config)
	if slices.Contains(urls, url) {
		return nil
	}
	setRelayURLs(config, append(urls, url))
	return save(config, configPath)
}

// RemoveRelay drops url from relays.urls in configPath.
func RemoveRelay(configPath, url string) error {
	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}
	urls := relayURLs(config)
	i := slices.Index(urls, url)
	if i < 0 {
		return errors.Wrapf(errors.ErrNotFound, "relay %s is not configured in %s", url, configPath)
	}
	setRelayURLs(config, slices.Delete(urls, i, i+1))
	return save(config, configPath)
}
