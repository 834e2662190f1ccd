// Package config provides a configuration manager that loads and watches the dynamic JSON configuration file.
//
// The dynamic configuration holds the settings that can change while the services are running:
// the kinds of files the importer accepts and the defaults applied to new explorer views.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// reservedNames can never be import kinds, as they collide with directories managed by the services.
var reservedNames = map[string]struct{}{
	"":        {},
	".":       {},
	"..":      {},
	"invalid": {},
}

// DefaultSwimlaneLimit is the number of view-by swimlanes shown when neither the URL nor the configuration sets it.
const DefaultSwimlaneLimit = 10

// Provider is an interface that defines methods to access configuration values.
type Provider interface {
	AllowList() []string
	IsAllowed(string) bool
	Explorer() ExplorerDefaults
}

// Conf represents the configuration structure.
type Conf struct {
	AllowList []string         `json:"allowList"`
	Explorer  ExplorerDefaults `json:"explorer,omitzero"`
}

// ExplorerDefaults are the values used by the explorer when the URL state does not provide them.
type ExplorerDefaults struct {
	SwimlaneLimit   int    `json:"swimlaneLimit,omitempty"`
	TableInterval   string `json:"tableInterval,omitempty"`
	TableSeverity   int    `json:"tableSeverity,omitempty"`
	RefreshInterval string `json:"refreshInterval,omitempty"`
	Locale          string `json:"locale,omitempty"`
}

// Manager is a struct that manages the configuration.
type Manager struct {
	config     Conf
	allowSet   map[string]struct{}
	lock       sync.RWMutex
	configPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a new configuration manager with the specified path.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: path,
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
// On error, the previous configuration is kept.
func (cm *Manager) Load() error {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var newConfig Conf
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("decoding config JSON: %w", err)
	}

	allowList := make([]string, 0, len(newConfig.AllowList))
	allowSet := make(map[string]struct{}, len(newConfig.AllowList))
	for _, name := range newConfig.AllowList {
		name = strings.TrimSpace(name)
		if _, reserved := reservedNames[name]; reserved || strings.ContainsAny(name, `/\`) {
			cm.log.Warn("Ignoring reserved or invalid name in allow list", "name", name)
			continue
		}
		if _, dup := allowSet[name]; dup {
			continue
		}
		allowSet[name] = struct{}{}
		allowList = append(allowList, name)
	}
	newConfig.AllowList = allowList

	cm.lock.Lock()
	cm.config = newConfig
	cm.allowSet = allowSet
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "config", newConfig)
	return nil
}

// Watch starts watching the configuration file for changes.
//
// It returns two channels: one for configuration changes which result in a successful load and another for unrecoverable watcher errors.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	if _, err := os.Stat(cm.configPath); err != nil {
		return nil, nil, fmt.Errorf("config file is not accessible: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir := filepath.Dir(cm.configPath)
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial config", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Configuration watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != filepath.Clean(cm.configPath) {
					continue
				}

				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// AllowList returns a copy of the allow list from the configuration.
func (cm *Manager) AllowList() []string {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	out := make([]string, len(cm.config.AllowList))
	copy(out, cm.config.AllowList)
	return out
}

// IsAllowed reports whether name is part of the allow list.
func (cm *Manager) IsAllowed(name string) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	_, ok := cm.allowSet[name]
	return ok
}

// Explorer returns the explorer defaults, with unset values replaced by built-in ones.
func (cm *Manager) Explorer() ExplorerDefaults {
	cm.lock.RLock()
	e := cm.config.Explorer
	cm.lock.RUnlock()

	if e.SwimlaneLimit <= 0 {
		e.SwimlaneLimit = DefaultSwimlaneLimit
	}
	if e.TableInterval == "" {
		e.TableInterval = "auto"
	}
	return e
}
