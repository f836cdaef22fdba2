package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format is a supported configuration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ChangeEvent describes a reloaded configuration file.
type ChangeEvent struct {
	File      string         `json:"file"`
	Action    string         `json:"action"` // initial_load, create, modify, delete, polling_detected, programmatic_set
	Config    map[string]any `json:"config"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChangeHandler is called after a file is (re)loaded.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a configuration directory and hot-reloads changed files.
type Manager struct {
	configDir  string
	configs    map[string]map[string]any
	handlers   map[string][]ChangeHandler
	validators map[string]func(map[string]any) error
	watcher    *fsnotify.Watcher
	started    bool
	stopCh     chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
	watcherMu  sync.Mutex

	// polling fallback for filesystems where fsnotify is unreliable
	pollInterval  time.Duration
	enablePolling bool
}

// NewManager creates a manager for configDir.
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Manager{
		configDir:    configDir,
		configs:      make(map[string]map[string]any),
		handlers:     make(map[string][]ChangeHandler),
		validators:   make(map[string]func(map[string]any) error),
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		logger:       logger,
		pollInterval: 10 * time.Second,
	}, nil
}

// Start loads every config file and begins watching for changes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	polling := m.enablePolling
	m.mu.Unlock()

	go m.watchLoop(ctx)
	if polling {
		go m.pollLoop(ctx)
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.configDir),
		zap.Int("loaded_configs", loaded),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop stops watching.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	m.logger.Info("Configuration manager stopped")
	return nil
}

// RegisterHandler registers a change handler for a file name (base name only).
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	m.handlers[filename] = append(m.handlers[filename], handler)
	n := len(m.handlers[filename])
	m.mu.Unlock()
	m.logger.Debug("Configuration handler registered", zap.String("filename", filename), zap.Int("total_handlers", n))
}

// RegisterValidator installs a validator; files that fail it are not applied.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]any) error) {
	m.mu.Lock()
	m.validators[filename] = validator
	m.mu.Unlock()
}

// EnablePolling turns on the polling fallback. Call before Start.
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	m.enablePolling = true
	m.pollInterval = interval
	m.mu.Unlock()
}

// GetConfig returns a copy of the last loaded contents of filename.
func (m *Manager) GetConfig(filename string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(cfg), true
}

// SetConfig applies contents for filename as if the file had changed.
func (m *Manager) SetConfig(filename string, cfg map[string]any) error {
	return m.apply(filename, cfg, "programmatic_set")
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	lastMod := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkForChanges(lastMod)
		}
	}
}

func (m *Manager) checkForChanges(lastMod map[string]time.Time) {
	err := filepath.WalkDir(m.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		if info.ModTime().After(lastMod[name]) {
			lastMod[name] = info.ModTime()
			return m.loadFile(path, "polling_detected")
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Error during polling check", zap.Error(err))
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if !isConfigFile(event.Name) {
		return
	}
	filename := filepath.Base(event.Name)

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		m.handleRemoval(filename)
		return
	default:
		return
	}

	// absorb rapid successive writes
	time.Sleep(50 * time.Millisecond)
	if err := m.loadFile(event.Name, action); err != nil {
		m.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) loadAll() error {
	return filepath.WalkDir(m.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return m.loadFile(path, "initial_load")
	})
}

func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	filename := filepath.Base(path)
	cfg := make(map[string]any)
	switch detectFormat(filename) {
	case FormatJSON:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", filename, err)
		}
	}
	return m.apply(filename, cfg, action)
}

// apply validates cfg, stores it and runs the handlers for filename.
func (m *Manager) apply(filename string, cfg map[string]any, action string) error {
	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	m.notify(handlers, ChangeEvent{File: filename, Action: action, Config: copyMap(cfg), Timestamp: time.Now()})
	m.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

func (m *Manager) handleRemoval(filename string) {
	m.mu.Lock()
	last := m.configs[filename]
	delete(m.configs, filename)
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	m.notify(handlers, ChangeEvent{File: filename, Action: "delete", Config: copyMap(last), Timestamp: time.Now()})
	m.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// notify runs handlers synchronously and in registration order, outside any lock.
func (m *Manager) notify(handlers []ChangeHandler, event ChangeEvent) {
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Error("Configuration handler error",
				zap.String("filename", event.File),
				zap.String("action", event.Action),
				zap.Error(err),
			)
		}
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isConfigFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

func detectFormat(name string) Format {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Lookup walks a dotted path such as "decision.human_threshold" through a
// decoded config map.
func Lookup(cfg map[string]any, path ...string) (any, bool) {
	var cur any = cfg
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// HumanThreshold extracts decision.human_threshold from a decoded config map.
func HumanThreshold(cfg map[string]any) (float64, bool) {
	v, ok := Lookup(cfg, "decision", "human_threshold")
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

// ValidateDocument checks the hot-reloadable parts of a decoded config file.
func ValidateDocument(cfg map[string]any) error {
	if v, ok := Lookup(cfg, "decision", "human_threshold"); ok {
		t, ok := HumanThreshold(cfg)
		if !ok {
			return fmt.Errorf("decision.human_threshold must be a number, got %T", v)
		}
		return ValidateThreshold(t)
	}
	return nil
}
