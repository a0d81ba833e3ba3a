package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// useTempConfigDir points the registry at a throwaway directory.
func useTempConfigDir(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test relies on XDG_CONFIG_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestLoadRegistryDefaults(t *testing.T) {
	useTempConfigDir(t)

	registry, err := ReloadRegistry()
	if err != nil {
		t.Fatalf("ReloadRegistry() unexpected error: %v", err)
	}
	if registry.Version != 1 {
		t.Errorf("Version = %d, want 1", registry.Version)
	}
	if registry.Devices == nil || len(registry.Devices) != 0 {
		t.Errorf("Devices = %v, want empty map", registry.Devices)
	}
	if registry.Preferences == nil || registry.Preferences.DiscoverTimeout != 10 {
		t.Errorf("Preferences = %+v, want default discover timeout 10", registry.Preferences)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := useTempConfigDir(t)

	registry, err := ReloadRegistry()
	if err != nil {
		t.Fatalf("ReloadRegistry() unexpected error: %v", err)
	}

	entry := registry.EnsureDevice("a1b2c3")
	entry.Name = "Boiler"
	entry.Type = "0317"
	entry.Key = "00"
	entry.LastIP = "10.0.0.55"
	entry.LastSeen = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := registry.Save(); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	// The file must carry the header comment and valid YAML.
	data, err := os.ReadFile(filepath.Join(dir, appName, configFile))
	if err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Switcher Configuration File") {
		t.Error("config file missing header comment")
	}

	reloaded, err := ReloadRegistry()
	if err != nil {
		t.Fatalf("ReloadRegistry() unexpected error: %v", err)
	}
	got := reloaded.GetDevice("a1b2c3")
	if got == nil {
		t.Fatal("GetDevice() = nil after reload")
	}
	if got.Name != "Boiler" || got.Type != "0317" || got.LastIP != "10.0.0.55" {
		t.Errorf("reloaded device = %+v", got)
	}
	if !got.LastSeen.Equal(entry.LastSeen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, entry.LastSeen)
	}
}

func TestEnsureDeviceIsIdempotent(t *testing.T) {
	registry := NewRegistry()

	first := registry.EnsureDevice("a1b2c3")
	first.Name = "Boiler"
	second := registry.EnsureDevice("a1b2c3")
	if second != first {
		t.Error("EnsureDevice() returned a new entry for a known id")
	}
	if len(registry.Devices) != 1 {
		t.Errorf("Devices has %d entries, want 1", len(registry.Devices))
	}
}

func TestRemoveDevice(t *testing.T) {
	registry := NewRegistry()
	registry.EnsureDevice("a1b2c3")

	if !registry.RemoveDevice("a1b2c3") {
		t.Error("RemoveDevice() = false for a known id")
	}
	if registry.RemoveDevice("a1b2c3") {
		t.Error("RemoveDevice() = true for a removed id")
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := useTempConfigDir(t)

	configDir := filepath.Join(dir, appName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(configDir, configFile), []byte("version: 9\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := ReloadRegistry(); err == nil {
		t.Error("ReloadRegistry() = nil error for an unsupported version")
	}
}

func TestCatalogCacheDir(t *testing.T) {
	dir := useTempConfigDir(t)

	registry := NewRegistry()
	got, err := registry.CatalogCacheDir()
	if err != nil {
		t.Fatalf("CatalogCacheDir() unexpected error: %v", err)
	}
	if want := filepath.Join(dir, appName, "catalogs"); got != want {
		t.Errorf("CatalogCacheDir() = %q, want %q", got, want)
	}

	registry.Preferences.CatalogDir = "/tmp/elsewhere"
	got, err = registry.CatalogCacheDir()
	if err != nil {
		t.Fatalf("CatalogCacheDir() unexpected error: %v", err)
	}
	if got != "/tmp/elsewhere" {
		t.Errorf("CatalogCacheDir() = %q, want override", got)
	}
}
