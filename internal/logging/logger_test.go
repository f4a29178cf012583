package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetLoggingState() {
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	configMu.Unlock()
}

func TestInitializeWritesLogFileWhenDebugEnabled(t *testing.T) {
	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, ".skillmeat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}

	configContent := `{"logging":{"level":"debug","debug_mode":true}}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resetLoggingState()
	defer resetLoggingState()
	defer CloseAll()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Get(CategorySync).Info("test message %d", 1)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(configDir, "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), "sync") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a sync category log file, got %v", entries)
	}
}

func TestInitializeIsNoOpWithoutDebugMode(t *testing.T) {
	tempDir := t.TempDir()

	resetLoggingState()
	defer resetLoggingState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsDebugMode() {
		t.Fatal("expected debug mode to default to false with no config file")
	}

	if _, err := os.Stat(filepath.Join(tempDir, ".skillmeat", "logs")); !os.IsNotExist(err) {
		t.Errorf("expected no logs directory to be created, stat err=%v", err)
	}
}

func TestCategoryDisabledIsNoOp(t *testing.T) {
	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, ".skillmeat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configContent := `{"logging":{"level":"debug","debug_mode":true,"categories":{"sync":false}}}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resetLoggingState()
	defer resetLoggingState()
	defer CloseAll()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsCategoryEnabled(CategorySync) {
		t.Fatal("expected sync category to be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Fatal("expected store category to default to enabled")
	}
}

func TestOperationRecordsStructuredFields(t *testing.T) {
	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, ".skillmeat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configContent := `{"logging":{"level":"debug","debug_mode":true,"json_format":true}}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resetLoggingState()
	defer resetLoggingState()
	defer CloseAll()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Operation(CategorySync, "push", "skill:foo", "mycollection", 0, nil)
	CloseAll()

	data, err := os.ReadFile(filepath.Join(configDir, "logs", logFileName(CategorySync)))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "artifact_id") {
		t.Errorf("expected structured fields in log output, got: %s", data)
	}
}
