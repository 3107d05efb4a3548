package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeSettings(t *testing.T, path, mode string) {
	t.Helper()
	content := "[camera]\nmode = \"" + mode + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSettings(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "virtcam_*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()
	writeSettings(t, tmpFile.Name(), "smart")

	settings, err := LoadSettings(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Mode != "smart" {
		t.Errorf("Mode = %q, want %q", settings.Mode, "smart")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "virtcam_*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()
	writeSettings(t, tmpFile.Name(), "motion")

	received := make(chan Settings, 1)
	watcher := NewWatcher(
		tmpFile.Name(),
		newTestLogger(),
		WithDebounce(50*time.Millisecond),
	)
	watcher.OnReload(func(s Settings) {
		received <- s
	})

	if startErr := watcher.Start(); startErr != nil {
		t.Fatal(startErr)
	}
	defer func() {
		if stopErr := watcher.Stop(); stopErr != nil {
			t.Errorf("watcher.Stop failed: %v", stopErr)
		}
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	writeSettings(t, tmpFile.Name(), "smart")

	select {
	case settings := <-received:
		if settings.Mode != "smart" {
			t.Errorf("Reloaded mode = %q, want %q", settings.Mode, "smart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for settings reload")
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "virtcam_*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()
	writeSettings(t, tmpFile.Name(), "motion")

	received := make(chan Settings, 1)
	watcher := NewWatcher(
		tmpFile.Name(),
		newTestLogger(),
		WithDebounce(50*time.Millisecond),
	)
	unsub := watcher.OnReload(func(s Settings) {
		received <- s
	})
	unsub()

	if startErr := watcher.Start(); startErr != nil {
		t.Fatal(startErr)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	writeSettings(t, tmpFile.Name(), "smart")

	select {
	case <-received:
		t.Fatal("Unsubscribed handler should not be notified")
	case <-time.After(300 * time.Millisecond):
		// Expected - no notification
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "virtcam_*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()
	writeSettings(t, tmpFile.Name(), "motion")

	errs := make(chan error, 1)
	watcher := NewWatcher(
		tmpFile.Name(),
		newTestLogger(),
		WithDebounce(50*time.Millisecond),
		WithErrorHandler(func(e error) { errs <- e }),
	)

	if startErr := watcher.Start(); startErr != nil {
		t.Fatal(startErr)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	if writeErr := os.WriteFile(tmpFile.Name(), []byte("not [valid"), 0o644); writeErr != nil {
		t.Fatal(writeErr)
	}

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}
