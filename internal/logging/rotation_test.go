package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
		if rw.FilePath() != logPath {
			t.Errorf("FilePath() = %q, want %q", rw.FilePath(), logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		initial := []byte("initial content\n")
		if err := os.WriteFile(logPath, initial, 0644); err != nil {
			t.Fatalf("failed to write initial content: %v", err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if rw.CurrentSize() != int64(len(initial)) {
			t.Errorf("CurrentSize() = %d, want %d", rw.CurrentSize(), len(initial))
		}
		_, _ = rw.Write([]byte("more\n"))
		_ = rw.Close()

		content, _ := os.ReadFile(logPath)
		if string(content) != "initial content\nmore\n" {
			t.Errorf("content = %q", content)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("rotates when size exceeds max", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 3})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		rw.maxSizeB = 100

		for range 5 {
			_, _ = rw.Write([]byte("this is a test message that will trigger rotation\n"))
		}
		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
			t.Error("backup file .1 was not created")
		}
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Error("current log file does not exist after rotation")
		}
	})

	t.Run("keeps only maxBackups files", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 2})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		rw.maxSizeB = 50

		for range 10 {
			_, _ = rw.Write([]byte("this message will trigger rotation\n"))
		}
		_ = rw.Close()

		for _, suffix := range []string{".1", ".2"} {
			if _, err := os.Stat(logPath + suffix); os.IsNotExist(err) {
				t.Errorf("backup file %s should exist", suffix)
			}
		}
		if _, err := os.Stat(logPath + ".3"); err == nil {
			t.Error("backup file .3 should not exist")
		}
	})

	t.Run("no backups truncates in place", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 0})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		rw.maxSizeB = 50

		for range 4 {
			_, _ = rw.Write([]byte("this message will trigger rotation\n"))
		}
		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); err == nil {
			t.Error("no backup should be kept when MaxBackups is 0")
		}
	})

	t.Run("no rotation when max size is 0", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 0, MaxBackups: 3})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		for range 100 {
			_, _ = rw.Write([]byte("test message that would trigger rotation if enabled\n"))
		}
		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); err == nil {
			t.Error("backup file should not exist when rotation is disabled")
		}
	})
}

func TestRotatingWriterCompression(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 3, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxSizeB = 60

	first := "first line that fills the file up to the limit......\n"
	_, _ = rw.Write([]byte(first))
	_, _ = rw.Write([]byte("second line forces a rotation\n"))
	// Close waits for background compression.
	_ = rw.Close()

	f, err := os.Open(logPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(data) != first {
		t.Errorf("decompressed = %q, want %q", data, first)
	}
	if _, err := os.Stat(logPath + ".1"); err == nil {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 5})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxSizeB = 1024

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := rw.Write([]byte("concurrent log line\n")); err != nil {
					t.Errorf("Write: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	_ = rw.Close()
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Sync(); err != nil {
		t.Errorf("Sync after Close = %v, want nil", err)
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLoggerWithRotation(dir, LevelDebug, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.WithRun("r1").Info("rotating logger works")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(content), `"run_id":"r1"`) {
		t.Errorf("log content missing run_id: %s", content)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
