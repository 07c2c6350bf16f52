package logger

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LoggerService owns the rotating log file. It is an io.Writer so the zerolog
// logger and the standard library logger both land in the current file.
type LoggerService struct {
	Config        map[string]interface{}
	file          *os.File
	mu            sync.Mutex
	stopCh        chan struct{}
	wg            sync.WaitGroup
	currentLog    string
	maxFileBytes  int64
	retentionDays int
	folderPath    string
	console       bool
	logger        zerolog.Logger
}

func NewLoggerService(config map[string]interface{}) *LoggerService {
	maxMB := intValue(config["max_file_mb"])
	retention := intValue(config["retention_days"])
	folder, _ := config["folder_path"].(string)
	if folder == "" {
		folder = "./logs"
	}
	console := true
	if v, ok := config["console"].(bool); ok {
		console = v
	}
	l := &LoggerService{
		Config:        config,
		stopCh:        make(chan struct{}),
		maxFileBytes:  int64(maxMB) * 1024 * 1024,
		retentionDays: retention,
		folderPath:    folder,
		console:       console,
	}
	l.logger = New()
	return l
}

func intValue(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func (l *LoggerService) Name() string {
	return "logger"
}

func (l *LoggerService) Start() error {
	l.mu.Lock()
	if err := os.MkdirAll(l.folderPath, 0755); err != nil {
		l.mu.Unlock()
		return err
	}
	logFile := l.nextLogFileName()
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.file = file
	l.currentLog = logFile
	l.mu.Unlock()

	var out io.Writer = l
	if l.console {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, l)
	}
	l.logger = NewWithWriter(out)
	log.SetOutput(l)
	l.logger.Info().Str("file", logFile).Msg("logger started")

	l.wg.Add(1)
	go l.backgroundWorker()
	return nil
}

func (l *LoggerService) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	l.logger.Info().Msg("logger stopping")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Write appends to the current log file; it is a no-op until Start.
func (l *LoggerService) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return len(p), nil
	}
	return l.file.Write(p)
}

// Logger returns the structured logger backed by this service.
func (l *LoggerService) Logger() zerolog.Logger {
	return l.logger
}

func (l *LoggerService) nextLogFileName() string {
	timestamp := time.Now().Format("20060102_150405")
	return filepath.Join(l.folderPath, fmt.Sprintf("mail2ledger_%s.log", timestamp))
}

func (l *LoggerService) rotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.maxFileBytes <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxFileBytes {
		return nil
	}
	l.file.Close()
	newLog := l.nextLogFileName()
	file, err := os.OpenFile(newLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.file = nil
		return err
	}
	l.file = file
	l.currentLog = newLog
	return nil
}

func (l *LoggerService) backgroundWorker() {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	retentionTicker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.rotateIfNeeded(); err != nil {
				fmt.Fprintln(os.Stderr, "log rotation failed:", err)
			}
		case <-retentionTicker.C:
			l.zipAndCleanOldLogs(time.Now())
		}
	}
}

// zipAndCleanOldLogs moves log files older than the retention window into a dated zip.
func (l *LoggerService) zipAndCleanOldLogs(now time.Time) (archived int) {
	if l.retentionDays <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -l.retentionDays)
	files, err := os.ReadDir(l.folderPath)
	if err != nil {
		return 0
	}

	l.mu.Lock()
	current := l.currentLog
	l.mu.Unlock()

	var old []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".log" {
			continue
		}
		fullPath := filepath.Join(l.folderPath, f.Name())
		if fullPath == current {
			continue
		}
		info, err := f.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		old = append(old, fullPath)
	}
	if len(old) == 0 {
		return 0
	}

	zipName := filepath.Join(l.folderPath, fmt.Sprintf("logs_%s.zip", now.Format("20060102")))
	zipFile, err := os.Create(zipName)
	if err != nil {
		return 0
	}
	defer zipFile.Close()
	zipWriter := zip.NewWriter(zipFile)
	defer zipWriter.Close()

	for _, fullPath := range old {
		w, err := zipWriter.Create(filepath.Base(fullPath))
		if err != nil {
			continue
		}
		src, err := os.Open(fullPath)
		if err != nil {
			continue
		}
		_, copyErr := io.Copy(w, src)
		src.Close()
		if copyErr != nil {
			continue
		}
		os.Remove(fullPath)
		archived++
	}
	return archived
}

func (l *LoggerService) LogAudit(msg string) {
	l.logger.Info().Bool("audit", true).Msg(msg)
}

var GlobalLogger *LoggerService

func SetGlobalLogger(l *LoggerService) {
	GlobalLogger = l
}

// L returns the process logger: the global service's logger once wired, a console logger before that.
func L() zerolog.Logger {
	if GlobalLogger != nil {
		return GlobalLogger.Logger()
	}
	return New()
}

// Audit records msg through the global logger when one is set.
func Audit(msg string) {
	if GlobalLogger != nil {
		GlobalLogger.LogAudit(msg)
		return
	}
	l := New()
	l.Info().Bool("audit", true).Msg(msg)
}
