package log_service

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LocalDiscLogService struct {
	logDir   string
	nodeID   string
	mu       sync.Mutex
	logger   *log.Logger
	minLevel int
}

func NewLocalDiscLogService(logDir string, nodeID string, minLogLevel ...string) (*LocalDiscLogService, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(logDir, fmt.Sprintf("%s.log", nodeID))
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	service := &LocalDiscLogService{
		logDir:   logDir,
		nodeID:   nodeID,
		logger:   log.New(file, "", 0),
		minLevel: InfoLevelValue,
	}

	if len(minLogLevel) > 0 && minLogLevel[0] != "" {
		service.minLevel = LevelValue(strings.ToUpper(minLogLevel[0]))
	}

	return service, nil
}

func (ls *LocalDiscLogService) Debug(event LogEvent) { ls.write(DebugLevel, event) }
func (ls *LocalDiscLogService) Info(event LogEvent)  { ls.write(InfoLevel, event) }
func (ls *LocalDiscLogService) Warn(event LogEvent)  { ls.write(WarnLevel, event) }
func (ls *LocalDiscLogService) Error(event LogEvent) { ls.write(ErrorLevel, event) }

func (ls *LocalDiscLogService) write(level string, event LogEvent) {
	if LevelValue(level) < ls.minLevel {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.NodeID == "" {
		event.NodeID = ls.nodeID
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.logger.Printf("%s [%s] %s %s%s",
		event.Timestamp.Format(time.RFC3339Nano), level, event.NodeID,
		event.Message, formatMetadata(event.Metadata))
}
