package log_service

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type ConsoleLogService struct {
	nodeID   string
	mu       sync.Mutex
	logger   *log.Logger
	minLevel int
}

func NewConsoleLogService(nodeID string, minLogLevel ...string) *ConsoleLogService {
	service := &ConsoleLogService{
		nodeID:   nodeID,
		logger:   log.New(os.Stderr, "", 0),
		minLevel: DebugLevelValue,
	}

	if len(minLogLevel) > 0 && minLogLevel[0] != "" {
		service.minLevel = LevelValue(strings.ToUpper(minLogLevel[0]))
	}

	return service
}

func (ls *ConsoleLogService) Debug(event LogEvent) { ls.write(DebugLevel, event) }
func (ls *ConsoleLogService) Info(event LogEvent)  { ls.write(InfoLevel, event) }
func (ls *ConsoleLogService) Warn(event LogEvent)  { ls.write(WarnLevel, event) }
func (ls *ConsoleLogService) Error(event LogEvent) { ls.write(ErrorLevel, event) }

func (ls *ConsoleLogService) write(level string, event LogEvent) {
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

func formatMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(" {")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, metadata[k])
	}
	sb.WriteString("}")

	return sb.String()
}
