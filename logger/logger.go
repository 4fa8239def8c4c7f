package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（逐笔成交等）
	INFO                  // 一般信息（回测开始/结束）
	WARN                  // 警告信息（信号被拒绝）
	ERROR                 // 错误信息
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 文件日志（仅 DEBUG 级别启用）
	fileLogger  *log.Logger
	logFile     *os.File
	currentDate string
	fileMu      sync.Mutex
	logDir      = "logs"

	globalLocation = time.UTC
	locationMu     sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	globalLevel = level
	mu.Unlock()

	if level == DEBUG {
		initFileLogger()
	} else {
		closeFileLogger()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置日志文件名与时间戳使用的时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// SetLogDir 设置文件日志目录
func SetLogDir(dir string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if dir != "" {
		logDir = dir
	}
}

// SetOutput 设置控制台输出目标（测试中用于静默）
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// initFileLogger 初始化文件日志
func initFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()
	openLogFileLocked()
}

// openLogFileLocked 按日期打开日志文件，调用前必须持有 fileMu
func openLogFileLocked() {
	today := time.Now().In(location()).Format("2006-01-02")
	if fileLogger != nil && currentDate == today {
		return
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("[WARN] 创建日志文件夹失败: %v，将只输出到控制台", err)
		return
	}

	name := filepath.Join(logDir, fmt.Sprintf("app-meridian-%s.log", today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("[WARN] 打开日志文件失败: %v，将只输出到控制台", err)
		return
	}

	logFile = file
	currentDate = today
	fileLogger = log.New(file, "", 0)
}

// closeFileLogger 关闭文件日志
func closeFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
		currentDate = ""
	}
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	closeFileLogger()
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// write 输出到控制台，DEBUG 级别下同时写入文件
func write(level LogLevel, message string) {
	log.Print(message)

	if GetLevel() != DEBUG {
		return
	}

	fileMu.Lock()
	defer fileMu.Unlock()
	openLogFileLocked()
	if fileLogger != nil {
		fileLogger.Printf("%s %s", time.Now().In(location()).Format("2006/01/02 15:04:05"), message)
	}
}

func logf(level LogLevel, format string, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	write(level, fmt.Sprintf("[%s] ", level.String())+fmt.Sprintf(format, args...))
}

func logln(level LogLevel, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	msg := fmt.Sprintln(append([]interface{}{fmt.Sprintf("[%s]", level.String())}, args...)...)
	write(level, strings.TrimSuffix(msg, "\n"))
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Debugln 输出调试日志（无格式）
func Debugln(args ...interface{}) {
	logln(DEBUG, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Infoln 输出一般信息日志（无格式）
func Infoln(args ...interface{}) {
	logln(INFO, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Warnln 输出警告日志（无格式）
func Warnln(args ...interface{}) {
	logln(WARN, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Errorln 输出错误日志（无格式）
func Errorln(args ...interface{}) {
	logln(ERROR, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}

// Fatalf 兼容标准库命名
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
