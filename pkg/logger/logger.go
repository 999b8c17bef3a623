// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu       sync.RWMutex
	level    = LevelInfo
	out      = os.Stderr
	levelTag = map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
)

func init() {
	if v := strings.TrimSpace(os.Getenv("ELAJ_LOG_LEVEL")); v != "" {
		SetLevelName(v)
	}
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func SetLevelName(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		SetLevel(LevelDebug)
	case "info":
		SetLevel(LevelInfo)
	case "warn", "warning":
		SetLevel(LevelWarn)
	case "error":
		SetLevel(LevelError)
	}
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

// logCF is the single sink. Fields are rendered sorted for stable output.
func logCF(l Level, component, msg string, fields map[string]interface{}) {
	if !enabled(l) {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(levelTag[l])
	sb.WriteString(" [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}
	sb.WriteString("\n")

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, sb.String())
}

func DebugC(component, msg string) { logCF(LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { logCF(LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { logCF(LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { logCF(LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logCF(LevelError, component, msg, fields)
}
