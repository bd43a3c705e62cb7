package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 设置日志级别，path 不为空时日志追加写入文件，否则写入 stderr
func SetupLogger(level string, path string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path == "" {
		logrus.SetOutput(os.Stderr)
		return nil
	}
	logFile, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(logFile)
	return nil
}

func CloseLogger() {
	if logFile != nil {
		logrus.SetOutput(os.Stderr)
		_ = logFile.Close()
		logFile = nil
	}
}
