package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// configPath 配置文件路径
	configPath string
	// outputFormat 输出格式（text 或 json）
	outputFormat string

	cfg    *config.Config
	logger *logrus.Logger
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "elis-rag",
	Short: "Document ingestion and semantic retrieval for RAG",
	Long: `elis-rag collects documents for a topic, filters them by quality,
splits them into chunks, embeds the chunks and indexes them for semantic search.

Examples:
  # Ingest local documents about a topic
  elis-rag run "energia solar"

  # Search the indexed corpus
  elis-rag search "painéis fotovoltaicos" --top-k 5

  # Serve the HTTP API
  elis-rag serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = setupLogger(cfg.Log)
		middleware.SetLogger(logger)
		return nil
	},
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file (created with defaults when missing)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
}

// setupLogger 按配置创建日志记录器，配置了文件时同时写入滚动日志
func setupLogger(lc config.LogConfig) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if lc.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	var out io.Writer = os.Stderr
	if lc.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSize,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAge,
			Compress:   lc.Compress,
		})
	}
	l.SetOutput(out)
	return l
}

// printJSON 以缩进JSON输出
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
