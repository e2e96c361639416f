package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingest, remove and rebuild tasks",
	Long: `Start a task worker that consumes the Redis queue.

The worker is the only process that writes to the vector store while the
API server runs with the queue enabled.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// openQueue 连接任务队列
func openQueue() (*taskqueue.RedisQueue, error) {
	if !cfg.Queue.Enable {
		return nil, errors.New("task queue is disabled, set queue.enable to true")
	}
	queue, err := taskqueue.NewRedisQueue(cfg.QueueConfig(), taskqueue.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect task queue: %w", err)
	}
	return queue, nil
}

// startWorker 注册处理器并启动工作者
func startWorker(a *app, queue *taskqueue.RedisQueue) (*taskqueue.RedisWorker, error) {
	worker := taskqueue.NewRedisWorker(queue, nil)
	taskqueue.RegisterHandlers(worker, a.pipeline)
	if err := worker.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"redis_addr":  cfg.Queue.RedisAddr,
		"queue":       cfg.Queue.Name,
		"concurrency": cfg.Queue.Concurrency,
	}).Info("Task worker started")
	return worker, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	queue, err := openQueue()
	if err != nil {
		return err
	}
	defer queue.Close()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	worker, err := startWorker(a, queue)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	worker.Stop()
	logger.Info("Worker exited")
	return nil
}
