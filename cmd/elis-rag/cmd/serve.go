package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/elis-rag/api"
	"github.com/fyerfyer/elis-rag/api/handler"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search and ingestion HTTP API",
	Long: `Start the HTTP API.

With queue.enable set, write requests are queued and answered with 202.
Pass --with-worker to consume the queue from the same process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Run a task worker inside the server process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	gin.SetMode(cfg.Server.Mode)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var queue taskqueue.Queue
	var taskHandler *handler.TaskHandler
	if cfg.Queue.Enable {
		redisQueue, err := openQueue()
		if err != nil {
			return err
		}
		defer redisQueue.Close()
		queue = redisQueue
		taskHandler = handler.NewTaskHandler(queue)

		if serveWithWorker {
			worker, err := startWorker(a, redisQueue)
			if err != nil {
				return err
			}
			defer worker.Stop()
		}
	}

	router := api.SetupRouter(
		handler.NewSearchHandler(a.pipeline),
		handler.NewDocumentHandler(a.pipeline, queue),
		taskHandler,
		a.registry,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
