package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/api/model"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxTaskWait 状态查询最长等待时间
const maxTaskWait = time.Minute

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue
	logger *logrus.Logger
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id?wait=10s
// wait大于0时等待任务结束，超时后返回当前状态
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var req model.TaskStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("task id is required"))
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	var wait time.Duration
	if req.Wait != "" {
		d, err := time.ParseDuration(req.Wait)
		if err != nil || d < 0 {
			middleware.HandleError(c, middleware.NewValidationError("invalid wait duration", req.Wait))
			return
		}
		wait = min(d, maxTaskWait)
	}

	ctx := c.Request.Context()
	var task *taskqueue.Task
	var err error
	if wait > 0 {
		task, err = h.queue.WaitForTask(ctx, req.ID, wait)
		if errors.Is(err, taskqueue.ErrTaskTimeout) {
			task, err = h.queue.GetTask(ctx, req.ID)
		}
	} else {
		task, err = h.queue.GetTask(ctx, req.ID)
	}
	if err != nil {
		if !errors.Is(err, taskqueue.ErrTaskNotFound) {
			h.logger.WithError(err).WithField("task_id", req.ID).Error("Failed to get task")
		}
		middleware.HandleError(c, translateError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// ListTasks 获取同一对象（主题或文档ID）的所有任务
// GET /api/tasks?subject=xxx
func (h *TaskHandler) ListTasks(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		middleware.HandleError(c, middleware.NewValidationError("subject is required"))
		return
	}

	tasks, err := h.queue.GetTasksBySubject(c.Request.Context(), subject)
	if err != nil {
		h.logger.WithError(err).WithField("subject", subject).Error("Failed to list tasks")
		middleware.HandleError(c, translateError(err))
		return
	}

	infos := make([]*taskqueue.TaskInfo, len(tasks))
	for i, task := range tasks {
		infos[i] = taskqueue.NewTaskInfo(task)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"subject": subject,
		"tasks":   infos,
	}))
}
