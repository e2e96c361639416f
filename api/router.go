package api

import (
	"net/http"

	"github.com/fyerfyer/elis-rag/api/handler"
	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 设置API路由
// taskHandler为nil时不注册任务查询接口，gatherer为nil时不暴露 /metrics
func SetupRouter(
	searchHandler *handler.SearchHandler,
	docHandler *handler.DocumentHandler,
	taskHandler *handler.TaskHandler,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(Cors())
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		// 检索API
		api.POST("/search", searchHandler.Search)
		api.POST("/context", searchHandler.Context)

		// 写操作API
		api.POST("/ingest", docHandler.Ingest)
		api.DELETE("/documents/:id", docHandler.DeleteDocument)
		api.POST("/index/rebuild", docHandler.RebuildIndex)
		api.GET("/stats", docHandler.Stats)

		// 任务API
		if taskHandler != nil {
			api.GET("/tasks", taskHandler.ListTasks)
			api.GET("/tasks/:id", taskHandler.GetTaskStatus)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
