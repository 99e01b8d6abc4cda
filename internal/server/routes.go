package server

import (
	"net/http"

	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API, the metrics endpoint and the frontend on r.
func RegisterRoutes(r *gin.Engine, controller *SpeechController, collector *metrics.Metrics, frontend http.FileSystem) {
	r.POST("/tts", controller.Synthesize)
	r.POST("/synthesize", controller.Synthesize)
	r.GET("/health", controller.Health)
	r.GET("/ready", controller.Ready)
	r.GET("/voices", controller.Voices)

	if collector != nil {
		r.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	if frontend != nil {
		r.StaticFS("/static", frontend)
		r.GET("/", func(c *gin.Context) {
			c.FileFromFS("/", frontend)
		})
	}
}
