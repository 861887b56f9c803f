package server

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"releasewatcher/app/health"
	"releasewatcher/app/subscription"
	"releasewatcher/config"
)

func setupGin(env config.Environment) (r *gin.Engine) {
	switch env {
	case config.Production, config.Staging:
		gin.SetMode(gin.ReleaseMode)
		r = gin.Default()
		err := r.SetTrustedProxies(nil)
		if err != nil {
			panic(fmt.Sprintf("Failed to set trusted proxies: %v\n", err))
		}
	case config.Testing, config.CI:
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
	case config.Development:
		r = gin.Default()
	default:
		panic(fmt.Sprintf("Invalid environment: %s", env))
	}
	r.Use(cors.Default())
	return
}

func InitRoutes(svc subscription.SubscriptionService) *gin.Engine {
	r := setupGin(config.GetEnv())

	r.GET("/ping", health.PingHandler)

	// Users
	r.POST("/users", svc.AddUser)

	// Subscriptions
	r.POST("/subscriptions", svc.AddSubscriptions)
	r.GET("/subscriptions/:user_id", svc.GetSubscriptions)
	r.POST("/subscriptions/delete", svc.DeleteSubscriptions)
	r.POST("/subscriptions/delete_all", svc.DeleteAllSubscriptions)

	// Pending releases (drained on read)
	r.GET("/releases/:user_id", svc.GetReleases)

	// Delivery schedules
	r.POST("/schedules", svc.SetSchedule)
	r.DELETE("/schedules/:user_id", svc.DeleteSchedule)

	return r
}
