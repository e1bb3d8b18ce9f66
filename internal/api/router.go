// api/router.go
package api

import (
	"github.com/gin-gonic/gin"
)

// Router собирает gin-движок с CRUD-маршрутами; отдельно от RunServer,
// чтобы тесты поднимали его через httptest.
func Router(storage *Storage) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	{
		// статические "служебные" маршруты — СНАЧАЛА
		apiGroup.GET("/:module/:entity/_count", CountHandler(storage))

		// обычные CRUD
		apiGroup.POST("/:module/:entity", CreateHandler(storage))
		apiGroup.GET("/:module/:entity", ListHandler(storage))
		apiGroup.GET("/:module/:entity/:id", GetOneHandler(storage))
		apiGroup.PUT("/:module/:entity/:id", UpdateHandler(storage))
		apiGroup.DELETE("/:module/:entity/:id", DeleteHandler(storage))
	}
	return r
}

// RunServer запускает сервер на addr.
func RunServer(addr string, storage *Storage) {
	_ = Router(storage).Run(addr)
}
