// Package httpstubs registers the out-of-scope HTTP routes named in spec
// §1/§6 (loadtracks/decodetrack/decodetracks) as 501 stubs, and a /health
// route for operators.
package httpstubs

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// New builds an echo instance with request logging, panic recovery, and
// request-id middleware, plus the stub routes.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[httpapi] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware)

	e.GET("/health", handleHealth)
	e.GET("/loadtracks", stub("loadtracks"))
	e.GET("/decodetrack", stub("decodetrack"))
	e.POST("/decodetracks", stub("decodetracks"))

	return e
}

// requestIDMiddleware stamps every request with a correlation ID.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Request-Id", uuid.New().String())
		return next(c)
	}
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// stub returns a handler reporting that name is out of scope for this
// relay (spec §1 Non-goals: track discovery/fetching, transcoding).
func stub(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusNotImplemented, map[string]string{
			"error": name + " is not implemented by this relay",
		})
	}
}
