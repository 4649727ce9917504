package routes

import (
	"socialweb/api/handlers"
	"socialweb/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "socialweb"

type PageRoute struct {
	Path    string
	Name    string
	Handler gin.HandlerFunc
}

// PageTable is the static path -> page table. Paths match exactly.
func PageTable(pages *handlers.PageHandlers) []PageRoute {
	return []PageRoute{
		{Path: "/", Name: "home", Handler: pages.Home},
		{Path: "/login", Name: "login", Handler: pages.Login},
		{Path: "/register", Name: "register", Handler: pages.Register},
	}
}

// NewRouter builds the engine with exact-match routing: no trailing slash or
// case-fixing redirects, so "/login/" is not "/login".
func NewRouter(p *Provider) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	router.SetHTMLTemplate(p.Templates)

	router.Use(middleware.RecoveryMiddleware(p.Log))
	router.Use(middleware.LoggingMiddleware(p.Log))
	router.Use(middleware.PrometheusMiddleware(serviceName))

	pages := handlers.NewPageHandlers(p.Posts, handlers.PageOptions{
		RenderTimeout: p.Config.Web.RenderTimeout,
		ShowErrors:    p.Config.Web.ShowErrors,
		LiveFeed:      p.Config.Feed.Subscribe || p.Broker != nil,
	}, p.Log)
	PublicWeb(router, pages)

	feed := handlers.NewFeedHandlers(p.WS, p.Log)
	router.GET("/ws/feed", feed.WSFeedHandler)
	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func PublicWeb(router *gin.Engine, pages *handlers.PageHandlers) {
	for _, route := range PageTable(pages) {
		router.GET(route.Path, route.Handler)
	}
	router.NoRoute(pages.NotFound)
}
