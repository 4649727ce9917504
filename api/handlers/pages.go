package handlers

import (
	"context"
	"net/http"
	"time"

	"socialweb/models"
	"socialweb/services"
	"socialweb/web"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PendingParam marks the reload issued by a loading page. That reload may
// answer from the cache, which the first request's query has filled by then.
const PendingParam = "pending"

// PostsReader is what the Home page needs from the post service.
type PostsReader interface {
	GetPosts(ctx context.Context) ([]models.Post, error)
	RefreshPosts(ctx context.Context) ([]models.Post, error)
}

type PageOptions struct {
	// RenderTimeout bounds how long Home waits for the posts query before it
	// renders the loading state.
	RenderTimeout time.Duration
	// RefreshSeconds is the meta refresh interval of a loading page.
	RefreshSeconds int
	// ShowErrors renders query failures; by default they render as loading.
	ShowErrors bool
	LiveFeed   bool
}

// PageHandlers renders the top-level pages.
type PageHandlers struct {
	posts PostsReader
	opts  PageOptions
	log   *zap.Logger
	now   func() time.Time
}

func NewPageHandlers(posts PostsReader, opts PageOptions, log *zap.Logger) *PageHandlers {
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 1500 * time.Millisecond
	}
	if opts.RefreshSeconds <= 0 {
		opts.RefreshSeconds = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PageHandlers{posts: posts, opts: opts, log: log, now: time.Now}
}

// Home - the post listing. Every page load asks the backend; only the reload
// of a loading page reads the cache. The view lives as long as the request:
// when the request ends the view is closed and a late result is dropped.
func (h *PageHandlers) Home(c *gin.Context) {
	ctx := c.Request.Context()
	view := services.NewQueryView[[]models.Post]()
	defer view.Close()

	query := h.posts.RefreshPosts
	if c.Query(PendingParam) != "" {
		query = h.posts.GetPosts
	}
	view.Start(ctx, query)
	snap := view.Wait(ctx, h.opts.RenderTimeout)

	page := web.Page{
		Title:    "Home",
		Active:   web.PageHome,
		LiveFeed: h.opts.LiveFeed,
	}
	switch snap.State {
	case services.StateSuccess:
		page.Posts = web.NewPostCards(snap.Data, h.now())
	case services.StateError:
		h.log.Warn("posts query failed", zap.Error(snap.Err))
		if h.opts.ShowErrors {
			page.Error = snap.Err.Error()
		} else {
			page.Loading = true
		}
	default:
		page.Loading = true
	}
	if page.Loading {
		page.Refresh = h.opts.RefreshSeconds
		page.RefreshURL = "/?" + PendingParam + "=1"
	}

	c.HTML(http.StatusOK, web.PageHome, page)
}

func (h *PageHandlers) Login(c *gin.Context) {
	c.HTML(http.StatusOK, web.PageLogin, web.Page{Title: "Login", Active: web.PageLogin})
}

func (h *PageHandlers) Register(c *gin.Context) {
	c.HTML(http.StatusOK, web.PageRegister, web.Page{Title: "Register", Active: web.PageRegister})
}

func (h *PageHandlers) NotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, web.PageNotFound, web.Page{Title: "Not found"})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
