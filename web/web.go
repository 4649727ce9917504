// Package web holds the page templates and the view models they render.
package web

import (
	"embed"
	"html/template"
	"time"

	"socialweb/models"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names, as defined in templates/*.html
const (
	PageHome     = "home"
	PageLogin    = "login"
	PageRegister = "register"
	PageNotFound = "not_found"
)

func Templates() (*template.Template, error) {
	return template.New("").ParseFS(templateFS, "templates/*.html")
}

// Page is the data every page template receives.
type Page struct {
	Title    string
	Active   string
	Refresh    int // seconds; 0 disables the meta refresh
	RefreshURL string
	LiveFeed   bool

	Loading bool
	Error   string
	Posts   []PostCard
}

// PostCard is the view model of one post card.
type PostCard struct {
	ID           string
	Username     string
	Body         string
	CreatedAt    string
	Since        string
	LikeCount    int
	CommentCount int
}

// NewPostCard maps a post to its card. Counts are taken as supplied.
func NewPostCard(post models.Post, now time.Time) PostCard {
	return PostCard{
		ID:           post.ID,
		Username:     post.Username,
		Body:         post.Body,
		CreatedAt:    post.CreatedAt,
		Since:        since(post.CreatedAt, now),
		LikeCount:    post.LikeCount,
		CommentCount: post.CommentCount,
	}
}

func NewPostCards(posts []models.Post, now time.Time) []PostCard {
	cards := make([]PostCard, len(posts))
	for i, post := range posts {
		cards[i] = NewPostCard(post, now)
	}
	return cards
}

func since(createdAt string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return createdAt
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
