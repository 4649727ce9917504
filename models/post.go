package models

// Post - a post as returned by the getPosts query. Counts are denormalized by
// the backend and shown as received.
type Post struct {
	ID           string    `json:"id"`
	Body         string    `json:"body"`
	CreatedAt    string    `json:"createdAt"`
	Username     string    `json:"username"`
	LikeCount    int       `json:"likeCount"`
	Likes        []Like    `json:"likes"`
	CommentCount int       `json:"commentCount"`
	Comments     []Comment `json:"comments"`
}

type Comment struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"createdAt"`
	Body      string `json:"body"`
}

// Like - a username reference; uniqueness per post is enforced by the backend.
type Like struct {
	Username string `json:"username"`
}

// GetPostsData - the data envelope of the getPosts query
type GetPostsData struct {
	GetPosts []Post `json:"getPosts"`
}

type GetPostData struct {
	GetPost *Post `json:"getPost"`
}

// NewPostData - payload of a newPost subscription event
type NewPostData struct {
	NewPost Post `json:"newPost"`
}
