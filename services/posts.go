package services

import (
	"context"
	"fmt"

	"socialweb/models"

	"go.uber.org/zap"
)

const FetchPostsQuery = `query GetPosts {
	getPosts {
		__typename
		id
		body
		createdAt
		username
		likeCount
		likes {
			username
		}
		commentCount
		comments {
			id
			username
			createdAt
			body
		}
	}
}`

const FetchPostQuery = `query GetPost($id: ID!) {
	getPost(id: $id) {
		__typename
		id
		body
		createdAt
		username
		likeCount
		likes {
			username
		}
		commentCount
		comments {
			id
			username
			createdAt
			body
		}
	}
}`

var fetchPostsRequest = GraphQLRequest{Query: FetchPostsQuery, OperationName: "GetPosts"}

// PostService holds the post queries of the frontend. All reads go through
// the shared DataClient.
type PostService struct {
	client *DataClient
	log    *zap.Logger
}

func NewPostService(client *DataClient, log *zap.Logger) *PostService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostService{client: client, log: log}
}

// GetPosts returns the full list in server order; an absent list is empty.
func (ps *PostService) GetPosts(ctx context.Context) ([]models.Post, error) {
	return ps.getPosts(ctx, CacheFirst)
}

// RefreshPosts skips the cache and stores the fresh result.
func (ps *PostService) RefreshPosts(ctx context.Context) ([]models.Post, error) {
	return ps.getPosts(ctx, NetworkOnly)
}

func (ps *PostService) getPosts(ctx context.Context, policy FetchPolicy) ([]models.Post, error) {
	var data models.GetPostsData
	if err := ps.client.Query(ctx, fetchPostsRequest, policy, &data); err != nil {
		return nil, err
	}
	if data.GetPosts == nil {
		return []models.Post{}, nil
	}
	return data.GetPosts, nil
}

// GetPost answers from the cached Post entity when a list query already
// loaded it. A post the backend no longer has is evicted, so cached lists
// linking to it are fetched again.
func (ps *PostService) GetPost(ctx context.Context, id string) (*models.Post, error) {
	cache := ps.client.Cache()
	key := EntityKey("Post", id)
	obj, ok, err := cache.ReadEntity(ctx, key)
	if err != nil {
		ps.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		var post models.Post
		if err := remarshal(obj, &post); err == nil {
			return &post, nil
		}
	}

	req := GraphQLRequest{
		Query:         FetchPostQuery,
		OperationName: "GetPost",
		Variables:     map[string]interface{}{"id": id},
	}
	var data models.GetPostData
	if err := ps.client.Query(ctx, req, CacheFirst, &data); err != nil {
		return nil, err
	}
	if data.GetPost == nil {
		if err := cache.Evict(ctx, key); err != nil {
			ps.log.Warn("cache evict failed", zap.String("key", key), zap.Error(err))
		}
		if err := cache.EvictResult(ctx, OperationKey(req)); err != nil {
			ps.log.Warn("cache evict failed", zap.String("operation", req.OperationName), zap.Error(err))
		}
		return nil, fmt.Errorf("post %s not found", id)
	}
	return data.GetPost, nil
}

// ApplyNewPost merges a post pushed by the live feed into the cache and drops
// the cached list, so the next list read fetches it with the new entry. List
// requests already in flight are not written back.
func (ps *PostService) ApplyNewPost(ctx context.Context, post models.Post) error {
	var obj map[string]interface{}
	if err := remarshal(post, &obj); err != nil {
		return fmt.Errorf("failed to encode post %s: %w", post.ID, err)
	}
	obj[typenameField] = "Post"

	cache := ps.client.Cache()
	if _, err := cache.WriteEntity(ctx, obj); err != nil {
		return err
	}
	if err := cache.EvictResult(ctx, OperationKey(fetchPostsRequest)); err != nil {
		return err
	}
	ps.log.Debug("new post applied", zap.String("post_id", post.ID), zap.String("username", post.Username))
	return nil
}
