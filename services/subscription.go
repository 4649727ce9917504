package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"socialweb/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const NewPostSubscription = `subscription NewPost {
	newPost {
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

// graphql-ws message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlConnectionError     = "connection_error"
	gqlConnectionKeepAlive = "ka"
	gqlConnectionTerminate = "connection_terminate"
	gqlStart               = "start"
	gqlData                = "data"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlStop                = "stop"
)

var ErrSubscriptionComplete = errors.New("subscription completed by server")

type gqlMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscriber receives newPost events over the graphql-ws protocol.
type Subscriber struct {
	endpoint   string
	dialer     *websocket.Dialer
	log        *zap.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// AckTimeout bounds the wait for connection_ack.
	AckTimeout time.Duration
	// KeepAliveTimeout applies once the server has sent a "ka": the session
	// is dropped when nothing arrives for that long.
	KeepAliveTimeout time.Duration
}

func NewSubscriber(endpoint string, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{"graphql-ws"},
		},
		log:              log,
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		AckTimeout:       10 * time.Second,
		KeepAliveTimeout: 30 * time.Second,
	}
}

// Run keeps a newPost subscription open until ctx ends, reconnecting with
// exponential backoff.
func (s *Subscriber) Run(ctx context.Context, onPost func(models.Post)) error {
	backoff := s.MinBackoff
	for {
		started := time.Now()
		err := s.SubscribeNewPosts(ctx, onPost)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > s.MaxBackoff {
			backoff = s.MinBackoff
		}
		s.log.Warn("subscription dropped, reconnecting",
			zap.String("endpoint", s.endpoint), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// SubscribeNewPosts runs one subscription session and returns when the
// connection fails, the server completes the operation or ctx ends.
func (s *Subscriber) SubscribeNewPosts(ctx context.Context, onPost func(models.Post)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.endpoint, err)
	}
	defer conn.Close()

	// gorilla connections allow one concurrent writer
	var writeMu sync.Mutex
	write := func(msg gqlMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	opID := uuid.NewString()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			deadline := time.Now().Add(time.Second)
			_ = conn.SetWriteDeadline(deadline)
			_ = conn.WriteJSON(gqlMessage{ID: opID, Type: gqlStop})
			_ = conn.WriteJSON(gqlMessage{Type: gqlConnectionTerminate})
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	if err := write(gqlMessage{Type: gqlConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		return s.sessionErr(ctx, fmt.Errorf("failed to init connection: %w", err))
	}

	if s.AckTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.AckTimeout))
	}
	var ack gqlMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return s.sessionErr(ctx, fmt.Errorf("failed to read connection ack: %w", err))
	}
	if ack.Type != gqlConnectionAck {
		return fmt.Errorf("unexpected %q instead of connection ack: %s", ack.Type, string(ack.Payload))
	}
	_ = conn.SetReadDeadline(time.Time{})

	payload, err := json.Marshal(GraphQLRequest{Query: NewPostSubscription, OperationName: "NewPost"})
	if err != nil {
		return err
	}
	if err := write(gqlMessage{ID: opID, Type: gqlStart, Payload: payload}); err != nil {
		return s.sessionErr(ctx, fmt.Errorf("failed to start subscription: %w", err))
	}
	s.log.Info("subscribed to new posts", zap.String("endpoint", s.endpoint), zap.String("operation_id", opID))

	keepAlive := false
	for {
		var msg gqlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return s.sessionErr(ctx, fmt.Errorf("subscription read failed: %w", err))
		}
		if msg.Type == gqlConnectionKeepAlive && s.KeepAliveTimeout > 0 {
			keepAlive = true
		}
		if keepAlive {
			_ = conn.SetReadDeadline(time.Now().Add(s.KeepAliveTimeout))
		}

		switch msg.Type {
		case gqlConnectionKeepAlive:
		case gqlData:
			if msg.ID != opID {
				continue
			}
			post, err := decodeNewPost(msg.Payload)
			if err != nil {
				s.log.Warn("bad newPost payload", zap.Error(err))
				continue
			}
			onPost(post)
		case gqlError, gqlConnectionError:
			return fmt.Errorf("subscription error: %s", string(msg.Payload))
		case gqlComplete:
			if msg.ID == opID {
				return ErrSubscriptionComplete
			}
		default:
			s.log.Debug("ignored graphql-ws message", zap.String("type", msg.Type))
		}
	}
}

// sessionErr reports a cancelled session as ctx.Err rather than the I/O
// error caused by closing the connection.
func (s *Subscriber) sessionErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func decodeNewPost(payload json.RawMessage) (models.Post, error) {
	var resp struct {
		Data   models.NewPostData `json:"data"`
		Errors []GraphQLError     `json:"errors"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return models.Post{}, err
	}
	if len(resp.Errors) > 0 {
		return models.Post{}, &QueryError{Operation: "NewPost", Errors: resp.Errors}
	}
	if resp.Data.NewPost.ID == "" {
		return models.Post{}, fmt.Errorf("newPost without id")
	}
	return resp.Data.NewPost, nil
}
