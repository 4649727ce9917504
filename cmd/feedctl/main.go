package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"socialweb/config"
	"socialweb/logger"
	"socialweb/models"
	"socialweb/services"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	baseURL  string
	timeout  time.Duration
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	baseURL := os.Getenv(config.BaseURLEnv)
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	rootCmd := &cobra.Command{
		Use:          "feedctl",
		Short:        "Query and watch the post feed from a terminal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", baseURL, "Backend base URL; queries go to <base-url>/query")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(newPostsCmd(opts), newPostCmd(opts), newWatchCmd(opts))
	return rootCmd
}

func newPostService(opts *options, log *zap.Logger) *services.PostService {
	client := services.NewDataClient(
		config.QueryEndpoint(opts.baseURL),
		&http.Client{Timeout: opts.timeout},
		services.NewNormalizedCache(services.NewMemoryStore(config.DefaultCacheTTL)),
		log,
	)
	client.RequestTimeout = opts.timeout
	return services.NewPostService(client, log)
}

func newPostsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "posts",
		Short: "Print the current post list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(opts.logLevel, "console")
			if err != nil {
				return err
			}
			defer log.Sync()

			posts, err := newPostService(opts, log).GetPosts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), PostsTable(posts, time.Now()))
			return nil
		},
	}
}

func newPostCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "post <id>",
		Short: "Print one post with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(opts.logLevel, "console")
			if err != nil {
				return err
			}
			defer log.Sync()

			post, err := newPostService(opts, log).GetPost(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, PostsTable([]models.Post{*post}, time.Now()))
			for _, comment := range post.Comments {
				fmt.Fprintf(out, "  %s: %s\n", comment.Username, oneLine(comment.Body, 80))
			}
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print new posts as the backend publishes them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(opts.logLevel, "console")
			if err != nil {
				return err
			}
			defer log.Sync()

			endpoint := config.SubscriptionEndpoint(opts.baseURL)
			log.Info("watching", zap.String("endpoint", endpoint))
			out := cmd.OutOrStdout()
			err = services.NewSubscriber(endpoint, log).Run(cmd.Context(), func(post models.Post) {
				fmt.Fprintf(out, "%s  %s: %s\n", post.CreatedAt, post.Username, oneLine(post.Body, 80))
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

// PostsTable renders posts in server order.
func PostsTable(posts []models.Post, now time.Time) string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Author", "Post", "Likes", "Comments", "Created"})
	table.SetAutoWrapText(false)

	for _, post := range posts {
		created := post.CreatedAt
		if t, err := time.Parse(time.RFC3339, post.CreatedAt); err == nil {
			created = humanize.RelTime(t, now, "ago", "from now")
		}
		table.Append([]string{
			post.Username,
			oneLine(post.Body, 60),
			strconv.Itoa(post.LikeCount),
			strconv.Itoa(post.CommentCount),
			created,
		})
	}
	table.Render()
	return tableString.String()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
