package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/socialcommunity/moderation/automod/countstore"
	"github.com/socialcommunity/moderation/automod/notify"
	"github.com/socialcommunity/moderation/automod/poststore"
	"github.com/socialcommunity/moderation/models"

	"github.com/PuerkitoBio/purell"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rivo/uniseg"
	"go.opentelemetry.io/otel/attribute"
)

const maxContentLength = 10_000

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
	// connected review streams
	Reviewers int `json:"reviewers"`
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "moderator", Reviewers: s.broadcaster.NumSubscribers()})
}

type PostInput struct {
	Content  *string `json:"content"`
	ImageURL *string `json:"imageUrl"`
	// only meaningful on update
	RemoveImage bool `json:"removeImage"`
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if graphemeLength(content) > maxContentLength {
		return echo.NewHTTPError(http.StatusBadRequest, "content too long")
	}
	return nil
}

// Length as a reader would count it, in grapheme clusters.
func graphemeLength(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n++
	}
	return n
}

// Normalizes an image locator, so that the same asset always compares equal.
func normalizeImageURL(raw string) (string, error) {
	clean, err := purell.NormalizeURLString(strings.TrimSpace(raw), purell.FlagsSafe|purell.FlagRemoveDuplicateSlashes|purell.FlagRemoveFragment)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid image URL")
	}
	if !strings.HasPrefix(clean, "https://") && !strings.HasPrefix(clean, "http://") {
		return "", echo.NewHTTPError(http.StatusBadRequest, "image URL must be http or https")
	}
	return clean, nil
}

func (s *Server) HandleCreatePost(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandleCreatePost")
	defer span.End()

	var in PostInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.Content == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if err := validateContent(*in.Content); err != nil {
		return err
	}

	post := &models.Post{
		ID:       uuid.NewString(),
		AuthorID: currentUser(c),
		Content:  *in.Content,
		Status:   models.PostStatusActive,
	}
	if in.ImageURL != nil && *in.ImageURL != "" {
		ref, err := normalizeImageURL(*in.ImageURL)
		if err != nil {
			return err
		}
		post.ImageURL = &ref
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return err
	}
	postsCreated.Inc()
	span.SetAttributes(attribute.String("post", post.ID))

	if err := c.JSON(http.StatusCreated, post); err != nil {
		return err
	}

	// evaluation runs after the response, on the scheduler's workers
	s.scheduler.ScheduleText(post.ID)
	if post.HasImage() {
		s.scheduler.ScheduleImage(post.ID, *post.ImageURL)
	}
	return nil
}

func parseLimit(c echo.Context) (int, error) {
	v := c.QueryParam("limit")
	if v == "" {
		return poststore.DefaultListLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 1 || limit > poststore.MaxListLimit {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}
	return limit, nil
}

func (s *Server) listPosts(c echo.Context, q poststore.Query) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	q.Limit = limit
	posts, err := s.posts.List(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, posts)
}

func (s *Server) HandleListPosts(c echo.Context) error {
	return s.listPosts(c, poststore.Query{})
}

// The caller's own posts which were taken down.
func (s *Server) HandleFlaggedPosts(c echo.Context) error {
	return s.listPosts(c, poststore.Query{
		Statuses: []models.PostStatus{models.PostStatusRemoved},
		AuthorID: currentUser(c),
	})
}

// Everything automated moderation has acted on, for reviewers who missed the live stream.
func (s *Server) HandleReviewQueue(c echo.Context) error {
	return s.listPosts(c, poststore.Query{
		Statuses: []models.PostStatus{models.PostStatusPendingReview, models.PostStatusRemoved},
	})
}

// Loads a post and checks the caller is its author.
func (s *Server) ownPost(c echo.Context) (*models.Post, error) {
	post, err := s.posts.FindByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, poststore.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "post not found")
	} else if err != nil {
		return nil, err
	}
	if post.AuthorID != currentUser(c) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not the author of this post")
	}
	return post, nil
}

// Best-effort deletion of an image asset which is no longer referenced by any post.
func (s *Server) releaseAsset(ctx context.Context, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.assets.DeleteAsset(ctx, ref); err != nil {
		assetReleaseFailures.Inc()
		s.logger.Warn("failed to release image asset", "assetRef", ref, "err", err)
	}
}

func (s *Server) HandleUpdatePost(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandleUpdatePost")
	defer span.End()

	var in PostInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	post, err := s.ownPost(c)
	if err != nil {
		return err
	}

	var patch poststore.Patch
	if in.Content != nil && *in.Content != post.Content {
		if err := validateContent(*in.Content); err != nil {
			return err
		}
		patch.Content = in.Content
	}
	if in.RemoveImage {
		patch.ClearImage = post.HasImage()
	} else if in.ImageURL != nil && *in.ImageURL != "" {
		ref, err := normalizeImageURL(*in.ImageURL)
		if err != nil {
			return err
		}
		if post.ImageURL == nil || *post.ImageURL != ref {
			patch.ImageURL = &ref
		}
	}
	if patch.IsEmpty() {
		return c.JSON(http.StatusOK, post)
	}

	// flagged posts are frozen; the write is conditional so a verdict landing meanwhile wins
	updated, err := s.posts.Update(ctx, post.ID, patch, models.PostStatusActive)
	if errors.Is(err, poststore.ErrStatusMismatch) {
		return echo.NewHTTPError(http.StatusConflict, "post is under moderation and can not be edited")
	} else if errors.Is(err, poststore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "post not found")
	} else if err != nil {
		return err
	}
	postsUpdated.Inc()

	if (patch.ClearImage || patch.ImageURL != nil) && post.HasImage() {
		s.releaseAsset(ctx, *post.ImageURL)
	}

	if err := c.JSON(http.StatusOK, updated); err != nil {
		return err
	}

	if patch.Content != nil {
		s.scheduler.ScheduleText(updated.ID)
	}
	if patch.ImageURL != nil {
		s.scheduler.ScheduleImage(updated.ID, *updated.ImageURL)
	}
	return nil
}

func (s *Server) HandleDeletePost(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := s.ownPost(c); err != nil {
		return err
	}
	deleted, err := s.posts.Delete(ctx, c.Param("id"))
	if errors.Is(err, poststore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "post not found")
	} else if err != nil {
		return err
	}
	postsDeleted.Inc()

	if deleted.HasImage() {
		s.releaseAsset(ctx, *deleted.ImageURL)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Post deleted"})
}

type AuthorStats struct {
	AuthorID string         `json:"authorId"`
	Flagged  map[string]int `json:"flagged"`
}

func (s *Server) HandleAuthorStats(c echo.Context) error {
	ctx := c.Request().Context()
	out := AuthorStats{
		AuthorID: c.Param("id"),
		Flagged:  map[string]int{},
	}
	for _, period := range countstore.AllPeriods {
		n, err := s.counters.GetCount(ctx, countstore.CounterFlaggedByAuthor, out.AuthorID, period)
		if err != nil {
			return err
		}
		out.Flagged[period] = n
	}
	return c.JSON(http.StatusOK, out)
}

type ReviewStreamStats struct {
	Subscribers int                         `json:"subscribers"`
	Streams     []notify.SubscriberSnapshot `json:"streams"`
}

// Connected reviewers and how many events each has received or lost to overflow.
func (s *Server) HandleReviewStreamStats(c echo.Context) error {
	streams := s.broadcaster.Subscribers()
	return c.JSON(http.StatusOK, ReviewStreamStats{
		Subscribers: len(streams),
		Streams:     streams,
	})
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Streams moderation events to a connected reviewer. Events published while disconnected are not replayed.
func (s *Server) HandleReviewStream(c echo.Context) error {
	events, cleanup, err := s.broadcaster.Subscribe(currentUser(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer cleanup()

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logger := s.logger.With("reviewer", currentUser(c))
	logger.Info("review stream connected")
	reviewStreams.Inc()
	defer reviewStreams.Dec()

	// read loop to detect disconnects; reviewers don't send anything
	disconnected := make(chan struct{})
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				close(disconnected)
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			logger.Info("review stream disconnected")
			return nil
		case msg, ok := <-events:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return nil
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Info("websocket write error", "error", err)
				return nil
			}
		}
	}
}
