package topic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/easeaico/agora/internal/types"
)

var aiKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "llm", "gpt", "claude", "gemini",
	"neural", "robot", "automation", "agi", "model", "openai", "anthropic", "chatbot",
}

// RedditSource turns hot posts of subreddits into topic candidates.
type RedditSource struct {
	subreddits []string
	limit      int
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewRedditSource returns a source for the given subreddits.
func NewRedditSource(subreddits []string, limit int) *RedditSource {
	if limit <= 0 {
		limit = 25
	}
	return &RedditSource{
		subreddits: subreddits,
		limit:      limit,
		baseURL:    "https://www.reddit.com",
		userAgent:  "agora-topic-fetcher/1.0",
		httpClient: &http.Client{},
	}
}

func (r *RedditSource) Name() string {
	return "reddit"
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title       string  `json:"title"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Over18      bool    `json:"over_18"`
	Stickied    bool    `json:"stickied"`
}

// FetchTopics fails only when every subreddit fails.
func (r *RedditSource) FetchTopics(ctx context.Context) ([]types.TopicCandidate, error) {
	var out []types.TopicCandidate
	var errs []error
	for _, sub := range r.subreddits {
		posts, err := r.hot(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("r/%s: %w", sub, err))
			continue
		}
		for _, p := range posts {
			if p.Over18 || p.Stickied || strings.TrimSpace(p.Title) == "" {
				continue
			}
			out = append(out, types.TopicCandidate{
				Title:       strings.TrimSpace(p.Title),
				Source:      r.Name(),
				URL:         r.baseURL + p.Permalink,
				Relevance:   relevance(p.Title),
				Controversy: controversy(p),
			})
		}
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (r *RedditSource) hot(ctx context.Context, sub string) ([]redditPost, error) {
	endpoint := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", r.baseURL, url.PathEscape(sub), r.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reddit request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("reddit status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		posts = append(posts, c.Data)
	}
	return posts, nil
}

// relevance counts AI keywords in the title; three hits is fully relevant.
func relevance(title string) float64 {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	joined := " " + strings.Join(words, " ") + " "
	hits := 0
	for _, kw := range aiKeywords {
		if strings.Contains(joined, " "+kw+" ") {
			hits++
		}
	}
	return types.ClampScore(float64(hits) / 3)
}

// controversy mixes comment density with how split the votes are.
func controversy(p redditPost) float64 {
	density := types.ClampScore(float64(p.NumComments) / float64(max(p.Score, 1)))
	split := 0.0
	if p.UpvoteRatio > 0 {
		split = types.ClampScore((1 - p.UpvoteRatio) * 2)
	}
	return types.ClampScore(0.5*density + 0.5*split)
}
