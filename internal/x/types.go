package x

import "time"

// PublicMetrics are the engagement counters X attaches to a tweet.
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

// ReferencedTweet links a tweet to one it quotes, retweets, or replies to.
type ReferencedTweet struct {
	Type string `json:"type"` // "replied_to", "quoted", "retweeted"
	ID   string `json:"id"`
}

// Tweet is a post returned by the search or lookup endpoints.
type Tweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	AuthorID         string            `json:"author_id"`
	CreatedAt        time.Time         `json:"created_at"`
	ConversationID   string            `json:"conversation_id"`
	PublicMetrics    PublicMetrics     `json:"public_metrics"`
	ReferencedTweets []ReferencedTweet `json:"referenced_tweets"`
}

// IsReply reports whether the tweet is itself a reply to another post.
func (t Tweet) IsReply() bool {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "replied_to" {
			return true
		}
	}
	return false
}

// UserMetrics are the account-level counters for an author.
type UserMetrics struct {
	FollowersCount int `json:"followers_count"`
}

// User is an author expanded alongside search results.
type User struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Verified      bool        `json:"verified"`
	PublicMetrics UserMetrics `json:"public_metrics"`
}

// SearchResult bundles matched tweets with their expanded authors.
type SearchResult struct {
	Tweets []Tweet
	Users  map[string]User // author ID -> user
}

// Author resolves a tweet's author, if the expansion included it.
func (r SearchResult) Author(t Tweet) (User, bool) {
	u, ok := r.Users[t.AuthorID]
	return u, ok
}
