package social

import (
	"encoding/json"
	"fmt"
)

type createResponse struct {
	Data struct {
		CreateTweet struct {
			TweetResults struct {
				Result struct {
					RestID string `json:"rest_id"`
				} `json:"result"`
			} `json:"tweet_results"`
		} `json:"create_tweet"`
	} `json:"data"`
}

// InterpretSendResponse reads a create-post response body. It is Delivered
// only when data.create_tweet.tweet_results.result.rest_id is present.
func InterpretSendResponse(raw json.RawMessage, username string) SendResult {
	var resp createResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Rejected{Raw: raw}
	}
	id := resp.Data.CreateTweet.TweetResults.Result.RestID
	if id == "" {
		return Rejected{Raw: raw}
	}
	return Delivered{ID: id, Permalink: Permalink(username, id)}
}

// Permalink builds the public URL of a post.
func Permalink(username, id string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", username, id)
}
