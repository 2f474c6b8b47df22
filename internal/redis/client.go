package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

// Check reports whether Redis answers a PING.
func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SummaryQueueKey is the Redis list holding pending summary jobs.
const SummaryQueueKey = "summaries:queue"

// MeetingChannel is the pub/sub channel carrying status events for a meeting.
func MeetingChannel(meetingID string) string {
	return fmt.Sprintf("meetings:%s", meetingID)
}

func AgentLockKey(meetingID, agentID string) string {
	return fmt.Sprintf("locks:agent:%s:%s", meetingID, agentID)
}

func PinAttemptKey(userID, meetingID string) string {
	return fmt.Sprintf("pin:%s:%s", userID, meetingID)
}
