package storage

import "testing"

func TestRedisCacheKeyNamespacing(t *testing.T) {
	c := &RedisCache{prefix: "paperfx"}
	if got := c.key("portfolio", "u1"); got != "paperfx:portfolio:u1" {
		t.Fatalf("expected paperfx:portfolio:u1, got %s", got)
	}
	if got := c.key("orders_queue"); got != "paperfx:orders_queue" {
		t.Fatalf("expected paperfx:orders_queue, got %s", got)
	}
}
