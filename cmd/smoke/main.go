// Command smoke walks a running registry-server through one browsing session and
// optionally checks the Redis and Kafka wiring next to it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/burial-registry/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

type option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type facets struct {
	SessionID string              `json:"session_id"`
	Shown     bool                `json:"shown"`
	Options   map[string][]option `json:"options"`
}

func testSession(ctx context.Context, c *client) error {
	fmt.Println("Session test")

	var created facets
	if _, err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &created); err != nil {
		return err
	}
	sid := created.SessionID
	fmt.Println("session:", sid)
	base := "/v1/sessions/" + sid

	var view facets
	if _, err := c.do(ctx, http.MethodPost, base+"/facets/toggle", nil, &view); err != nil {
		return err
	}
	fmt.Printf("options: %d districts, %d municipalities, %d cemeteries\n",
		len(view.Options["okrug"]), len(view.Options["opstina"]), len(view.Options["groblje"]))

	districts := view.Options["okrug"]
	if len(districts) == 0 {
		fmt.Println("no districts in the dataset; stopping here")
		return nil
	}
	d := districts[0]
	if _, err := c.do(ctx, http.MethodPut, base+"/facets/okrug", map[string]string{"id": d.ID}, &view); err != nil {
		return err
	}
	fmt.Printf("district %s (%s): %d municipalities left\n", d.ID, d.Name, len(view.Options["opstina"]))

	if _, err := c.do(ctx, http.MethodPut, base+"/query", map[string]string{"query": "Djordje Djordjevic"}, nil); err != nil {
		return err
	}
	var search struct {
		URL string `json:"url"`
	}
	if _, err := c.do(ctx, http.MethodPost, base+"/search", nil, &search); err != nil {
		return err
	}
	fmt.Println("search url:", search.URL)

	if _, err := c.do(ctx, http.MethodPut, base+"/region", map[string]string{"id": d.ID}, nil); err != nil {
		return err
	}
	var snap map[string]any
	if _, err := c.do(ctx, http.MethodGet, base+"/region?wait=5s", nil, &snap); err != nil {
		return err
	}
	fmt.Println("region settled:", snap["settled"])

	_, err := c.do(ctx, http.MethodDelete, base, nil, nil)
	return err
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	rc := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = rc.Close() }()

	if err := rc.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	keys, err := rc.Keys(ctx, "registry:*").Result()
	if err != nil {
		return fmt.Errorf("redis keys: %w", err)
	}
	fmt.Println("cached registry keys:", len(keys))
	return nil
}

func testInvalidation(brokers []string, topic string) error {
	fmt.Println("Kafka invalidation test")
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.Event{
		Version: uint64(time.Now().UnixNano()),
		Op:      "update",
		Scope:   invalidation.ScopeHierarchy,
		TS:      time.Now().UTC(),
		Source:  "smoke",
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.Key()),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	fmt.Printf("invalidation sent partition=%d offset=%d\n", partition, offset)
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := &client{
		base: strings.TrimRight(getenv("REGISTRY_URL", "http://localhost:8090"), "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	failed := false
	if err := testSession(ctx, c); err != nil {
		fmt.Println("session test failed:", err)
		failed = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if err := testRedis(ctx, addr); err != nil {
			fmt.Println("redis test failed:", err)
			failed = true
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := getenv("INVALIDATION_TOPIC", "registry-invalidation")
		if err := testInvalidation(strings.Split(brokers, ","), topic); err != nil {
			fmt.Println("kafka test failed:", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("ok")
}
