// Command sse-load holds many /stream connections open against a running
// taskhub and counts the task events they receive.
package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

type counters struct {
	events   atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

// countFrames reads SSE frames from r. The connection id from the connected
// frame is passed to onConnected; every other named event is counted.
func countFrames(ctx context.Context, r io.Reader, onConnected func(string), events *atomic.Uint64) {
	scanner := bufio.NewScanner(r)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if name == "connected" {
				var frame struct {
					ConnectionID string `json:"connectionId"`
				}
				if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &frame); err == nil && onConnected != nil {
					onConnected(frame.ConnectionID)
				}
			} else if name != "" {
				events.Add(1)
			}
		case line == "":
			name = ""
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func joinProject(ctx context.Context, client *http.Client, baseURL, bearer, connID, projectID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/stream/"+connID+"/projects/"+projectID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "unexpected status " + strconv.Itoa(e.code) }

func main() {
	baseURL := strings.TrimRight(getenv("TASKHUB_URL", "http://localhost:8080"), "/")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	bearer := os.Getenv("TEST_BEARER")
	projectID := os.Getenv("PROJECT_ID")

	var c counters
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	client := &http.Client{}
	var wg sync.WaitGroup
	wg.Add(conns)
	for range conns {
		go func() {
			defer wg.Done()
			backoff := time.Second
			retry := func() {
				c.failures.Add(1)
				time.Sleep(backoff)
				backoff = min(backoff*2, 5*time.Second)
			}
			for ctx.Err() == nil {
				c.attempts.Add(1)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/stream", nil)
				if err != nil {
					retry()
					continue
				}
				if bearer != "" {
					req.Header.Set("Authorization", "Bearer "+bearer)
				}
				resp, err := client.Do(req)
				if err != nil || resp.StatusCode != http.StatusOK {
					if resp != nil {
						resp.Body.Close()
					}
					retry()
					continue
				}
				backoff = time.Second
				onConnected := func(connID string) {
					if projectID == "" {
						return
					}
					if err := joinProject(ctx, client, baseURL, bearer, connID, projectID); err != nil {
						log.WithError(err).WithField("connection", connID).Warn("join project")
					}
				}
				countFrames(ctx, resp.Body, onConnected, &c.events)
				resp.Body.Close()
				if ctx.Err() != nil {
					return
				}
				retry()
			}
		}()
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if c.events.Load() == 0 {
				log.Error("no events received in 60s")
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	failures, attempts, events := c.failures.Load(), c.attempts.Load(), c.events.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	log.WithFields(log.Fields{
		"connections":         conns,
		"duration_sec":        int(duration.Seconds()),
		"events_received":     events,
		"connection_failures": failures,
	}).Info("sse load finished")
	if events == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}
