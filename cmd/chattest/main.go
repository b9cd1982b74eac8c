// Package main provides a stress testing tool for the chat WebSocket server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"parley/internal/config"
	"parley/internal/middleware"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	SendsRejected        int64
	FramesReceived       int64
	Errors               int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	firstUser := flag.Uint("first-user", 1, "First user ID to impersonate")
	clients := flag.Int("clients", 50, "Number of concurrent clients (consecutive user IDs)")
	interval := flag.Duration("interval", 5*time.Second, "Delay between messages per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	log.Printf("🚀 Starting Chat Stress Test")
	log.Printf("Target: %s", *host)
	log.Printf("Clients: %d (users %d..%d)", *clients, *firstUser, *firstUser+uint(*clients)-1)
	log.Printf("Duration: %v", *duration)

	// Tokens are minted locally with the server's JWT secret
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	middleware.InitMiddleware(cfg)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		self := *firstUser + uint(i)
		peer := *firstUser + uint((i+1)%*clients)
		token, err := middleware.IssueToken(self, *duration+time.Minute)
		if err != nil {
			log.Fatalf("❌ Token issuance failed: %v", err)
		}
		wg.Add(1)
		go runClient(*host, token, self, peer, *interval, stopChan, &wg)
		time.Sleep(20 * time.Millisecond) // Stagger connections
	}

	// Wait for duration or interrupt
	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

// sendMessage posts a direct message and returns the status and, on success, the conversation ID.
func sendMessage(client *http.Client, host, token string, receiverID uint, content string) (int, uint, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"receiver_id": receiverID,
		"content":     content,
		"type":        "TEXT",
	})
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/messages", host), bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return resp.StatusCode, 0, nil
	}
	var result struct {
		Conversation *struct {
			ID uint `json:"id"`
		} `json:"conversation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resp.StatusCode, 0, err
	}
	if result.Conversation == nil {
		return resp.StatusCode, 0, nil
	}
	return resp.StatusCode, result.Conversation.ID, nil
}

func runClient(host, token string, self, peer uint, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/chat", RawQuery: "token=" + url.QueryEscape(token)}

	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	// Read loop
	go func() {
		for {
			_, _, err := c.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&metrics.FramesReceived, 1)
		}
	}()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var conversationID uint
	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if conversationID != 0 {
				_ = c.WriteJSON(map[string]interface{}{"type": "typing", "conversation_id": conversationID, "is_typing": true})
			}

			status, convID, err := sendMessage(httpClient, host, token, peer, fmt.Sprintf("Stress test message from user %d", self))
			if err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				continue
			}
			if status != http.StatusCreated {
				// Non-friends stay gated behind a pending request after the first send
				atomic.AddInt64(&metrics.SendsRejected, 1)
				continue
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
			if convID != 0 {
				conversationID = convID
			}
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Sends Rejected: %d", atomic.LoadInt64(&metrics.SendsRejected))
	log.Printf("Frames Received: %d", atomic.LoadInt64(&metrics.FramesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
