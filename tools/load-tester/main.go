package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

type notification struct {
	Descriptor   string `json:"descriptor"`
	DetectedTime string `json:"detectedTime"`
	Data         struct {
		GeofenceCode string `json:"geofenceCode"`
		CrossingType string `json:"crossingType"`
	} `json:"data"`
}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/events", "Target URL for notifications")
	username := flag.String("user", "geofencing", "Basic auth username")
	password := flag.String("pass", "", "Basic auth password")
	codes := flag.String("codes", "FENCE1,FENCE2,FENCE3", "Comma separated geofence codes to reference")
	batchSize := flag.Int("batch", 20, "Notifications per request")
	compress := flag.Bool("gzip", false, "Gzip request bodies")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 100, "Requests per second limit")
	flag.Parse()

	fenceCodes := strings.Split(*codes, ",")
	devices := make([]string, 50)
	for i := range devices {
		devices[i] = uuid.NewString()
	}

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batchSize)

	var wg sync.WaitGroup
	var successCount, errorCount, notificationCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				body, err := buildBatch(*batchSize, devices, fenceCodes, *compress)
				if err != nil {
					log.Fatalf("failed to build batch: %v", err)
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(body))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				if *compress {
					req.Header.Set("Content-Encoding", "gzip")
				}
				req.SetBasicAuth(*username, *password)

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}

				if resp.StatusCode == http.StatusAccepted {
					successCount.Add(1)
					notificationCount.Add(int64(*batchSize))
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}()
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Notifications Accepted: %d", notificationCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

func buildBatch(size int, devices, codes []string, compress bool) ([]byte, error) {
	batch := struct {
		Notifications []notification `json:"notifications"`
	}{Notifications: make([]notification, size)}

	for i := range batch.Notifications {
		n := &batch.Notifications[i]
		n.Descriptor = devices[rand.Intn(len(devices))]
		n.DetectedTime = time.Now().UTC().Format(time.RFC3339Nano)
		n.Data.GeofenceCode = codes[rand.Intn(len(codes))]
		n.Data.CrossingType = "enter"
		if rand.Intn(2) == 1 {
			n.Data.CrossingType = "exit"
		}
	}

	body, err := json.Marshal(batch)
	if err != nil || !compress {
		return body, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
