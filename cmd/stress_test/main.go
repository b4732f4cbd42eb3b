package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Fires concurrent checkouts at a running server for one product and checks
// that no more orders succeed than the stock on hand allows.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	productID := flag.String("product", "", "product to buy")
	totalRequests := flag.Int("requests", 50, "number of concurrent checkouts")
	flag.Parse()

	if *productID == "" {
		log.Fatal("-product is required")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	initialStock, err := available(client, *baseURL, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var outOfStock atomic.Int32
	var otherFail atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			status, err := checkout(client, *baseURL, *productID, n)
			switch {
			case err != nil:
				otherFail.Add(1)
			case status == http.StatusCreated:
				successCount.Add(1)
			case status == http.StatusConflict:
				outOfStock.Add(1)
			default:
				otherFail.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	finalStock, err := available(client, *baseURL, *productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", outOfStock.Load())
	fmt.Printf("Other failures:   %d\n", otherFail.Load())
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := min(initialStock, *totalRequests)
	if success == expected {
		fmt.Printf("PASS: %d orders succeeded\n", success)
	} else {
		fmt.Printf("FAIL: expected %d successful orders, got %d\n", expected, success)
	}

	if finalStock == initialStock-success {
		fmt.Println("PASS: stock matches successful orders")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", initialStock-success, finalStock)
	}
}

func checkout(client *http.Client, baseURL, productID string, n int) (int, error) {
	body, err := json.Marshal(map[string]any{
		"customer": map[string]string{
			"email": fmt.Sprintf("stress-%d@example.com", n),
			"name":  fmt.Sprintf("Stress %d", n),
		},
		"shippingAddress": map[string]string{
			"line1":   "12 Oxford Street",
			"city":    "Accra",
			"country": "GH",
		},
		"paymentMethod": "CASH_ON_DELIVERY",
		"items":         []map[string]any{{"productId": productID, "quantity": 1}},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/checkout", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func available(client *http.Client, baseURL, productID string) (int, error) {
	resp, err := client.Get(baseURL + "/api/products/" + productID + "/stock")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		TotalAvailable int `json:"totalAvailable"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.TotalAvailable, nil
}
