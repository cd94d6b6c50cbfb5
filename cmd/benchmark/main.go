// Benchmark tool for testing Kestrel against labeled order data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/orders.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled order data (with fraud labels)
//   2. Sends each order to Kestrel for evaluation
//   3. Compares Kestrel's decision (blocklisted/checklisted vs none) with actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns:
//   customer_id, anonymous, ip_address, billing_line1, total_price, quantity, is_fraud
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledOrder represents a row from the labeled dataset
type LabeledOrder struct {
	CustomerID   string
	Anonymous    bool
	IPAddress    string
	BillingLine1 string
	TotalPrice   float64
	Quantity     int64
	IsFraud      bool
}

// OrderRequest is the Kestrel order ingestion format
type OrderRequest struct {
	ID         string     `json:"id,omitempty"`
	CustomerID string     `json:"customerId"`
	Anonymous  bool       `json:"anonymous"`
	IPAddress  string     `json:"ipAddress"`
	Billing    Address    `json:"billing"`
	Items      []LineItem `json:"items"`
	TotalPrice float64    `json:"totalPrice"`
	Currency   string     `json:"currency"`
}

type Address struct {
	Line1 string `json:"line1"`
}

type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

// EvaluateResponse is the Kestrel evaluation result format
type EvaluateResponse struct {
	OrderID    string `json:"orderId"`
	TotalScore int    `json:"totalScore"`
	Decision   string `json:"decision"` // "none", "checklisted", "blocklisted"
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud flagged
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled orders CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum orders to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud orders")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each order result")
	blockOnly := flag.Bool("block-only", false, "Count only blocklisted decisions as flagged")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/orders.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Order Fraud Scoring              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled orders from %s...\n", *csvPath)
	orders, err := readOrdersCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d orders\n", len(orders))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, o := range orders {
		if o.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(orders)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(orders)-fraudCount, 100*float64(len(orders)-fraudCount)/float64(len(orders)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(orders, *baseURL, *workers, *verbose, *blockOnly)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readOrdersCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]LabeledOrder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var orders []LabeledOrder
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["is_fraud"]] == "1"

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud orders
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		totalPrice, _ := strconv.ParseFloat(record[colIndex["total_price"]], 64)
		quantity, _ := strconv.ParseInt(record[colIndex["quantity"]], 10, 64)

		order := LabeledOrder{
			CustomerID:   record[colIndex["customer_id"]],
			Anonymous:    record[colIndex["anonymous"]] == "1",
			IPAddress:    record[colIndex["ip_address"]],
			BillingLine1: record[colIndex["billing_line1"]],
			TotalPrice:   totalPrice,
			Quantity:     quantity,
			IsFraud:      isFraud,
		}

		orders = append(orders, order)

		if limit > 0 && len(orders) >= limit {
			break
		}
	}

	return orders, nil
}

func runBenchmark(orders []LabeledOrder, baseURL string, numWorkers int, verbose, blockOnly bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledOrder, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for order := range work {
				start := time.Now()
				result, err := evaluateOrder(client, baseURL, order)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", order.CustomerID, err)
					}
					continue
				}

				// Track actual labels
				if order.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Calculate confusion matrix
				predicted := result.Decision == "blocklisted"
				if !blockOnly {
					predicted = predicted || result.Decision == "checklisted"
				}
				actual := order.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					name := order.CustomerID
					if len(name) > 10 {
						name = name[:10]
					}
					fmt.Printf("%s %-10s | Total: $%10.2f | Qty: %3d | Fraud: %-5v | Kestrel: %-11s (score %d)\n",
						status,
						name,
						order.TotalPrice,
						order.Quantity,
						order.IsFraud,
						result.Decision,
						result.TotalScore,
					)
				}
			}
		}()
	}

	// Send work
	for _, order := range orders {
		work <- order
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateOrder(client *http.Client, baseURL string, order LabeledOrder) (*EvaluateResponse, error) {
	// Ingest the order first; Kestrel evaluates stored snapshots.
	req := OrderRequest{
		CustomerID: order.CustomerID,
		Anonymous:  order.Anonymous,
		IPAddress:  order.IPAddress,
		Billing:    Address{Line1: order.BillingLine1},
		Items: []LineItem{
			{SKU: "benchmark-item", Quantity: order.Quantity},
		},
		TotalPrice: order.TotalPrice,
		Currency:   "USD",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("ingest status %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, err
	}

	evalResp, err := client.Post(baseURL+"/orders/"+created.ID+"/evaluate", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer evalResp.Body.Close()

	if evalResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluate status %d", evalResp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(evalResp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged      Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged orders, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		ops := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f orders/sec\n", ops)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
