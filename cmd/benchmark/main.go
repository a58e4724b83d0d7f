// Benchmark tool for replaying labelled transactions against Harrier.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labelled.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labelled transactions (legacy and boosted columns plus isFraud)
//  2. Sends each transaction to POST /predict
//  3. Flags fraud_percentage at or above -threshold as a fraud prediction
//  4. Reports latency percentiles, throughput and a confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func main() {
	csvPath := flag.String("csv", "", "Path to labelled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	token := flag.String("token", "", "Bearer token when the API requires auth")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.Float64("threshold", 0.5, "fraud_percentage at or above which a transaction counts as flagged")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labelled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HARRIER BENCHMARK - Labelled Replay                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	fmt.Printf("\nReading labelled data from %s...\n", *csvPath)
	rows, skipped, err := readLabelledCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("ERROR: no usable rows")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions (%d malformed rows skipped)\n", len(rows), skipped)

	fraudCount := 0
	for _, row := range rows {
		if row.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(rows)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(rows)-fraudCount, 100*float64(len(rows)-fraudCount)/float64(len(rows)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(rows, *baseURL, *token, *threshold, *workers, *verbose)
	duration := time.Since(startTime)

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

// PredictResponse is the subset of the /predict response the benchmark reads.
type PredictResponse struct {
	AssessmentID    string             `json:"assessment_id"`
	ModelScores     map[string]float64 `json:"model_scores"`
	FraudPercentage float64            `json:"fraud_percentage"`
}

func runBenchmark(rows []LabelledRow, baseURL, token string, threshold float64, numWorkers int, verbose bool) *Metrics {
	metrics := NewMetrics()

	work := make(chan LabelledRow, 100)
	var wg sync.WaitGroup
	var printMu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := predict(client, baseURL, token, row.Transaction)
				elapsed := time.Since(start)

				if err != nil {
					metrics.RecordError(elapsed)
					if verbose {
						printMu.Lock()
						fmt.Printf("ERROR: %s -> %v\n", row.Transaction.ID, err)
						printMu.Unlock()
					}
					continue
				}

				predicted := result.FraudPercentage >= threshold
				metrics.Record(elapsed, predicted, row.IsFraud)

				if verbose {
					status := "✓"
					if predicted != row.IsFraud {
						status = "✗"
					}
					printMu.Lock()
					fmt.Printf("%s %-12s | Amount: %12.2f | Fraud: %-5v | Score: %.3f\n",
						status,
						row.Transaction.ID,
						*row.Transaction.Amount,
						row.IsFraud,
						result.FraudPercentage,
					)
					printMu.Unlock()
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)

	wg.Wait()

	return metrics
}

func predict(client *http.Client, baseURL, token string, txn *domain.TransactionRecord) (*PredictResponse, error) {
	body, err := json.Marshal(txn)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("status %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Error)
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	s := m.Summary()

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", s.Processed)
	fmt.Printf("   Total Fraud:      %d\n", s.TruePositives+s.FalseNegatives)
	fmt.Printf("   Total Non-Fraud:  %d\n", s.FalsePositives+s.TrueNegatives)
	fmt.Printf("   Errors:           %d\n", s.Errors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FRAUD       LEGIT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", s.TruePositives, s.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", s.FalsePositives, s.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", s.Precision)
	fmt.Printf("   Recall:     %.4f\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   Latency p50:      %v\n", s.P50.Round(time.Microsecond))
	fmt.Printf("   Latency p95:      %v\n", s.P95.Round(time.Microsecond))
	fmt.Printf("   Latency p99:      %v\n", s.P99.Round(time.Microsecond))
	fmt.Printf("   Latency max:      %v\n", s.Max.Round(time.Microsecond))
	if duration > 0 {
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(s.Processed)/duration.Seconds())
	}

	fmt.Println()
}
