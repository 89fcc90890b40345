package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config holds the benchmark settings
var (
	targetURL   string
	dbSource    string
	concurrency int
	duration    time.Duration
	workload    string
)

// Every benchmark transaction uses the same amount so the post-run credit
// audit is a simple multiplication.
const txnAmount = "100.00"

// Metrics
var (
	created       uint64
	releasedOK    uint64
	confirmedOK   uint64
	conflict409   uint64
	forbidden403  uint64
	failOther     uint64
	totalRequests uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&dbSource, "db", os.Getenv("DB_SOURCE"), "Postgres DSN for user discovery and the credit audit")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | contended")
}

func main() {
	flag.Parse()
	if dbSource == "" {
		log.Fatal("Missing -db flag or DB_SOURCE env")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	users, err := loadUsers(ctx, conn)
	if err != nil {
		log.Fatalf("User discovery failed: %v", err)
	}
	if len(users) < 2 {
		log.Fatal("Need at least 2 seeded users; run cmd/seeder first")
	}

	baselineBalance := totalBalance(ctx, conn)
	baselineReleased := releasedCount(ctx, conn)

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Users: %d",
		workload, concurrency, duration, len(users))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, users)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Credit audit: each release must credit exactly txnAmount, so the
	// wallet delta has to equal 100.00 * newly released transactions.
	releasedDelta := releasedCount(ctx, conn) - baselineReleased
	balanceDelta := totalBalance(ctx, conn) - baselineBalance
	expectedDelta := float64(releasedDelta) * 100.00

	printResults(elapsed, releasedDelta, balanceDelta, expectedDelta)
}

func loadUsers(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, "SELECT id FROM users LIMIT 1000")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func totalBalance(ctx context.Context, conn *pgx.Conn) float64 {
	var sum float64
	conn.QueryRow(ctx, "SELECT COALESCE(SUM(balance), 0)::float8 FROM wallets").Scan(&sum)
	return sum
}

func releasedCount(ctx context.Context, conn *pgx.Conn) int64 {
	var count int64
	conn.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE status = 'RELEASED'").Scan(&count)
	return count
}

func worker(wg *sync.WaitGroup, start time.Time, users []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		buyer, seller := pickParties(users)

		txnID, ok := createTransaction(client, buyer, seller)
		if !ok {
			continue
		}
		atomic.AddUint64(&created, 1)

		if workload == "contended" {
			// Both parties race their confirms on the same transaction;
			// the engine must credit the seller exactly once.
			var inner sync.WaitGroup
			inner.Add(2)
			go func() { defer inner.Done(); post(client, txnID, "confirm", buyer) }()
			go func() { defer inner.Done(); post(client, txnID, "confirm", seller) }()
			inner.Wait()
			continue
		}

		post(client, txnID, "confirm", seller)
		post(client, txnID, "release", buyer)
	}
}

func pickParties(users []string) (string, string) {
	a := rand.Intn(len(users))
	b := rand.Intn(len(users))
	for a == b {
		b = rand.Intn(len(users))
	}
	return users[a], users[b]
}

func createTransaction(client *http.Client, buyer, seller string) (string, bool) {
	payload := map[string]interface{}{
		"buyer_id":  buyer,
		"seller_id": seller,
		"amount":    txnAmount,
		"currency":  "AOA",
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", targetURL+"/api/v1/transactions", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", buyer)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return "", false
	}
	defer resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)

	if resp.StatusCode != http.StatusCreated {
		atomic.AddUint64(&failOther, 1)
		return "", false
	}

	var txn struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&txn); err != nil {
		atomic.AddUint64(&failOther, 1)
		return "", false
	}
	return txn.ID, true
}

func post(client *http.Client, txnID, action, actor string) {
	req, _ := http.NewRequest("POST",
		fmt.Sprintf("%s/api/v1/transactions/%s/%s", targetURL, txnID, action), nil)
	req.Header.Set("X-User-ID", actor)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)

	switch resp.StatusCode {
	case http.StatusOK:
		if action == "release" {
			atomic.AddUint64(&releasedOK, 1)
		} else {
			atomic.AddUint64(&confirmedOK, 1)
		}
	case http.StatusConflict:
		atomic.AddUint64(&conflict409, 1)
	case http.StatusForbidden:
		atomic.AddUint64(&forbidden403, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func printResults(d time.Duration, releasedDelta int64, balanceDelta, expectedDelta float64) {
	total := atomic.LoadUint64(&totalRequests)
	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":             workload,
		"duration_sec":         d.Seconds(),
		"total_requests":       total,
		"throughput_tps":       tps,
		"transactions_created": atomic.LoadUint64(&created),
		"confirms_ok":          atomic.LoadUint64(&confirmedOK),
		"releases_ok":          atomic.LoadUint64(&releasedOK),
		"conflicts":            atomic.LoadUint64(&conflict409),
		"forbidden":            atomic.LoadUint64(&forbidden403),
		"errors":               atomic.LoadUint64(&failOther),
		"released_delta":       releasedDelta,
		"balance_delta":        balanceDelta,
		"expected_delta":       expectedDelta,
		"credit_audit_ok":      balanceDelta == expectedDelta,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)

	if balanceDelta != expectedDelta {
		log.Printf("CREDIT AUDIT FAILED: wallets moved by %.2f, expected %.2f", balanceDelta, expectedDelta)
		os.Exit(1)
	}
}
