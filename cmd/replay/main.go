// Replay tool for measuring the live rule set against labelled transcripts.
//
// Usage:
//
//	go run ./cmd/replay -csv transcripts.csv -url http://localhost:8080
//
// The CSV has a header and the columns session_id, sender, text, is_lead.
// Rows of one session are joined in file order; only visitor rows are sent.
// Each transcript is scored via POST /rules/preview and compared with its
// label, then the confusion matrix, precision, recall and F1 are printed.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
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

	"golang.org/x/time/rate"
)

// Transcript is one labelled chat session.
type Transcript struct {
	SessionID string
	Messages  []string
	IsLead    bool
}

// PreviewRequest is the Kestrel API request format.
type PreviewRequest struct {
	Messages []string `json:"messages"`
}

// PreviewResponse is the subset of the Kestrel score result the tool reads.
type PreviewResponse struct {
	Score  float64 `json:"score"`
	IsLead bool    `json:"isLead"`
	Fired  []struct {
		Name string `json:"name"`
	} `json:"fired"`
}

// Metrics tracks replay results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func (m *Metrics) record(predicted, actual bool) {
	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision is TP / (TP + FP), zero when nothing was predicted.
func (m *Metrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), zero when there were no actual leads.
func (m *Metrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled transcript CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	rps := flag.Float64("rps", 0, "Maximum preview requests per second (0 = unlimited)")
	verbose := flag.Bool("verbose", false, "Print each transcript result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transcripts.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	transcripts, err := readTranscripts(f)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}

	leads := 0
	for _, tr := range transcripts {
		if tr.IsLead {
			leads++
		}
	}
	fmt.Printf("Loaded %d transcripts (%d labelled as leads)\n", len(transcripts), leads)

	start := time.Now()
	metrics := runReplay(transcripts, *baseURL, *workers, newLimiter(*rps), *verbose)
	printResults(metrics, time.Since(start))
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

// readTranscripts groups CSV rows by session, keeping first-seen session order.
// A session is a lead if any of its rows is labelled as one.
func readTranscripts(r io.Reader) ([]*Transcript, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"session_id", "sender", "text", "is_lead"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var out []*Transcript
	bySession := make(map[string]*Transcript)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if len(record) < len(header) {
			continue
		}

		id := record[colIndex["session_id"]]
		tr, ok := bySession[id]
		if !ok {
			tr = &Transcript{SessionID: id}
			bySession[id] = tr
			out = append(out, tr)
		}

		if lead, _ := strconv.ParseBool(strings.TrimSpace(record[colIndex["is_lead"]])); lead {
			tr.IsLead = true
		}

		if strings.EqualFold(strings.TrimSpace(record[colIndex["sender"]]), "visitor") {
			tr.Messages = append(tr.Messages, record[colIndex["text"]])
		}
	}

	return out, nil
}

// newLimiter paces preview calls across all workers. rps <= 0 disables pacing.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}

func runReplay(transcripts []*Transcript, baseURL string, numWorkers int, limiter *rate.Limiter, verbose bool) *Metrics {
	metrics := &Metrics{}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	ctx := context.Background()

	work := make(chan *Transcript, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tr := range work {
				if err := limiter.Wait(ctx); err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				start := time.Now()
				result, err := preview(client, baseURL, tr.Messages)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tr.SessionID, err)
					}
					continue
				}

				metrics.record(result.IsLead, tr.IsLead)

				if verbose {
					mark := "ok"
					if result.IsLead != tr.IsLead {
						mark = "MISS"
					}
					fmt.Printf("%-4s %-20s | label: %-5v | score: %8.2f | fired: %d\n",
						mark, tr.SessionID, tr.IsLead, result.Score, len(result.Fired))
				}
			}
		}()
	}

	for _, tr := range transcripts {
		work <- tr
	}
	close(work)

	wg.Wait()
	return metrics
}

func preview(client *http.Client, baseURL string, messages []string) (*PreviewResponse, error) {
	if messages == nil {
		messages = []string{}
	}
	body, err := json.Marshal(PreviewRequest{Messages: messages})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/rules/preview", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result PreviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")
	fmt.Printf("   Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:     %d\n", m.TotalErrors)

	fmt.Println("\nCONFUSION MATRIX")
	fmt.Println("                     Predicted")
	fmt.Println("                 lead      not lead")
	fmt.Printf("   Actual lead  %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          other %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Println("\nDETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", m.Precision())
	fmt.Printf("   Recall:     %.4f\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency: %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
	}
	fmt.Println()
}
