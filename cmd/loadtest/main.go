// Команда loadtest гонит сценарии размещения и изменения заказов через
// HTTP API сервиса и печатает сводку по задержкам и ошибкам.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	defaultTicketPrice = "25.00"

	scenarioMetric = "scenario"
)

type loadMode string

const (
	modeCreate             loadMode = "create"
	modeCreateChange       loadMode = "create-change"
	modeCreateChangeCancel loadMode = "create-change-cancel"
)

// config описывает параметры нагрузочного прогона против HTTP API сервиса.
type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	currency    string
	itemID      string
	price       string
	emailTag    string
	outputPath  string
}

func (cfg config) validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{strings.TrimSpace(cfg.baseURL) == "", "base-url is required"},
		{cfg.duration < 0, "duration must be >= 0"},
		{cfg.duration == 0 && cfg.total <= 0, "total must be > 0 when duration is not set"},
		{cfg.duration > 0 && cfg.totalSet && cfg.total <= 0, "total must be > 0 when explicitly set with duration"},
		{cfg.concurrency <= 0, "concurrency must be > 0"},
		{cfg.timeout <= 0, "timeout must be > 0"},
		{cfg.cancelRate < 0 || cfg.cancelRate > 100, "cancel-rate must be between 0 and 100"},
		{strings.TrimSpace(cfg.currency) == "", "currency is required"},
		{strings.TrimSpace(cfg.itemID) == "", "item is required"},
		{strings.TrimSpace(cfg.emailTag) == "", "email-tag is required"},
	}
	for _, check := range checks {
		if check.bad {
			return errors.New(check.msg)
		}
	}
	return nil
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                 `json:"started_at"`
	DurationSeconds   float64                   `json:"duration_seconds"`
	TotalScenarios    int64                     `json:"total_scenarios"`
	SuccessScenarios  int64                     `json:"success_scenarios"`
	FailedScenarios   int64                     `json:"failed_scenarios"`
	ErrorRate         float64                   `json:"error_rate"`
	RPS               float64                   `json:"rps"`
	ScenarioLatencyMs latencySummary            `json:"scenario_latency_ms"`
	Endpoints         map[string]endpointReport `json:"endpoints"`
}

// callStats копит сырые наблюдения по одному endpoint'у.
type callStats struct {
	calls        int64
	succeeded    int64
	failed       int64
	statusCounts map[string]int64
	samples      []time.Duration
}

// metrics потокобезопасно агрегирует наблюдения всех воркеров.
type metrics struct {
	mu     sync.Mutex
	byName map[string]*callStats
}

func newMetrics() *metrics {
	return &metrics{byName: make(map[string]*callStats)}
}

// observe фиксирует результат вызова. Нулевой статус означает транспортную
// ошибку до получения ответа.
func (m *metrics) observe(name string, latency time.Duration, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.byName[name]
	if stats == nil {
		stats = &callStats{statusCounts: make(map[string]int64)}
		m.byName[name] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.succeeded++
	} else {
		stats.failed++
	}
	stats.statusCounts[statusLabel(status)]++
	stats.samples = append(stats.samples, latency)
}

func statusLabel(status int) string {
	if status <= 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

// summarize собирает итоговый отчёт. Строка "scenario" агрегирует сценарии
// целиком и поднимается в верхний уровень отчёта.
func (m *metrics) summarize(startedAt time.Time, elapsed time.Duration) report {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Endpoints:       make(map[string]endpointReport, len(m.byName)),
	}

	for name, stats := range m.byName {
		result.Endpoints[name] = buildEndpointReport(stats)
	}

	if scenario, ok := result.Endpoints[scenarioMetric]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}

	return result
}

func buildEndpointReport(stats *callStats) endpointReport {
	statuses := make(map[string]int64, len(stats.statusCounts))
	for label, count := range stats.statusCounts {
		statuses[label] = count
	}
	return endpointReport{
		Calls:     stats.calls,
		Success:   stats.succeeded,
		Failed:    stats.failed,
		ErrorRate: errorRate(stats.failed, stats.calls),
		Statuses:  statuses,
		LatencyMs: summarizeLatencies(stats.samples),
	}
}

func parseConfig() (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-change | create-change-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "order cancel probability in percent for create-change mode (0..100)")
	flag.StringVar(&cfg.currency, "currency", "EUR", "order currency")
	flag.StringVar(&cfg.itemID, "item", "item-load", "catalog item id used for positions")
	flag.StringVar(&cfg.price, "price", defaultTicketPrice, "position price")
	flag.StringVar(&cfg.emailTag, "email-tag", "load", "email local-part prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	var err error
	if cfg.timeout, err = time.ParseDuration(strings.TrimSpace(timeoutValue)); err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	if cfg.duration, err = time.ParseDuration(strings.TrimSpace(durationValue)); err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeCreate, modeCreateChange, modeCreateChangeCancel:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.timeout}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	stats := newMetrics()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, stats); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	elapsed := time.Since(startedAt)
	result := stats.summarize(startedAt, elapsed)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = errorRate(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// dispatchJobs раздаёт номера сценариев воркерам. В режиме длительности
// остановка происходит по таймеру, явный -total работает как верхняя граница.
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	deadline := time.NewTimer(cfg.duration)
	defer deadline.Stop()

	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-deadline.C:
			return
		case jobs <- i:
		}
	}
}

// Сценарий: разместить заказ на две позиции, затем (в зависимости от режима)
// отменить одну позицию через change set и, возможно, отменить весь заказ.
func runScenario(client *http.Client, cfg config, index int, runID string, stats *metrics) error {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		stats.observe(scenarioMetric, time.Since(scenarioStart), scenarioStatus)
	}()

	createBody := map[string]any{
		"email":    fmt.Sprintf("%s-%s-%d@loadtest.local", cfg.emailTag, runID, index),
		"currency": cfg.currency,
		"positions": []map[string]any{
			{"item_id": cfg.itemID, "price": cfg.price},
			{"item_id": cfg.itemID, "price": cfg.price},
		},
	}

	created, status, err := callEndpoint(client, stats, "CreateOrder",
		http.MethodPost, cfg.baseURL+"/v1/orders", createBody, "")
	if err != nil || status != http.StatusCreated {
		scenarioStatus = failStatus(status)
		return fmt.Errorf("create order: status=%d err=%v", status, err)
	}

	orderID, _ := created["id"].(string)
	if orderID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("create response returned empty order id")
	}

	if cfg.mode == modeCreate {
		return nil
	}

	positions, _ := created["positions"].([]any)
	if len(positions) == 0 {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("create response returned no positions")
	}
	firstPosition, _ := positions[0].(map[string]any)
	positionID, _ := firstPosition["id"].(string)
	if positionID == "" {
		scenarioStatus = http.StatusInternalServerError
		return errors.New("create response returned empty position id")
	}

	changeBody := map[string]any{
		"operations": []map[string]any{
			{"kind": "cancel", "position_id": positionID},
		},
	}
	changeKey := fmt.Sprintf("lt-change-%s-%d", runID, index)
	_, status, err = callEndpoint(client, stats, "ApplyChanges",
		http.MethodPost, cfg.baseURL+"/v1/orders/"+orderID+"/changes", changeBody, changeKey)
	if err != nil || status != http.StatusOK {
		scenarioStatus = failStatus(status)
		return fmt.Errorf("apply changes: status=%d err=%v", status, err)
	}

	if cfg.mode == modeCreateChangeCancel || (cfg.mode == modeCreateChange && shouldCancelScenario(index, cfg.cancelRate)) {
		cancelBody := map[string]any{"reason": "load-cancel"}
		_, status, err = callEndpoint(client, stats, "CancelOrder",
			http.MethodPost, cfg.baseURL+"/v1/orders/"+orderID+"/cancel", cancelBody, "")
		if err != nil || status != http.StatusOK {
			scenarioStatus = failStatus(status)
			return fmt.Errorf("cancel order: status=%d err=%v", status, err)
		}
	}

	return nil
}

func callEndpoint(
	client *http.Client,
	stats *metrics,
	name string,
	method, url string,
	body map[string]any,
	idempotencyKey string,
) (map[string]any, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		stats.observe(name, latency, 0)
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	stats.observe(name, latency, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode response body: %w", err)
		}
	}
	return decoded, resp.StatusCode, nil
}

func failStatus(status int) int {
	if status == 0 {
		return http.StatusServiceUnavailable
	}
	return status
}

func shouldCancelScenario(index, cancelRate int) bool {
	return cancelRate > 0 && (cancelRate >= 100 || index%100 < cancelRate)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 G304 -- path is an explicit CLI output parameter for local load-test reports.
	return os.WriteFile(cleanPath, append(data, '\n'), 0o644)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: %s\n", formatLatency(result.ScenarioLatencyMs))

	for _, name := range sortedEndpointNames(result.Endpoints) {
		stats := result.Endpoints[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func sortedEndpointNames(endpoints map[string]endpointReport) []string {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		if name != scenarioMetric {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func formatLatency(s latencySummary) string {
	return fmt.Sprintf("min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f",
		s.Min, s.Avg, s.P50, s.P95, s.P99, s.Max)
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

// summarizeLatencies сводит сырые замеры в миллисекундные квантили.
func summarizeLatencies(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, sample := range sorted {
		total += sample
	}

	return latencySummary{
		Min: millis(sorted[0]),
		Max: millis(sorted[len(sorted)-1]),
		Avg: millis(total) / float64(len(sorted)),
		P50: quantile(sorted, 0.50),
		P95: quantile(sorted, 0.95),
		P99: quantile(sorted, 0.99),
	}
}

// quantile берёт ближайший ранг в отсортированной выборке.
func quantile(sorted []time.Duration, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return millis(sorted[idx])
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func errorRate(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
