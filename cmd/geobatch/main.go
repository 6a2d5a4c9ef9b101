// Command geobatch geocodes a CSV of addresses offline and writes one JSON
// record per line. Columns: id, street, city, region, postal_code, country.
// A header row is detected and skipped.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/schollz/progressbar/v3"

	"github.com/couchcryptid/address-geocoding/internal/cache"
	"github.com/couchcryptid/address-geocoding/internal/config"
	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/observability"
	"github.com/couchcryptid/address-geocoding/internal/pipeline"
	"github.com/couchcryptid/address-geocoding/internal/provider/census"
	"github.com/couchcryptid/address-geocoding/internal/provider/google"
	"github.com/couchcryptid/address-geocoding/internal/provider/mapbox"
	"github.com/couchcryptid/address-geocoding/internal/provider/nominatim"
)

func main() {
	inPath := flag.String("in", "", "input CSV path (defaults to stdin)")
	outPath := flag.String("out", "", "output JSON-lines path (defaults to stdout)")
	concurrency := flag.Int("concurrency", 4, "concurrent chain walks")
	quiet := flag.Bool("quiet", false, "suppress the progress bar")
	flag.Parse()

	if err := run(*inPath, *outPath, *concurrency, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "geobatch:", err)
		os.Exit(1)
	}
}

type row struct {
	id  string
	req domain.AddressRequest
}

func run(inPath, outPath string, concurrency int, quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel, "text")
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	rows, err := readRows(inPath)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no input rows")
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	timeout := cfg.ProviderCallTimeout
	clients := map[string]domain.Provider{
		"nominatim": nominatim.NewClient("", cfg.NominatimUserAgent, timeout, logger),
		"census":    census.NewClient("", timeout, logger),
	}
	if cfg.GoogleEnabled {
		clients["google"] = google.NewClient(cfg.GoogleAPIKey, "", timeout, logger)
	}
	if cfg.MapboxEnabled {
		clients["mapbox"] = mapbox.NewClient(cfg.MapboxToken, "", timeout, logger)
	}

	specs := make([]pipeline.ProviderSpec, 0, len(cfg.ProviderChain))
	for i, id := range cfg.ProviderChain {
		limits := cfg.Limits[id]
		spec := pipeline.ProviderSpec{
			ID: id, Priority: i,
			Quota: limits.Quota, Window: limits.Window,
			CostClass: "free", Enabled: true,
		}
		if id == "google" || id == "mapbox" {
			spec.CostClass = "paid"
			spec.RequiresCredential = true
			spec.CredentialPresent = clients[id] != nil
		}
		specs = append(specs, spec)
	}
	chain := pipeline.NewChain(specs, clients, clock)
	if len(chain) == 0 {
		return fmt.Errorf("no providers enabled")
	}

	resolver := pipeline.NewResolver(chain, cache.NewMemory(cfg.CacheMaxEntries, clock), pipeline.ResolverOptions{
		Threshold:   cfg.ConfidenceThreshold,
		CallTimeout: cfg.ProviderCallTimeout,
		CacheTTL:    cfg.CacheTTL,
		// A batch run has no latency budget; waiting out a quota window
		// keeps traffic on the cheap providers instead of escalating.
		WaitForQuota: true,
	}, logger, metrics, clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(len(rows),
			progressbar.OptionSetDescription("Geocoding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	reqs := make([]domain.AddressRequest, len(rows))
	for i, r := range rows {
		reqs[i] = r.req
	}

	start := time.Now()
	slots := resolver.ResolveBatch(ctx, reqs, pipeline.BatchOptions{
		Concurrency: concurrency,
		Timeout:     cfg.BatchTimeout,
	})

	w := bufio.NewWriter(out)
	defer w.Flush()
	enc := json.NewEncoder(w)

	failed := 0
	for i, slot := range slots {
		record := domain.GeocodedRecord{ID: rows[i].id, Result: slot.Result}
		if slot.Err != nil {
			record.Error = slot.Err.Error()
			failed++
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	logger.Info("batch complete",
		"total", len(rows),
		"failed", failed,
		"duration", time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d addresses failed", failed, len(rows))
	}
	return nil
}

// readRows parses the input CSV into address rows. Short records are
// padded so partial columns still form a request.
func readRows(path string) ([]row, error) {
	var in io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	var rows []row
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(field(rec, 0), "id") {
			continue
		}
		for len(rec) < 6 {
			rec = append(rec, "")
		}
		rows = append(rows, row{
			id: field(rec, 0),
			req: domain.AddressRequest{
				Street:     field(rec, 1),
				City:       field(rec, 2),
				Region:     field(rec, 3),
				PostalCode: field(rec, 4),
				Country:    field(rec, 5),
			},
		})
	}
	return rows, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
