package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"stackcast/internal/features"
)

// FileSource serves observations from a CSV export. The asset argument of
// Fetch is ignored; a file holds one asset's series.
type FileSource struct {
	Path string
}

// Fetch loads the file and applies the since/limit window.
func (s FileSource) Fetch(_ context.Context, _ string, since time.Time, limit int) ([]features.Observation, error) {
	obs, err := LoadCSV(s.Path)
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		i := sort.Search(len(obs), func(i int) bool { return !obs[i].Ts.Before(since) })
		obs = obs[i:]
	}
	if limit > 0 && len(obs) > limit {
		obs = obs[:limit]
	}
	return obs, nil
}

// LoadCSV reads an observation series from a CSV file. The header must name
// ts (or timestamp), price, and the four pillar score columns; volume is
// optional. Timestamps are RFC 3339 or unix seconds/milliseconds. Rows that
// fail to parse or validate are skipped with a warning; the result is sorted
// by timestamp.
func LoadCSV(path string) ([]features.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observations file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	tsCol, ok := idx["ts"]
	if !ok {
		tsCol, ok = idx["timestamp"]
	}
	if !ok {
		return nil, fmt.Errorf("observations file %s: missing ts column", path)
	}
	priceCol, ok := idx["price"]
	if !ok {
		return nil, fmt.Errorf("observations file %s: missing price column", path)
	}
	pillarCols := make([]int, features.NumPillars)
	for p := features.Pillar(0); p < features.NumPillars; p++ {
		col, ok := idx[p.ScoreKey()]
		if !ok {
			return nil, fmt.Errorf("observations file %s: missing %s column", path, p.ScoreKey())
		}
		pillarCols[p] = col
	}
	volumeCol, hasVolume := idx["volume"]

	var obs []features.Observation
	skipped := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err != nil {
			break
		}

		ts, err := parseTimestamp(record[tsCol])
		if err != nil {
			log.Warn().Str("file", path).Int("line", line).Err(err).Msg("skipping row")
			skipped++
			continue
		}
		price, err := strconv.ParseFloat(record[priceCol], 64)
		if err != nil {
			log.Warn().Str("file", path).Int("line", line).Err(err).Msg("skipping row")
			skipped++
			continue
		}

		o := features.Observation{Ts: ts, Price: price}
		if hasVolume {
			o.Volume, _ = strconv.ParseFloat(record[volumeCol], 64)
		}
		bad := false
		for p := features.Pillar(0); p < features.NumPillars; p++ {
			score, err := strconv.ParseFloat(record[pillarCols[p]], 64)
			if err != nil {
				bad = true
				break
			}
			switch p {
			case features.PillarTech:
				o.Tech = score
			case features.PillarSocial:
				o.Social = score
			case features.PillarFund:
				o.Fund = score
			default:
				o.Astro = score
			}
		}
		if bad {
			log.Warn().Str("file", path).Int("line", line).Msg("skipping row with malformed pillar score")
			skipped++
			continue
		}
		if err := o.Validate(); err != nil {
			log.Warn().Str("file", path).Int("line", line).Err(err).Msg("skipping invalid observation")
			skipped++
			continue
		}
		obs = append(obs, o)
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].Ts.Before(obs[j].Ts) })

	log.Info().
		Str("file", path).
		Int("rows", len(obs)).
		Int("skipped", skipped).
		Msg("observations loaded")
	return obs, nil
}

func parseTimestamp(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if ts, err := time.Parse(time.RFC3339, field); err == nil {
		return ts, nil
	}
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", field)
	}
	// values above 1e12 read as unix milliseconds
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
