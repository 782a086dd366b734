package intake

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
)

// Stats counts what a file read did
type Stats struct {
	Lines    int `json:"lines"`
	Accepted int `json:"accepted"`
	Invalid  int `json:"invalid"`
	Failed   int `json:"failed"`
}

// ReadFile feeds every JSON line of path to h
func ReadFile(ctx context.Context, path string, h Handler) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return ReadLines(ctx, f, h)
}

// ReadLines feeds every non-empty line of r to h. Blank lines and lines
// starting with # are skipped; a malformed line is logged and counted.
func ReadLines(ctx context.Context, r io.Reader, h Handler) (Stats, error) {
	log := logger.Component("intake")
	var st Stats

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		st.Lines++

		req, err := Decode(line, time.Now())
		if err != nil {
			st.Invalid++
			log.Warn().Err(err).Int("line", st.Lines).Msg("skipping malformed signal")
			continue
		}
		if err := h(ctx, req); err != nil {
			st.Failed++
			log.Warn().Err(err).Str("symbol", req.Symbol).Msg("signal handler failed")
			continue
		}
		st.Accepted++
	}
	if err := sc.Err(); err != nil {
		return st, err
	}
	log.Info().Int("lines", st.Lines).Int("accepted", st.Accepted).Int("invalid", st.Invalid).
		Int("failed", st.Failed).Msg("signal file processed")
	return st, nil
}
