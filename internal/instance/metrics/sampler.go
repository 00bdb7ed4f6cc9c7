package metrics

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Usage is one sampled process.
type Usage struct {
	PID        int
	RSSBytes   int64
	CPUPercent float64
}

// Sampler reports resource usage for a set of pids.
type Sampler interface {
	Sample(ctx context.Context, pids []int) (map[int]Usage, error)
}

// PSSampler samples via ps(1).
type PSSampler struct {
	// Binary overrides the ps executable; empty means "ps".
	Binary string
}

// NewPSSampler creates a sampler using the system ps.
func NewPSSampler() *PSSampler {
	return &PSSampler{Binary: "ps"}
}

// Sample runs one ps invocation for every pid.
func (s *PSSampler) Sample(ctx context.Context, pids []int) (map[int]Usage, error) {
	if len(pids) == 0 {
		return map[int]Usage{}, nil
	}
	bin := s.Binary
	if bin == "" {
		bin = "ps"
	}

	ids := make([]string, len(pids))
	for i, pid := range pids {
		ids[i] = strconv.Itoa(pid)
	}
	cmd := exec.CommandContext(ctx, bin, "-o", "pid=,rss=,%cpu=", "-p", strings.Join(ids, ","))
	out, err := cmd.Output()
	if err != nil {
		// ps exits 1 when none of the pids exist; that is an empty sample.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return map[int]Usage{}, nil
		}
		return nil, fmt.Errorf("ps sample: %w", err)
	}
	return ParsePS(out), nil
}

// ParsePS parses "pid rss %cpu" rows, with rss in kilobytes. Malformed rows
// are skipped.
func ParsePS(out []byte) map[int]Usage {
	result := make(map[int]Usage)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		rssKB, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(strings.Replace(fields[2], ",", ".", 1), 64)
		if err != nil {
			cpu = 0
		}
		result[pid] = Usage{PID: pid, RSSBytes: rssKB * 1024, CPUPercent: cpu}
	}
	return result
}
