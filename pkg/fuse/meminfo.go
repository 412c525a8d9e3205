package fuse

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

const defaultBudget = 8 << 30

// availableMemory reports the bytes of memory it is safe to budget for
// chunk buffers. On Linux it reads MemAvailable from /proc/meminfo;
// elsewhere, or on any parse failure, it falls back to a fixed default.
func availableMemory() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return defaultBudget
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb << 10
	}
	return defaultBudget
}
