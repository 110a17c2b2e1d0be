package ingest

import (
	"sort"
	"strconv"
	"strings"
)

// CompressPages renders a set of 1-based page numbers as a compact range
// string such as "1-3,5-6,9". Duplicates and non-positive numbers are
// ignored; an empty set yields "".
func CompressPages(pages []int) string {
	uniq := make([]int, 0, len(pages))
	seen := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		if p < 1 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	if len(uniq) == 0 {
		return ""
	}
	sort.Ints(uniq)

	var b strings.Builder
	start, prev := uniq[0], uniq[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start))
		if prev != start {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(prev))
		}
	}
	for _, p := range uniq[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return b.String()
}
