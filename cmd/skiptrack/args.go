package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// idList is a flag.Value of comma-separated ids. The flag may be repeated.
type idList []int64

func (l *idList) String() string {
	if l == nil {
		return ""
	}
	return joinIDs(*l)
}

func (l *idList) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return domain.Validationf("invalid id %q", part)
		}
		*l = append(*l, v)
	}
	return nil
}

// timestamp is a flag.Value accepting bare milliseconds or [HH:]MM:SS[.mmm]
type timestamp struct {
	ms  int64
	set bool
}

func (t *timestamp) String() string {
	if t == nil || !t.set {
		return ""
	}
	return domain.FormatTimestamp(t.ms)
}

func (t *timestamp) Set(s string) error {
	ms, err := domain.ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.ms, t.set = ms, true
	return nil
}

// offset is a signed timestamp used for shifts, e.g. -1.5s written as -0:01.5
type offset int64

func (o *offset) String() string {
	if o == nil {
		return "0"
	}
	return domain.FormatTimestamp(int64(*o))
}

func (o *offset) Set(s string) error {
	s = strings.TrimSpace(s)
	sign := int64(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	ms, err := domain.ParseTimestamp(s)
	if err != nil {
		return err
	}
	*o = offset(sign * ms)
	return nil
}

// parseIDs parses positional id arguments
func parseIDs(args []string) ([]int64, error) {
	var ids idList
	for _, a := range args {
		if err := ids.Set(a); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}
