package http

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusRange is an inclusive range of status codes, such as 200-299
type StatusRange struct {
	Min int
	Max int
}

func (r StatusRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

func (r StatusRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// ParseStatusRange will return a range from a string like 200-299 or a single code like 201
func ParseStatusRange(in string) (ret StatusRange, err error) {
	in = strings.TrimSpace(in)
	if !strings.Contains(in, "-") {
		// treat it as a single value
		ret.Min, err = strconv.Atoi(in)
		if err != nil {
			return ret, fmt.Errorf("unable to parse status range: %w", err)
		}
		ret.Max = ret.Min
		return ret, ret.validate()
	}
	v := strings.Split(in, "-")
	if len(v) != 2 {
		return ret, fmt.Errorf("unexpected format for status range %q", in)
	}

	ret.Min, err = strconv.Atoi(v[0])
	if err != nil {
		return ret, fmt.Errorf("unable to parse status range min: %w", err)
	}
	ret.Max, err = strconv.Atoi(v[1])
	if err != nil {
		return ret, fmt.Errorf("unable to parse status range max: %w", err)
	}
	return ret, ret.validate()
}

func (r StatusRange) validate() error {
	if r.Min < 100 || r.Max > 599 {
		return fmt.Errorf("status range %s outside of 100-599", r)
	}
	if r.Min > r.Max {
		return fmt.Errorf("invalid status range %s. min is not lower than max", r)
	}
	return nil
}

// StatusRanges is a set of accepted status codes. An empty set accepts every code
type StatusRanges []StatusRange

func (rr StatusRanges) Contains(code int) bool {
	if len(rr) == 0 {
		return true
	}
	for _, r := range rr {
		if r.Contains(code) {
			return true
		}
	}
	return false
}

func (rr StatusRanges) String() string {
	ret := make([]string, 0, len(rr))
	for _, r := range rr {
		ret = append(ret, r.String())
	}
	return strings.Join(ret, ",")
}
