package models

import "fmt"

type Source string

const (
	SourceAttom      Source = "attom"
	SourceRentcast   Source = "rentcast"
	SourceRedfin     Source = "redfin"
	SourceDatafiniti Source = "datafiniti"
)

// Sources is the fixed rotation order used by the crawl driver.
var Sources = []Source{SourceAttom, SourceRentcast, SourceRedfin, SourceDatafiniti}

func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

func (s Source) String() string {
	return string(s)
}
