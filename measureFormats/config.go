package main

import (
	"fmt"
	"strings"

	cscraw "github.com/jmbenlloch/cscraw_go/pkg"
)

type formatCombination struct {
	Name      string
	Overrides []cscraw.Override
}

var combinations = map[string]formatCombination{
	"2013": {
		Name:      "2013",
		Overrides: []cscraw.Override{cscraw.WithFormatVersion(cscraw.FORMAT_2013), cscraw.WithPackByCFEB(false), cscraw.WithGEMs(false)},
	},
	"2020": {
		Name:      "2020",
		Overrides: []cscraw.Override{cscraw.WithFormatVersion(cscraw.FORMAT_2020), cscraw.WithPackByCFEB(false)},
	},
	"2020-cfeb": {
		Name:      "2020 by CFEB",
		Overrides: []cscraw.Override{cscraw.WithFormatVersion(cscraw.FORMAT_2020), cscraw.WithPackByCFEB(true)},
	},
	"2020-gem": {
		Name:      "2020 with GEMs",
		Overrides: []cscraw.Override{cscraw.WithFormatVersion(cscraw.FORMAT_2020), cscraw.WithPackByCFEB(true), cscraw.WithGEMs(true)},
	},
}

// parseFormats turns a comma separated list like "2013,2020-cfeb" into
// format combinations, in the given order.
func parseFormats(list string) ([]formatCombination, error) {
	var formats []formatCombination
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		combination, ok := combinations[name]
		if !ok {
			return nil, fmt.Errorf("unknown format combination %q", name)
		}
		formats = append(formats, combination)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no format combination given")
	}
	return formats, nil
}
