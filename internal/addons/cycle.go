package addons

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// CycleFileName is the navdata marker file
const CycleFileName = "cycle.json"

const (
	markerGNS430 = "gns430"
	markerXPlane = "x-plane"
)

// NavdataFlavor tells where a navdata package installs
type NavdataFlavor int

const (
	FlavorUnknown NavdataFlavor = iota
	// FlavorXPlane is the simulator's native format: root is the directory
	// holding cycle.json
	FlavorXPlane
	// FlavorGNS430 goes into its own sub-folder: root is the parent of the
	// directory holding cycle.json
	FlavorGNS430
)

// CycleInfo contains the fields read from cycle.json
type CycleInfo struct {
	Name  string
	Cycle string
}

type rawCycle struct {
	Name  string          `json:"name"`
	Cycle json.RawMessage `json:"cycle"`
}

// ParseCycle parses cycle.json content. The cycle is accepted as a string or
// a bare number
func ParseCycle(data []byte) (*CycleInfo, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var raw rawCycle
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedNavdata, err)
	}

	info := &CycleInfo{Name: strings.TrimSpace(raw.Name)}
	if len(raw.Cycle) > 0 {
		var s string
		if err := json.Unmarshal(raw.Cycle, &s); err == nil {
			info.Cycle = strings.TrimSpace(s)
		} else {
			var n json.Number
			if err := json.Unmarshal(raw.Cycle, &n); err == nil {
				info.Cycle = n.String()
			}
		}
	}
	return info, nil
}

// ReadCycleFile parses the cycle.json at path
func ReadCycleFile(path string) (*CycleInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCycle(data)
}

// Flavor classifies the package by its name field. The GNS430 marker is
// checked first since GNS430 packages also mention the simulator
func (c *CycleInfo) Flavor() NavdataFlavor {
	name := strings.ToLower(c.Name)
	switch {
	case strings.Contains(name, markerGNS430):
		return FlavorGNS430
	case strings.Contains(name, markerXPlane):
		return FlavorXPlane
	}
	return FlavorUnknown
}

// Meta converts the parsed file to detection metadata
func (c *CycleInfo) Meta() *NavdataMeta {
	return &NavdataMeta{
		Cycle:        c.Cycle,
		ProviderName: c.Name,
		IsGNS430:     c.Flavor() == FlavorGNS430,
	}
}
