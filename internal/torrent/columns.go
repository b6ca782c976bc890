// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Column filters.
const (
	FilterBytes = "bytes"
	FilterSpeed = "speed"
	FilterDate  = "date"
)

// Column describes one column of the torrent table.
type Column struct {
	Name      string `json:"name"`
	Attribute string `json:"attribute"`
	Type      string `json:"type,omitempty"`
	Filter    string `json:"filter,omitempty"`
	Enabled   bool   `json:"enabled"`
}

var (
	ColName      = Column{Name: "Name", Attribute: AttrDecodedName, Enabled: true}
	ColSize      = Column{Name: "Size", Attribute: AttrSize, Filter: FilterBytes, Enabled: true}
	ColDownSpeed = Column{Name: "Down", Attribute: AttrDownloadSpeed, Filter: FilterSpeed, Enabled: true}
	ColUpSpeed   = Column{Name: "Up", Attribute: AttrUploadSpeed, Filter: FilterSpeed, Enabled: true}
	ColProgress  = Column{Name: "Progress", Type: "progress", Attribute: AttrPercent, Enabled: true}
	ColLabel     = Column{Name: "Label", Attribute: AttrLabel, Enabled: true}
	ColDateAdded = Column{Name: "Date Added", Attribute: AttrDateAdded, Filter: FilterDate, Enabled: true}
	ColPeers     = Column{Name: "Peers", Attribute: AttrPeersText}
	ColSeeds     = Column{Name: "Seeds", Attribute: AttrSeedsText}
	ColQueue     = Column{Name: "Queue", Attribute: AttrQueueText}
	ColETA       = Column{Name: "ETA", Attribute: AttrEtaText, Filter: FilterDate}
)

// Columns returns the table columns in display order.
func Columns() []Column {
	return []Column{
		ColName,
		ColSize,
		ColDownSpeed,
		ColUpSpeed,
		ColProgress,
		ColLabel,
		ColDateAdded,
		ColPeers,
		ColSeeds,
		ColQueue,
		ColETA,
	}
}

// dateThreshold separates durations in seconds (ETA) from unix timestamps.
const dateThreshold = 100_000_000

// Format renders the column's cell for t.
func (c Column) Format(t *Torrent) string {
	if c.Type == "progress" {
		return t.PercentStr()
	}

	value := t.Value(c.Attribute)
	if value == nil {
		return ""
	}

	n, isNumber := asInt(value)
	switch {
	case c.Filter == FilterBytes && isNumber:
		return humanize.Bytes(uint64(max(n, 0)))
	case c.Filter == FilterSpeed && isNumber:
		return humanize.Bytes(uint64(max(n, 0))) + "/s"
	case c.Filter == FilterDate && isNumber:
		return formatDate(n)
	}

	return textValue(value)
}

func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case string:
		if val == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func formatDate(n int64) string {
	if n <= 0 {
		return ""
	}
	if n < dateThreshold {
		return (time.Duration(n) * time.Second).String()
	}
	return time.Unix(n, 0).Format("2006-01-02 15:04")
}
