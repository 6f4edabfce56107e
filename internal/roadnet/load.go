package roadnet

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type xmlBaseline struct {
	Points string `xml:"Points"`
	PathID string `xml:"Path_ID"`
}

type xmlLink struct {
	PathID string `xml:"Path_ID"`
	RoadID string `xml:"Road_ID"`
}

type xmlCross struct {
	X       string `xml:"x"`
	Y       string `xml:"y"`
	CrossID string `xml:"Cross_Id"`
}

// LoadFile opens path and calls Load.
func LoadFile(path string, opts Options) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapLoad, err)
	}
	defer f.Close()
	return Load(f, opts)
}

// Load parses a map description. Baseline, Link and Cross elements are
// collected wherever they appear in the document. Baselines name a path id
// that Link elements map onto the road id vehicles report.
func Load(r io.Reader, opts Options) (*Model, error) {
	if opts.LaneWidth <= 0 {
		opts.LaneWidth = DefaultLaneWidth
	}

	var (
		rawBaselines []xmlBaseline
		rawCrosses   []xmlCross
		pathToRoad   = map[string]string{}
	)

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMapLoad, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "Baseline":
			var b xmlBaseline
			if err := dec.DecodeElement(&b, &se); err != nil {
				return nil, fmt.Errorf("%w: baseline: %v", ErrMapLoad, err)
			}
			rawBaselines = append(rawBaselines, b)
		case "Link":
			var l xmlLink
			if err := dec.DecodeElement(&l, &se); err != nil {
				return nil, fmt.Errorf("%w: link: %v", ErrMapLoad, err)
			}
			pathToRoad[strings.TrimSpace(l.PathID)] = strings.TrimSpace(l.RoadID)
		case "Cross":
			var c xmlCross
			if err := dec.DecodeElement(&c, &se); err != nil {
				return nil, fmt.Errorf("%w: cross: %v", ErrMapLoad, err)
			}
			rawCrosses = append(rawCrosses, c)
		}
	}

	if len(rawBaselines) == 0 && len(rawCrosses) == 0 {
		return nil, fmt.Errorf("%w: no roads or intersections", ErrMapLoad)
	}

	lanes := DefaultMaxLanes
	if opts.Lanes > 0 {
		lanes = opts.Lanes
	}

	baselines := make([]*Baseline, 0, len(rawBaselines))
	for _, raw := range rawBaselines {
		pathID := strings.TrimSpace(raw.PathID)
		roadStr, ok := pathToRoad[pathID]
		if !ok {
			return nil, fmt.Errorf("%w: path %q has no link to a road id", ErrMapLoad, pathID)
		}
		roadID, err := strconv.Atoi(roadStr)
		if err != nil {
			return nil, fmt.Errorf("%w: road id %q for path %q: %v", ErrMapLoad, roadStr, pathID, err)
		}
		points, err := parsePoints(raw.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: road %d: %v", ErrMapLoad, roadID, err)
		}
		baselines = append(baselines, &Baseline{
			RoadID:   roadID,
			Points:   points,
			Width:    opts.LaneWidth,
			MaxLeft:  lanes,
			MaxRight: lanes,
		})
	}

	crosses := make([]*BaseCross, 0, len(rawCrosses))
	for _, raw := range rawCrosses {
		id, err := strconv.Atoi(strings.TrimSpace(raw.CrossID))
		if err != nil {
			return nil, fmt.Errorf("%w: cross id %q: %v", ErrMapLoad, raw.CrossID, err)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(raw.X), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(raw.Y), 64)
		if err := errors.Join(errX, errY); err != nil {
			return nil, fmt.Errorf("%w: cross %d position: %v", ErrMapLoad, id, err)
		}
		crosses = append(crosses, &BaseCross{
			CrossID: id,
			Center:  orb.Point{x, y},
			Width:   DefaultLaneWidth,
			Max:     DefaultMaxLanes,
		})
	}

	return newModel(baselines, crosses, opts), nil
}

// parsePoints reads "x y,x y,..." into a polyline of at least two distinct
// points. Consecutive repeats are dropped.
func parsePoints(s string) (orb.LineString, error) {
	var line orb.LineString
	for _, pair := range strings.Split(s, ",") {
		fields := strings.Fields(pair)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("point %q: want two coordinates", strings.TrimSpace(pair))
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %v", pair, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %v", pair, err)
		}
		p := orb.Point{x, y}
		if len(line) > 0 && line[len(line)-1].Equal(p) {
			continue
		}
		line = append(line, p)
	}
	if len(line) < 2 {
		return nil, fmt.Errorf("baseline needs at least two points, got %d", len(line))
	}
	return line, nil
}

// New builds a Model directly from baselines and crosses, for callers that
// already hold parsed geometry.
func New(baselines []*Baseline, crosses []*BaseCross, opts Options) *Model {
	if opts.LaneWidth <= 0 {
		opts.LaneWidth = DefaultLaneWidth
	}
	return newModel(baselines, crosses, opts)
}
