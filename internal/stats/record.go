package stats

import (
	"github.com/banshee-data/simstats/internal/telemetry"
)

// Input is one completed step as seen by the modules.
type Input struct {
	Step     int
	Vehicles []*telemetry.Vehicle
	Phases   []*telemetry.Phase
}

// Record is the per-step statistics output. Speeds are km/h, accelerations
// m/s², flows vehicles per minute, lengths metres and times seconds.
type Record struct {
	SpeedMin  float64 `json:"speed_min"`
	SpeedMax  float64 `json:"speed_max"`
	SpeedAve  float64 `json:"speed_ave"`
	AccMin    float64 `json:"acc_min"`
	AccMax    float64 `json:"acc_max"`
	AccAve    float64 `json:"acc_ave"`
	CarNumber int     `json:"car_number"`
	CarIn     int     `json:"car_in"`
	CarOut    int     `json:"car_out"`
	LowSpeed  int     `json:"low_speed"`
	JamIndex  float64 `json:"jam_index"`
	Global    Global  `json:"global"`
}

// Global holds the network-wide aggregates.
type Global struct {
	CarsIn         float64   `json:"cars_in"`
	CarsOut        float64   `json:"cars_out"`
	QueueLengthMin float64   `json:"queue_length_min"`
	QueueLengthMax float64   `json:"queue_length_max"`
	QueueLengthAve float64   `json:"queue_length_ave"`
	QueueTimeMin   float64   `json:"queue_time_min"`
	QueueTimeMax   float64   `json:"queue_time_max"`
	QueueTimeAve   float64   `json:"queue_time_ave"`
	StopMax        int       `json:"stop_max"`
	StopMin        int       `json:"stop_min"`
	StopAve        float64   `json:"stop_ave"`
	DelayMax       float64   `json:"delay_max"`
	DelayMin       float64   `json:"delay_min"`
	DelayAve       float64   `json:"delay_ave"`
	CrossFlow      CrossFlow `json:"cross_flow"`
	Flow           Flow      `json:"flow"`
}

// CrossFlow is the smoothed exit flow of every intersection.
type CrossFlow struct {
	FlowAve float64          `json:"flow_ave"`
	Data    []CrossFlowEntry `json:"data"`
}

type CrossFlowEntry struct {
	CrossID int     `json:"Cross_ID"`
	Flow    float64 `json:"flow"`
}

// Flow is the smoothed exit flow of every road and lane. A road's flow is
// the sum of its lanes.
type Flow struct {
	RoadAve float64    `json:"flow_RD_ave"`
	LaneAve float64    `json:"flow_LA_ave"`
	Data    []RoadFlow `json:"data"`
}

type RoadFlow struct {
	RoadID int        `json:"Road_Id"`
	Flow   float64    `json:"flow"`
	Lanes  []LaneFlow `json:"lanes"`
}

type LaneFlow struct {
	LaneID int     `json:"Lane_Id"`
	Flow   float64 `json:"flow"`
}

// NewRecord returns a zeroed record whose list fields encode as [] rather
// than null.
func NewRecord() *Record {
	return &Record{
		Global: Global{
			CrossFlow: CrossFlow{Data: []CrossFlowEntry{}},
			Flow:      Flow{Data: []RoadFlow{}},
		},
	}
}
