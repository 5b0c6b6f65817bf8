package publish

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/reading"
	"github.com/bemasher/multical21/receiver"
)

// Message is the encoded form of an update.
type Message struct {
	XMLName xml.Name `json:"-" xml:"reading"`

	Time   time.Time     `json:"time" xml:"time,attr"`
	Meter  frame.MeterID `json:"meter" xml:"meter,attr"`
	Layout string        `json:"layout" xml:"layout,attr"`

	TotalM3       float64  `json:"total_m3" xml:"total_m3"`
	MonthStartM3  float64  `json:"month_start_m3" xml:"month_start_m3"`
	FlowTempC     uint8    `json:"flow_temp_c" xml:"flow_temp_c"`
	AmbientTempC  uint8    `json:"ambient_temp_c" xml:"ambient_temp_c"`
	FlowLPH       *float64 `json:"flow_lph,omitempty" xml:"flow_lph,omitempty"`
	RSSI          *float64 `json:"rssi_dbm,omitempty" xml:"rssi_dbm,omitempty"`
	SignalQuality *float64 `json:"signal_quality,omitempty" xml:"signal_quality,omitempty"`
}

func NewMessage(upd receiver.Update) Message {
	r := upd.Reading
	msg := Message{
		Time:         r.Time,
		Meter:        upd.Meter,
		Layout:       r.Layout,
		TotalM3:      r.TotalM3,
		MonthStartM3: r.MonthStartM3,
		FlowTempC:    r.FlowTempC,
		AmbientTempC: r.AmbientTempC,
	}
	if upd.FlowOK {
		lph := upd.FlowLPH
		msg.FlowLPH = &lph
	}
	if upd.RSSIOK {
		rssi, quality := upd.RSSI, upd.SignalQuality
		msg.RSSI, msg.SignalQuality = &rssi, &quality
	}
	return msg
}

// Reading returns the meter values carried by msg.
func (msg Message) Reading() reading.Reading {
	return reading.Reading{
		Time:         msg.Time,
		Layout:       msg.Layout,
		TotalM3:      msg.TotalM3,
		MonthStartM3: msg.MonthStartM3,
		FlowTempC:    msg.FlowTempC,
		AmbientTempC: msg.AmbientTempC,
	}
}

func optional(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func (msg Message) String() string {
	flow, quality := "-", "-"
	if msg.FlowLPH != nil {
		flow = optional(msg.FlowLPH, 1)
	}
	if msg.SignalQuality != nil {
		quality = optional(msg.SignalQuality, 0) + "%"
	}
	return fmt.Sprintf("{Time:%s Meter:%s %s:{Total:%.3f MonthStart:%.3f FlowTemp:%d AmbientTemp:%d Flow:%s} Signal:%s}",
		msg.Time.Format(reading.TimeFormat), msg.Meter, msg.Layout,
		msg.TotalM3, msg.MonthStartM3, msg.FlowTempC, msg.AmbientTempC, flow, quality,
	)
}

// Header names the fields of Record.
func (msg Message) Header() []string {
	return []string{
		"meter", "time", "layout", "total_m3", "month_start_m3", "flow_temp_c", "ambient_temp_c",
		"flow_lph", "rssi_dbm", "signal_quality",
	}
}

func (msg Message) Record() (r []string) {
	r = append(r, msg.Meter.String())
	r = append(r, msg.Reading().Record()...)
	r = append(r, optional(msg.FlowLPH, 1))
	r = append(r, optional(msg.RSSI, 1))
	r = append(r, optional(msg.SignalQuality, 0))
	return r
}
