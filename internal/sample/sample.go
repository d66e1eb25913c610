// Package sample provides the sequence components the rtcd daemon and the
// integration tests run: SeqOut writes an increasing counter and SeqIn
// consumes it.
package sample

import (
	"context"
	"errors"
	"sync"

	openrtm "github.com/n-ando/OpenRTM-aist-sub001"
	"github.com/n-ando/OpenRTM-aist-sub001/ec"
	"github.com/n-ando/OpenRTM-aist-sub001/lifecycle"
	"github.com/n-ando/OpenRTM-aist-sub001/port"
	"github.com/n-ando/OpenRTM-aist-sub001/rtc"
)

// Type names of the sample components.
const (
	SeqOutType = "SeqOut"
	SeqInType  = "SeqIn"
)

// SeqOutProfile describes SeqOut.
var SeqOutProfile = openrtm.FactoryProfile{
	TypeName:    SeqOutType,
	Category:    "example",
	Vendor:      "openrtm",
	Version:     "1.0.0",
	Description: "writes an increasing sequence on port out",
	Properties: map[string]string{
		"conf.default.start": "0",
		"conf.default.step":  "1",
	},
}

// SeqInProfile describes SeqIn.
var SeqInProfile = openrtm.FactoryProfile{
	TypeName:    SeqInType,
	Category:    "example",
	Vendor:      "openrtm",
	Version:     "1.0.0",
	Description: "consumes a sequence from port in",
}

// Register adds the sample factories to m.
func Register(m *openrtm.Manager) error {
	return errors.Join(
		m.RegisterFactory(SeqOutProfile, NewSeqOut),
		m.RegisterFactory(SeqInProfile, NewSeqIn),
	)
}

// SeqOutParams are the SeqOut configuration parameters.
type SeqOutParams struct {
	Start int64 `config:"start" default:"0"`
	Step  int64 `config:"step" default:"1"`
}

// SeqOut writes Start, Start+Step, ... on "out", one value per execute while active.
type SeqOut struct {
	rtc.NopLogic
	c      *rtc.Component
	out    *port.OutPort[int64]
	params SeqOutParams

	mu      sync.Mutex
	next    int64
	written int
}

// NewSeqOut is the SeqOut factory.
func NewSeqOut(c *rtc.Component) (rtc.Logic, error) {
	s := &SeqOut{c: c, out: port.NewOutPort[int64]("out", c.PortOptions()...)}
	if err := c.AddPort(context.Background(), s.out); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SeqOut) OnInitialize(ctx context.Context) lifecycle.ReturnCode {
	if err := s.c.BindParameters(ctx, &s.params); err != nil {
		return lifecycle.Error
	}
	return lifecycle.OK
}

func (s *SeqOut) OnActivated(context.Context, ec.ID) lifecycle.ReturnCode {
	s.mu.Lock()
	s.next = s.params.Start
	s.mu.Unlock()
	return lifecycle.OK
}

func (s *SeqOut) OnExecute(ctx context.Context, _ ec.ID) lifecycle.ReturnCode {
	s.mu.Lock()
	v := s.next
	s.next += s.params.Step
	s.mu.Unlock()
	if err := s.out.Write(ctx, v); err != nil {
		return lifecycle.Error
	}
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return lifecycle.OK
}

// Written returns how many values were written.
func (s *SeqOut) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// SeqIn drains "in" on every execute and keeps what it received.
type SeqIn struct {
	rtc.NopLogic
	in *port.InPort[int64]

	mu       sync.Mutex
	received []int64
}

// NewSeqIn is the SeqIn factory.
func NewSeqIn(c *rtc.Component) (rtc.Logic, error) {
	s := &SeqIn{in: port.NewInPort[int64]("in", c.PortOptions()...)}
	if err := c.AddPort(context.Background(), s.in); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SeqIn) OnExecute(ctx context.Context, _ ec.ID) lifecycle.ReturnCode {
	for {
		v, ok, err := s.in.Read(ctx)
		if err != nil {
			return lifecycle.Error
		}
		if !ok {
			return lifecycle.OK
		}
		s.mu.Lock()
		s.received = append(s.received, v)
		s.mu.Unlock()
	}
}

// Received returns a copy of the values received so far.
func (s *SeqIn) Received() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.received...)
}
