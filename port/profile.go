package port

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Kind tells input ports from output ports.
type Kind string

const (
	KindIn  Kind = "DataInPort"
	KindOut Kind = "DataOutPort"
)

// Subscription is the data-delivery policy of a connector.
type Subscription string

const (
	// SubscriptionFlush hands each value over synchronously: the writer
	// blocks until every connected reader has taken it.
	SubscriptionFlush Subscription = "flush"
	// SubscriptionNew pushes each value asynchronously into the reader's
	// bounded buffer, overwriting the oldest entry when it is full.
	SubscriptionNew Subscription = "new"
	// SubscriptionPeriodic keeps values on the writer side until the reader
	// pulls them during its read step.
	SubscriptionPeriodic Subscription = "periodic"
)

// Connector property keys.
const (
	PropSubscription = "dataport.subscription_type"
	PropBufferLength = "dataport.buffer.length"
	// PropOutPort is filled in by the initiating port with the reference of
	// the connector's single output port.
	PropOutPort = "dataport.outport.ref"
)

// DefaultBufferLength is the connector buffer capacity when none is configured.
const DefaultBufferLength = 8

// ParseSubscription validates a subscription type. The empty string means flush.
// Combined forms such as "periodic+new" are rejected.
func ParseSubscription(s string) (Subscription, error) {
	switch sub := Subscription(strings.ToLower(strings.TrimSpace(s))); sub {
	case "":
		return SubscriptionFlush, nil
	case SubscriptionFlush, SubscriptionNew, SubscriptionPeriodic:
		return sub, nil
	default:
		return "", rterr.BadParameter("connect", PropSubscription, "unsupported subscription type %q", s)
	}
}

// ConnectorProfile describes one connector. Every port named in Ports holds
// an identical copy keyed by ID.
type ConnectorProfile struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Ports      []rpc.Ref         `json:"ports" yaml:"ports"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Property returns the value of key, or def when it is unset.
func (cp ConnectorProfile) Property(key, def string) string {
	if v, ok := cp.Properties[key]; ok {
		return v
	}
	return def
}

// Subscription returns the validated subscription type.
func (cp ConnectorProfile) Subscription() (Subscription, error) {
	return ParseSubscription(cp.Property(PropSubscription, ""))
}

// BufferLength returns the configured buffer capacity.
func (cp ConnectorProfile) BufferLength() (int, error) {
	raw := cp.Property(PropBufferLength, "")
	if raw == "" {
		return DefaultBufferLength, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, rterr.BadParameter("connect", PropBufferLength, "buffer length must be a positive integer, got %q", raw)
	}
	return n, nil
}

// Includes reports whether ref is one of the connector's ports.
func (cp ConnectorProfile) Includes(ref rpc.Ref) bool {
	return slices.Contains(cp.Ports, ref)
}

// Peers returns every port of the connector except self, in order.
func (cp ConnectorProfile) Peers(self rpc.Ref) []rpc.Ref {
	peers := make([]rpc.Ref, 0, len(cp.Ports))
	for _, ref := range cp.Ports {
		if ref != self && !slices.Contains(peers, ref) {
			peers = append(peers, ref)
		}
	}
	return peers
}

// Clone returns a deep copy.
func (cp ConnectorProfile) Clone() ConnectorProfile {
	cp.Ports = slices.Clone(cp.Ports)
	cp.Properties = maps.Clone(cp.Properties)
	return cp
}

// withDefaults fills properties missing from cp with defaults.
func (cp ConnectorProfile) withDefaults(defaults map[string]string) ConnectorProfile {
	cp = cp.Clone()
	for k, v := range defaults {
		if _, ok := cp.Properties[k]; ok {
			continue
		}
		if cp.Properties == nil {
			cp.Properties = make(map[string]string)
		}
		cp.Properties[k] = v
	}
	return cp
}

// Profile describes a port.
type Profile struct {
	Name       string             `json:"name" yaml:"name"`
	Owner      string             `json:"owner" yaml:"owner"`
	Kind       Kind               `json:"kind" yaml:"kind"`
	DataType   string             `json:"dataType" yaml:"data_type"`
	Ref        rpc.Ref            `json:"ref" yaml:"ref"`
	Properties map[string]string  `json:"properties,omitempty" yaml:"properties,omitempty"`
	Connectors []ConnectorProfile `json:"connectors" yaml:"connectors"`
}

// Connector returns the connector profile with the given id.
func (p Profile) Connector(id string) (ConnectorProfile, bool) {
	i := slices.IndexFunc(p.Connectors, func(cp ConnectorProfile) bool { return cp.ID == id })
	if i < 0 {
		return ConnectorProfile{}, false
	}
	return p.Connectors[i], true
}
