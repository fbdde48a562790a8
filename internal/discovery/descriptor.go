// Package discovery hands endpoint descriptors to PLC endpoint emulators,
// either by answering their registrations or by pushing to each host once.
package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/ot-databroker/model"
)

var (
	// ErrMissingAddress is returned for a descriptor without IP_PLC or IP_Host.
	ErrMissingAddress = errors.New("descriptor needs both IP_PLC and IP_Host")
	// ErrMalformedRegistration is returned for a registration that is not
	// "<tag>:<source_ip>".
	ErrMalformedRegistration = errors.New("malformed registration")
	// ErrMalformedDescriptor is returned by Decode.
	ErrMalformedDescriptor = errors.New("malformed descriptor message")
)

// descriptorFields is the number of colon-terminated fields on the wire.
const descriptorFields = 12

// Encode renders the wire form of d with defaults substituted:
//
//	node:plc_ip:sensor_count:sensor_names:actuator_count:actuator_names:
//	scan_time:time_memory_offset:memory_format:endianness:port:multi_plc:
func Encode(d model.EndpointDescriptor) (string, error) {
	if d.HostIP == "" || d.PlcIP == "" {
		return "", fmt.Errorf("%w (node %q)", ErrMissingAddress, d.Node)
	}
	d = d.WithDefaults()
	fields := [descriptorFields]string{
		d.Node, d.PlcIP,
		d.SensorCount, d.SensorNames,
		d.ActuatorCount, d.ActuatorNames,
		d.ScanTime, d.TimeMemoryOffset, d.MemoryFormat, d.Endianness,
		d.Port, d.MultiPLC,
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(':')
	}
	return b.String(), nil
}

// Decode parses a descriptor message as an endpoint receives it. HostIP is
// not carried on the wire and stays empty.
func Decode(msg string) (model.EndpointDescriptor, error) {
	msg = strings.TrimRight(msg, "\x00")
	parts := strings.Split(msg, ":")
	if len(parts) != descriptorFields+1 || parts[descriptorFields] != "" {
		return model.EndpointDescriptor{}, fmt.Errorf("%w: %d fields", ErrMalformedDescriptor, len(parts)-1)
	}
	return model.EndpointDescriptor{
		Node:             parts[0],
		PlcIP:            parts[1],
		SensorCount:      parts[2],
		SensorNames:      parts[3],
		ActuatorCount:    parts[4],
		ActuatorNames:    parts[5],
		ScanTime:         parts[6],
		TimeMemoryOffset: parts[7],
		MemoryFormat:     parts[8],
		Endianness:       parts[9],
		Port:             parts[10],
		MultiPLC:         parts[11],
	}, nil
}

// RegistrationMessage is what an endpoint sends to the registrar.
func RegistrationMessage(tag, sourceIP string) []byte {
	return []byte(tag + ":" + sourceIP)
}

// ParseRegistration splits "<tag>:<source_ip>", skipping empty fields.
func ParseRegistration(msg []byte) (tag, sourceIP string, err error) {
	fields := strings.FieldsFunc(strings.TrimRight(string(msg), "\x00"), func(r rune) bool { return r == ':' })
	if len(fields) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedRegistration, msg)
	}
	return fields[0], fields[1], nil
}

// Role selects how descriptors reach endpoints.
type Role string

const (
	// RolePush sends each descriptor to its host once, before the session.
	RolePush Role = "push"
	// RoleRegistrar answers endpoint registrations for the whole session.
	RoleRegistrar Role = "registrar"
)

// ParseRole accepts "push" or "registrar".
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePush:
		return RolePush, nil
	case RoleRegistrar:
		return RoleRegistrar, nil
	default:
		return "", fmt.Errorf("unknown discovery role %q (want push or registrar)", s)
	}
}
