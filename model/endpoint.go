package model

// Descriptor field defaults substituted when a field is absent.
const (
	DefaultNode             = "WishIHadAName"
	DefaultSensorCount      = "0"
	DefaultSensorNames      = "NULL"
	DefaultActuatorCount    = "0"
	DefaultActuatorNames    = "NULL"
	DefaultScanTime         = "0"
	DefaultTimeMemoryOffset = "-1"
	DefaultMemoryFormat     = "32_float"
	DefaultEndianness       = "Big,Big"
	DefaultPort             = "502"
	DefaultMultiPLC         = "NULL"
)

// EndpointDescriptor is the operating configuration of one PLC endpoint.
// An empty string means the field was absent from the descriptor set.
// Values are kept as strings because they travel verbatim on the wire.
type EndpointDescriptor struct {
	Node             string
	HostIP           string
	PlcIP            string
	SensorCount      string
	SensorNames      string
	ActuatorCount    string
	ActuatorNames    string
	ScanTime         string
	TimeMemoryOffset string
	MemoryFormat     string
	Endianness       string
	Port             string
	MultiPLC         string
}

// WithDefaults returns a copy with every absent optional field replaced by
// its default. HostIP and PlcIP have no default.
func (d EndpointDescriptor) WithDefaults() EndpointDescriptor {
	d.Node = orDefault(d.Node, DefaultNode)
	d.SensorCount = orDefault(d.SensorCount, DefaultSensorCount)
	d.SensorNames = orDefault(d.SensorNames, DefaultSensorNames)
	d.ActuatorCount = orDefault(d.ActuatorCount, DefaultActuatorCount)
	d.ActuatorNames = orDefault(d.ActuatorNames, DefaultActuatorNames)
	d.ScanTime = orDefault(d.ScanTime, DefaultScanTime)
	d.TimeMemoryOffset = orDefault(d.TimeMemoryOffset, DefaultTimeMemoryOffset)
	d.MemoryFormat = orDefault(d.MemoryFormat, DefaultMemoryFormat)
	d.Endianness = orDefault(d.Endianness, DefaultEndianness)
	d.Port = orDefault(d.Port, DefaultPort)
	d.MultiPLC = orDefault(d.MultiPLC, DefaultMultiPLC)
	return d
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SimulatorSpec names the simulation executable. The name "Simulink" (or an
// empty name) means the simulator is started by hand, outside the broker.
type SimulatorSpec struct {
	Executable string
}

// ExternalSimulatorName is the executable name reserved for an externally
// managed simulator.
const ExternalSimulatorName = "Simulink"

// External reports whether the simulator runs outside the broker.
func (s SimulatorSpec) External() bool {
	return s.Executable == "" || s.Executable == ExternalSimulatorName
}

// DescriptorSet is the static configuration loaded once at startup.
type DescriptorSet struct {
	Simulator SimulatorSpec
	Endpoints []EndpointDescriptor
}
