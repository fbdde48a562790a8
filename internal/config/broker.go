package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/discovery"
	"github.com/signalsfoundry/ot-databroker/internal/telemetry"
)

// Broker is the command-line configuration of cmd/databroker.
type Broker struct {
	DescriptorPath string
	Role           discovery.Role

	IngressAddr   string
	DiscoveryAddr string
	DiscoveryPort int
	TelemetryAddr string
	AdminAddr     string
	GRPCAddr      string
	MQTTBroker    string
	MQTTTopic     string

	Accelerated        bool
	IngressRecvTimeout time.Duration
	DiscoveryTimeout   time.Duration
	StopGrace          time.Duration
}

// Default returns the configuration matching the simulator adapter and the
// endpoint emulators.
func Default() Broker {
	return Broker{
		DescriptorPath: "input.json",
		Role:           discovery.RolePush,
		IngressAddr:    "tcp://0.0.0.0:5555",
		DiscoveryAddr:  "tcp://0.0.0.0:6666",
		DiscoveryPort:  6666,
		TelemetryAddr:  telemetry.DefaultAddr,
		AdminAddr:      ":9090",
		GRPCAddr:       ":50051",
		MQTTTopic:      "databroker/telemetry",
		StopGrace:      time.Second,
	}
}

// Parse reads args into a Broker starting from Default.
func Parse(fs *flag.FlagSet, args []string) (Broker, error) {
	cfg := Default()
	role := string(cfg.Role)

	fs.StringVar(&cfg.DescriptorPath, "config", cfg.DescriptorPath, "Descriptor file (JSON, or YAML by .yaml/.yml extension)")
	fs.StringVar(&role, "role", role, "Discovery role: push (send each descriptor once) or registrar (answer registrations)")
	fs.StringVar(&cfg.IngressAddr, "ingress-addr", cfg.IngressAddr, "Address the PLC update PULL socket listens on")
	fs.StringVar(&cfg.DiscoveryAddr, "discovery-addr", cfg.DiscoveryAddr, "Address the registrar listens on")
	fs.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "Port the pusher dials on each endpoint host")
	fs.StringVar(&cfg.TelemetryAddr, "telemetry-addr", cfg.TelemetryAddr, "UDP destination for per-step telemetry")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", cfg.AdminAddr, "HTTP address for /metrics and the admin API (empty disables)")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address of the gRPC health service (empty disables)")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL to mirror telemetry to, e.g. tcp://localhost:1883")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for mirrored telemetry")
	fs.BoolVar(&cfg.Accelerated, "accelerated", cfg.Accelerated, "Step as fast as the simulator allows instead of in real time")
	fs.DurationVar(&cfg.IngressRecvTimeout, "ingress-recv-timeout", cfg.IngressRecvTimeout, "Receive timeout for PLC updates and registrations; 0 blocks")
	fs.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", cfg.DiscoveryTimeout, "How long the pusher waits for each acknowledgement; 0 waits forever")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Time the simulator gets to exit after stop before SIGTERM")

	if err := fs.Parse(args); err != nil {
		return Broker{}, err
	}
	r, err := discovery.ParseRole(role)
	if err != nil {
		return Broker{}, err
	}
	cfg.Role = r
	if err := cfg.Validate(); err != nil {
		return Broker{}, err
	}
	return cfg, nil
}

// Validate checks values flag parsing cannot.
func (b Broker) Validate() error {
	var errs []error
	if b.DescriptorPath == "" {
		errs = append(errs, errors.New("-config is required"))
	}
	if !strings.Contains(b.IngressAddr, "://") {
		errs = append(errs, fmt.Errorf("-ingress-addr %q needs a scheme such as tcp://", b.IngressAddr))
	}
	if b.Role == discovery.RoleRegistrar && !strings.Contains(b.DiscoveryAddr, "://") {
		errs = append(errs, fmt.Errorf("-discovery-addr %q needs a scheme such as tcp://", b.DiscoveryAddr))
	}
	if b.DiscoveryPort <= 0 || b.DiscoveryPort > 65535 {
		errs = append(errs, fmt.Errorf("-discovery-port %d out of range", b.DiscoveryPort))
	}
	if b.TelemetryAddr == "" {
		errs = append(errs, errors.New("-telemetry-addr is required"))
	}
	if b.MQTTBroker != "" && b.MQTTTopic == "" {
		errs = append(errs, errors.New("-mqtt-topic is required with -mqtt-broker"))
	}
	for name, d := range map[string]time.Duration{
		"-ingress-recv-timeout": b.IngressRecvTimeout,
		"-discovery-timeout":    b.DiscoveryTimeout,
		"-stop-grace":           b.StopGrace,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
