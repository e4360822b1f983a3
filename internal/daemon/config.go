// Package daemon wires the four coding roles, the netlink transport,
// the neighborhood database, and a housekeeping loop into one running
// process, and exposes the CLI flags that configure them. Grounded on
// the reference design's fox.cpp: every DEFINE_* flag there has a
// field here, parsed with the standard library's flag package since
// nothing in the example pack pulls in a third-party flag library (the
// reference design's own gflags has no idiomatic Go counterpart worth
// reaching for over flag.FlagSet for a single-binary daemon).
package daemon

import (
	"flag"
	"fmt"
	"time"
)

// Config is rlncd's full set of command-line knobs, one field per
// fox.cpp DEFINE_* flag plus the few Go-native additions (link-derived
// errors, counters path) called out in the flags below.
type Config struct {
	Device string

	GenerationSize int
	PacketSize     int

	PacketTimeout  float64
	EncoderTimeout float64
	DecoderTimeout float64
	RecoderTimeout float64
	HelperTimeout  float64

	FixedOvershoot float64
	Encoders       int

	E1, E2, E3        int
	LinkDerivedErrors bool

	AckInterval      int
	HelperThreshold  float64
	Systematic       bool
	EncoderThreshold float64

	Debug        bool
	LogFile      string
	CountersPath string
	Benchmark    bool
}

// DefaultConfig mirrors every DEFINE_* default in fox.cpp.
func DefaultConfig() Config {
	return Config{
		Device:            "bat0",
		GenerationSize:    64,
		PacketSize:        1454,
		PacketTimeout:     .3,
		EncoderTimeout:    1,
		DecoderTimeout:    2,
		RecoderTimeout:    2,
		HelperTimeout:     1,
		FixedOvershoot:    1.06,
		Encoders:          2,
		E1:                10,
		E2:                10,
		E3:                30,
		LinkDerivedErrors: false,
		AckInterval:       3,
		HelperThreshold:   1.0,
		Systematic:        true,
		EncoderThreshold:  0.1,
		Debug:             false,
		LogFile:           "rlncd",
		CountersPath:      "",
		Benchmark:         false,
	}
}

// ParseFlags builds a FlagSet seeded with DefaultConfig's values and
// parses args into it, returning the resulting Config.
func ParseFlags(name string, args []string) (Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.Device, "device", cfg.Device, "Virtual interface from batman-adv")
	fs.IntVar(&cfg.GenerationSize, "generation_size", cfg.GenerationSize, "The generation size, the number of packets which are coded together")
	fs.IntVar(&cfg.PacketSize, "packet_size", cfg.PacketSize, "The payload size without RLNC overhead")
	fs.Float64Var(&cfg.PacketTimeout, "packet_timeout", cfg.PacketTimeout, "The number of averaged inter-packet arrival times to wait for more data")
	fs.Float64Var(&cfg.EncoderTimeout, "encoder_timeout", cfg.EncoderTimeout, "Time to wait for more packets before dropping an encoder generation")
	fs.Float64Var(&cfg.DecoderTimeout, "decoder_timeout", cfg.DecoderTimeout, "Time to wait for more packets before dropping a decoder generation")
	fs.Float64Var(&cfg.RecoderTimeout, "recoder_timeout", cfg.RecoderTimeout, "Time to wait for more packets before dropping a recoder generation")
	fs.Float64Var(&cfg.HelperTimeout, "helper_timeout", cfg.HelperTimeout, "Time to wait for more packets before dropping a helper generation")
	fs.Float64Var(&cfg.FixedOvershoot, "fixed_overshoot", cfg.FixedOvershoot, "Fixed factor to increase encoder/recoder budgets")
	fs.IntVar(&cfg.Encoders, "encoders", cfg.Encoders, "Number of concurrent encoders")
	fs.IntVar(&cfg.E1, "e1", cfg.E1, "Error probability from source to helper in percentage")
	fs.IntVar(&cfg.E2, "e2", cfg.E2, "Error probability from helper to dest in percentage")
	fs.IntVar(&cfg.E3, "e3", cfg.E3, "Error probability from source to dest in percentage")
	fs.BoolVar(&cfg.LinkDerivedErrors, "link_derived_errors", cfg.LinkDerivedErrors, "Derive e1/e2/e3 from observed link quality instead of the fixed --e1/--e2/--e3 percentages")
	fs.IntVar(&cfg.AckInterval, "ack_interval", cfg.AckInterval, "Number of redundant packets to receive before repeating an ACK packet")
	fs.Float64Var(&cfg.HelperThreshold, "helper_threshold", cfg.HelperThreshold, "Ratio to multiply with the helper rank threshold")
	fs.BoolVar(&cfg.Systematic, "systematic", cfg.Systematic, "Use systematic packets when encoding packets")
	fs.Float64Var(&cfg.EncoderThreshold, "encoder_threshold", cfg.EncoderThreshold, "Threshold ratio to start sending mid-stream credits")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug-level logging")
	fs.StringVar(&cfg.LogFile, "log_file", cfg.LogFile, "Base name for the log file")
	fs.StringVar(&cfg.CountersPath, "counters_path", cfg.CountersPath, "Override path for the shared-memory counters segment (default: counterstore.DefaultPath)")
	fs.BoolVar(&cfg.Benchmark, "benchmark", cfg.Benchmark, "Bypass RLNC coding entirely and echo every received frame straight back as a plain packet")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("daemon: parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the one invariant fox.cpp's main() checks before
// doing anything else: the coded payload must fit the interface's MTU.
func (c Config) Validate() error {
	if c.GenerationSize <= 0 {
		return fmt.Errorf("daemon: generation_size must be positive, got %d", c.GenerationSize)
	}
	if c.PacketSize <= 0 {
		return fmt.Errorf("daemon: packet_size must be positive, got %d", c.PacketSize)
	}
	if c.GenerationSize+c.PacketSize > maxPayload {
		return fmt.Errorf("daemon: payload size exceeds MTU: %d > %d (try a smaller --packet_size)",
			c.GenerationSize+c.PacketSize, maxPayload)
	}
	return nil
}

// maxPayload mirrors fox.cpp's RLNC_MAX_PAYLOAD bound check.
const maxPayload = 1518

func (c Config) encoderDuration() time.Duration { return toDuration(c.EncoderTimeout) }
func (c Config) decoderDuration() time.Duration { return toDuration(c.DecoderTimeout) }
func (c Config) recoderDuration() time.Duration { return toDuration(c.RecoderTimeout) }
func (c Config) helperDuration() time.Duration  { return toDuration(c.HelperTimeout) }
func (c Config) packetDuration() time.Duration  { return toDuration(c.PacketTimeout) }

func toDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
