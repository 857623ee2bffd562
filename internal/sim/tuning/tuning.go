package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chunkhost.ai/internal/sim/chunk"
	"chunkhost.ai/internal/sim/chunk/loader"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Loader  LoaderTuning  `yaml:"loader"`
	Tickets TicketTuning  `yaml:"tickets"`
	Origin  OriginTicket  `yaml:"origin_ticket"`
	Session SessionLimits `yaml:"session"`
}

type LoaderTuning struct {
	ExpirationDelay time.Duration `yaml:"expiration_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxSaveAttempts int           `yaml:"max_save_attempts"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	// LogLoadedEvents also writes the per-chunk "loaded" events to the event log.
	LogLoadedEvents bool `yaml:"log_loaded_events"`
}

type TicketTuning struct {
	// MaxRadius caps the Ticking radius accepted from admin and session holds.
	MaxRadius int `yaml:"max_radius"`
}

// OriginTicket is the ticket a world holds for its whole lifetime.
type OriginTicket struct {
	Enabled    bool        `yaml:"enabled"`
	Coordinate [3]int64    `yaml:"coordinate"`
	Level      chunk.Level `yaml:"level"`
	Radius     int         `yaml:"radius"`
}

type SessionLimits struct {
	HoldsPerSecond float64 `yaml:"holds_per_second"`
	HoldBurst      int     `yaml:"hold_burst"`
	MaxHolds       int     `yaml:"max_holds"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Loader: LoaderTuning{
			ExpirationDelay: 60 * time.Second,
			PollInterval:    time.Millisecond,
			MaxSaveAttempts: 3,
			MetricsInterval: 100 * time.Millisecond,
		},
		Tickets: TicketTuning{MaxRadius: 8},
		Origin: OriginTicket{
			Enabled: true,
			Level:   chunk.Ticking,
			Radius:  2,
		},
		Session: SessionLimits{
			HoldsPerSecond: 20,
			HoldBurst:      40,
			MaxHolds:       64,
		},
	}
}

// Load reads tuning.yaml over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.Loader.PollInterval <= 0 {
		t.Loader.PollInterval = d.Loader.PollInterval
	}
	if t.Loader.MaxSaveAttempts <= 0 {
		t.Loader.MaxSaveAttempts = d.Loader.MaxSaveAttempts
	}
	if t.Loader.MetricsInterval <= 0 {
		t.Loader.MetricsInterval = d.Loader.MetricsInterval
	}
	if t.Tickets.MaxRadius <= 0 {
		t.Tickets.MaxRadius = d.Tickets.MaxRadius
	}
	if t.Origin.Level == 0 {
		t.Origin.Level = d.Origin.Level
	}
	if t.Session.HoldsPerSecond <= 0 {
		t.Session.HoldsPerSecond = d.Session.HoldsPerSecond
	}
	if t.Session.HoldBurst <= 0 {
		t.Session.HoldBurst = d.Session.HoldBurst
	}
	if t.Session.MaxHolds <= 0 {
		t.Session.MaxHolds = d.Session.MaxHolds
	}
}

func (t Tuning) Validate() error {
	if t.Loader.ExpirationDelay < 0 {
		return fmt.Errorf("loader.expiration_delay must be >= 0")
	}
	if t.Tickets.MaxRadius > 64 {
		return fmt.Errorf("tickets.max_radius %d is too large (max 64)", t.Tickets.MaxRadius)
	}
	if t.Origin.Enabled {
		if err := t.Origin.ParameterizedLevel().Validate(); err != nil {
			return fmt.Errorf("origin_ticket: %w", err)
		}
		if t.Origin.Radius > t.Tickets.MaxRadius {
			return fmt.Errorf("origin_ticket.radius %d exceeds tickets.max_radius %d", t.Origin.Radius, t.Tickets.MaxRadius)
		}
	}
	return nil
}

func (t Tuning) LoaderConfig() loader.Config {
	return loader.Config{
		ExpirationDelay: t.Loader.ExpirationDelay,
		PollInterval:    t.Loader.PollInterval,
		MaxSaveAttempts: t.Loader.MaxSaveAttempts,
		MetricsInterval: t.Loader.MetricsInterval,
	}
}

func (o OriginTicket) ParameterizedLevel() chunk.ParameterizedLevel {
	if o.Level == chunk.Ticking {
		return chunk.TickingRadius(o.Radius)
	}
	return chunk.ParameterizedLevel{Level: o.Level, Radius: o.Radius}
}

func (o OriginTicket) Ticket() chunk.Ticket {
	return chunk.Ticket{
		Coordinate: chunk.C(o.Coordinate[0], o.Coordinate[1], o.Coordinate[2]),
		Level:      o.ParameterizedLevel(),
	}
}

// CheckRadius applies the ticket radius cap to an externally requested level.
func (t Tuning) CheckRadius(pl chunk.ParameterizedLevel) error {
	if pl.Radius > t.Tickets.MaxRadius {
		return fmt.Errorf("radius %d exceeds max %d", pl.Radius, t.Tickets.MaxRadius)
	}
	return nil
}
