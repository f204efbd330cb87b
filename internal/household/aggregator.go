package household

import (
	"math"
	"sort"
	"sync"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

// Device roles.
const (
	RoleHouseNet  = "house-net"
	RoleSolar     = "solar"
	RoleWater     = "water"
	RoleAppliance = "appliance"
)

// Figure names.
const (
	FigureHomeUsage       = "home_usage"
	FigureFromGrid        = "from_grid"
	FigureToGrid          = "to_grid"
	FigureSolarGeneration = "solar_generation"

	FigureHomeUsageSummation       = "home_usage_summation"
	FigureFromGridSummation        = "from_grid_summation"
	FigureToGridSummation          = "to_grid_summation"
	FigureSolarGenerationSummation = "solar_generation_summation"
)

var productionFigures = map[string]bool{
	FigureToGrid:                   true,
	FigureSolarGeneration:          true,
	FigureToGridSummation:          true,
	FigureSolarGenerationSummation: true,
}

// IsProduction reports whether a figure is gated on solar.
func IsProduction(figure string) bool {
	return productionFigures[figure]
}

// Publisher is the bus surface the aggregator needs.
type Publisher interface {
	Publish(ev bus.Event)
}

// Logger is the logging surface the aggregator uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// counter tracks one device summation between readings.
type counter struct {
	valid     bool
	last      float64
	resetTime float64
}

// advance returns the change since the previous reading. The first
// reading and any counter reset only rebaseline.
func (c *counter) advance(value float64, resetTime float64, hasReset bool) (float64, bool) {
	if !c.valid || (hasReset && resetTime != c.resetTime) {
		c.valid = true
		c.last = value
		c.resetTime = resetTime
		return 0, false
	}
	delta := value - c.last
	c.last = value
	return delta, true
}

// Aggregator computes household figures.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Figures are published
//     after the internal lock is released.
type Aggregator struct {
	pub    Publisher
	logger Logger

	mu           sync.Mutex
	solarEnabled bool

	netWatts   float64
	haveNet    bool
	solarWatts float64
	haveSolar  bool

	netCounter   counter
	solarCounter counter
	fromGridJ    float64
	toGridJ      float64
	solarJ       float64

	figures map[string]float64
}

// New creates an Aggregator publishing to pub.
func New(pub Publisher, logger Logger) *Aggregator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Aggregator{
		pub:     pub,
		logger:  logger,
		figures: make(map[string]float64),
	}
}

// Subscribe enables solar figures when the bus announces solar.
func (a *Aggregator) Subscribe(b interface {
	Subscribe(bus.Topic, bus.Handler) bus.Token
}) bus.Token {
	return b.Subscribe(bus.TopicHaveSolar, func(bus.Event) { a.EnableSolar() })
}

// EnableSolar turns on production figures. Repeated calls are no-ops.
func (a *Aggregator) EnableSolar() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.solarEnabled {
		return
	}
	a.solarEnabled = true
	a.logger.Info("solar figures enabled")
}

// SolarEnabled reports whether production figures are published.
func (a *Aggregator) SolarEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.solarEnabled
}

// ProcessAveragePowerEvent consumes an average_power reading.
func (a *Aggregator) ProcessAveragePowerEvent(msg plug.Message) {
	role, _ := msg.Role()
	watts, ok := msg.Float("watts")
	if !ok {
		return
	}

	a.mu.Lock()
	switch role {
	case RoleHouseNet:
		a.netWatts, a.haveNet = watts, true
	case RoleSolar:
		// Inverter feeds read negative.
		a.solarWatts, a.haveSolar = math.Abs(watts), true
	default:
		a.mu.Unlock()
		return
	}
	if !a.haveNet {
		a.mu.Unlock()
		return
	}

	out := []figure{
		{FigureHomeUsage, "watts", math.Max(a.netWatts+a.solarWatts, 0)},
		{FigureFromGrid, "watts", math.Max(a.netWatts, 0)},
		{FigureToGrid, "watts", math.Max(-a.netWatts, 0)},
		{FigureSolarGeneration, "watts", a.solarWatts},
	}
	out = a.recordLocked(out)
	a.mu.Unlock()

	a.publish(out)
}

// ProcessSummationEvent consumes a summation_energy reading.
func (a *Aggregator) ProcessSummationEvent(msg plug.Message) {
	role, _ := msg.Role()
	joules, ok := msg.Float("summation_joules")
	if !ok {
		return
	}
	resetTime, hasReset := msg.Float("summation_resettime_utc")

	a.mu.Lock()
	switch role {
	case RoleHouseNet:
		delta, ok := a.netCounter.advance(joules, resetTime, hasReset)
		if ok {
			if delta >= 0 {
				a.fromGridJ += delta
			} else {
				a.toGridJ += -delta
			}
		}
	case RoleSolar:
		magnitude := math.Abs(joules)
		if a.solarCounter.valid && magnitude < a.solarCounter.last {
			// A shrinking generation counter can only be a reset.
			a.solarCounter.valid = false
		}
		if delta, ok := a.solarCounter.advance(magnitude, resetTime, hasReset); ok {
			a.solarJ += delta
		}
	default:
		a.mu.Unlock()
		return
	}
	if !a.netCounter.valid {
		a.mu.Unlock()
		return
	}

	out := []figure{
		{FigureHomeUsageSummation, "summation_joules", math.Max(a.fromGridJ-a.toGridJ+a.solarJ, 0)},
		{FigureFromGridSummation, "summation_joules", a.fromGridJ},
		{FigureToGridSummation, "summation_joules", a.toGridJ},
		{FigureSolarGenerationSummation, "summation_joules", a.solarJ},
	}
	out = a.recordLocked(out)
	a.mu.Unlock()

	a.publish(out)
}

type figure struct {
	name  string
	field string
	value float64
}

// recordLocked stores figures and drops the production ones while solar
// is disabled.
func (a *Aggregator) recordLocked(in []figure) []figure {
	out := in[:0]
	for _, f := range in {
		if productionFigures[f.name] && !a.solarEnabled {
			continue
		}
		a.figures[f.name] = f.value
		out = append(out, f)
	}
	return out
}

func (a *Aggregator) publish(figs []figure) {
	if a.pub == nil {
		return
	}
	for _, f := range figs {
		a.pub.Publish(bus.Event{
			Topic:   bus.TopicHousehold,
			Key:     bus.Key{Event: f.name},
			Payload: plug.Message{f.field: f.value},
		})
	}
}

// Figures returns the latest value of every published figure.
func (a *Aggregator) Figures() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.figures))
	for k, v := range a.figures {
		out[k] = v
	}
	return out
}

// FigureNames returns the names of the figures currently published.
func (a *Aggregator) FigureNames() []string {
	figs := a.Figures()
	names := make([]string, 0, len(figs))
	for name := range figs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
