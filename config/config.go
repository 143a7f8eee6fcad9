// Package config loads the pool manager's properties-file
// configuration (§6): one process-wide section plus a set of
// per-pool sections prefixed by the pool's name.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"github.com/rs/zerolog"

	"github.com/gwinstanley/dbpool/pool"
)

// PoolConfig is one `<name>.*` section of the properties file.
type PoolConfig struct {
	Name     string
	URL      string
	User     string
	Password string

	MinPool, MaxPool, MaxSize int
	IdleTimeout               time.Duration

	Validator       string
	ValidationQuery string
	Decoder         string

	Cache                   bool
	Access                  pool.Strategy
	Async                   bool
	RecycleAfterDelegateUse bool
	MBean                   bool

	// DriverProps holds `<name>.prop.<key>=<value>` pass-through
	// entries forwarded verbatim to the underlying driver.
	DriverProps map[string]string
	Listeners   []string
}

// Config is the top-level parsed properties file.
type Config struct {
	Name       string
	Drivers    []string
	DateFormat string
	LogFile    string
	Pools      map[string]*PoolConfig
}

// legacyAliases maps a deprecated key to the canonical key that
// replaced it (§6 Open Question: legacy key resolution).
var legacyAliases = map[string]string{
	"maxconn":  "maxsize",
	"expiry":   "idletimeout",
	"poolsize": "maxpool",
}

// Load reads and parses a properties file from disk.
func Load(path string, log zerolog.Logger) (*Config, error) {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return fromProperties(props, log)
}

// LoadString parses properties content already held in memory, used
// by tests and by callers embedding their configuration.
func LoadString(data string, log zerolog.Logger) (*Config, error) {
	props, err := properties.LoadString(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return fromProperties(props, log)
}

func fromProperties(props *properties.Properties, log zerolog.Logger) (*Config, error) {
	cfg := &Config{
		Name:       props.GetString("name", ""),
		DateFormat: props.GetString("dateformat", ""),
		LogFile:    props.GetString("logfile", ""),
		Pools:      make(map[string]*PoolConfig),
	}
	if drivers := props.GetString("drivers", ""); drivers != "" {
		cfg.Drivers = splitCSV(drivers)
	}

	names := poolNames(props)
	for name := range names {
		pc, err := parsePool(props, name, log)
		if err != nil {
			return nil, err
		}
		cfg.Pools[name] = pc
	}
	return cfg, nil
}

// poolNames discovers pool sections from any dotted key whose first
// segment isn't one of the known process-wide keys.
func poolNames(props *properties.Properties) map[string]struct{} {
	reserved := map[string]struct{}{
		"name": {}, "dateformat": {}, "logfile": {}, "drivers": {},
	}
	names := make(map[string]struct{})
	for _, key := range props.Keys() {
		idx := strings.IndexByte(key, '.')
		if idx <= 0 {
			continue
		}
		name := key[:idx]
		if _, skip := reserved[name]; skip {
			continue
		}
		names[name] = struct{}{}
	}
	return names
}

func parsePool(props *properties.Properties, name string, log zerolog.Logger) (*PoolConfig, error) {
	prefix := name + "."
	get := func(suffix string) (string, bool) { return props.Get(prefix + suffix) }

	resolveInt := func(canonical, legacy string, def int) (int, error) {
		v, ok := get(canonical)
		if !ok && legacy != "" {
			if lv, lok := get(legacy); lok {
				log.Warn().Str("pool", name).Str("key", legacy).Str("use", canonical).
					Msg("deprecated config key")
				v, ok = lv, true
			}
		}
		if !ok {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s.%s=%q is not an integer", pool.ErrConfigInvalid, name, canonical, v)
		}
		return n, nil
	}

	minPool, err := resolveInt("minpool", "", 0)
	if err != nil {
		return nil, err
	}
	maxPool, err := resolveInt("maxpool", legacyAliases["poolsize"], 0)
	if err != nil {
		return nil, err
	}
	maxSize, err := resolveInt("maxsize", legacyAliases["maxconn"], 0)
	if err != nil {
		return nil, err
	}
	idleSeconds, err := resolveInt("idletimeout", legacyAliases["expiry"], 0)
	if err != nil {
		return nil, err
	}

	if minPool < 0 || maxPool < 0 || maxSize < 0 {
		return nil, fmt.Errorf("%w: %s has a negative size", pool.ErrConfigInvalid, name)
	}
	if minPool > maxPool {
		return nil, fmt.Errorf("%w: %s.minpool > maxpool", pool.ErrConfigInvalid, name)
	}
	// §6 Open Question: maxsize below maxpool is raised to meet it
	// rather than rejected, since maxpool resources can legitimately
	// all be in use simultaneously.
	if maxSize > 0 && maxSize < maxPool {
		maxSize = maxPool
	}

	url, ok := get("url")
	if !ok || url == "" {
		return nil, fmt.Errorf("%w: %s.url is required", pool.ErrConfigInvalid, name)
	}

	strategy := pool.LIFO
	if acc, ok := get("access"); ok {
		switch strings.ToUpper(strings.TrimSpace(acc)) {
		case "FIFO":
			strategy = pool.FIFO
		case "RANDOM":
			strategy = pool.Random
		default:
			strategy = pool.LIFO
		}
	}

	user, _ := get("user")
	pw, _ := get("password")
	validator, _ := get("validator")
	vq, _ := get("validationquery")
	decoder, _ := get("decoder")

	// §6 offers two listener forms: a CSV `listeners` key and a set of
	// numbered `listenerN` keys. Both are accepted; numbered entries
	// are appended in ascending N order after the CSV ones, and the
	// combined list is deduplicated.
	var listeners []string
	if ls, ok := get("listeners"); ok && ls != "" {
		listeners = splitCSV(ls)
	}
	listeners = dedupeStrings(append(listeners, numberedListeners(props, prefix)...))

	return &PoolConfig{
		Name:                    name,
		URL:                     url,
		User:                    user,
		Password:                pw,
		MinPool:                 minPool,
		MaxPool:                 maxPool,
		MaxSize:                 maxSize,
		IdleTimeout:             time.Duration(idleSeconds) * time.Second,
		Validator:               validator,
		ValidationQuery:         vq,
		Decoder:                 decoder,
		Cache:                   boolOr(props, prefix+"cache", true),
		Access:                  strategy,
		Async:                   boolOr(props, prefix+"async", false),
		RecycleAfterDelegateUse: boolOr(props, prefix+"recycleafterdelegateuse", false),
		MBean:                   boolOr(props, prefix+"mbean", false),
		DriverProps:             driverProps(props, prefix),
		Listeners:               listeners,
	}, nil
}

// numberedListeners collects `<prefix>listenerN=<name>` entries in
// ascending N order. `<prefix>listeners` (the CSV form) is handled
// separately by the caller.
func numberedListeners(props *properties.Properties, prefix string) []string {
	const marker = "listener"
	type indexed struct {
		n    int
		name string
	}
	var found []indexed
	for _, key := range props.Keys() {
		suffix := strings.TrimPrefix(key, prefix+marker)
		if suffix == key || suffix == "" || suffix == "s" {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		found = append(found, indexed{n: n, name: props.MustGet(key)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.name)
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func driverProps(props *properties.Properties, prefix string) map[string]string {
	const marker = "prop."
	out := make(map[string]string)
	for _, key := range props.Keys() {
		if strings.HasPrefix(key, prefix+marker) {
			out[strings.TrimPrefix(key, prefix+marker)] = props.MustGet(key)
		}
	}
	return out
}

func boolOr(props *properties.Properties, key string, def bool) bool {
	v, ok := props.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
