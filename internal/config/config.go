// Package config loads the job's credentials file.
//
// Settings are layered, lowest first: built-in defaults, the INI file,
// TG2FIBERY_* environment variables, and finally bound command-line flags.
// The merged result is checked against an embedded CUE schema before it is
// returned, so a Config that loads is safe to dial.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"github.com/roach88/tg2fibery/internal/fibery"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes environment overrides: TG2FIBERY_TELEGRAM_TOKEN
// overrides [telegram] token.
const EnvPrefix = "TG2FIBERY"

// DefaultPath is the credentials file used when none is given.
const DefaultPath = "secrets.ini"

// Setting keys, as "<section>.<key>".
const (
	KeyTelegramNetloc = "telegram.netloc"
	KeyTelegramToken  = "telegram.token"
	KeyFiberyNetloc   = "fibery.netloc"
	KeyFiberyToken    = "fibery.token"
	KeyFiberyType     = "fibery.type"
	KeySyncKeyField   = "fibery.sync_key_field"
	KeyDocumentField  = "fibery.document_field"
	KeySyncLimit      = "sync.limit"
	KeyLogLevel       = "log.level"
)

var requiredKeys = []string{
	KeyTelegramNetloc,
	KeyTelegramToken,
	KeyFiberyNetloc,
	KeyFiberyToken,
}

// Config is the validated job configuration.
type Config struct {
	// Path is the credentials file the config was read from.
	Path string

	SourceNetloc string
	SourceToken  string
	DestNetloc   string
	DestToken    string

	// FetchLimit bounds how many updates one run requests. Always >= 1.
	FetchLimit int

	Schema   fibery.Schema
	LogLevel slog.Level
}

type loadOptions struct {
	flags    *pflag.FlagSet
	bindings map[string]string
}

// Option customizes Load.
type Option func(*loadOptions)

// WithFlag binds the named flag of flags to key. The flag wins over every
// other layer, but only when set on the command line.
func WithFlag(flags *pflag.FlagSet, name, key string) Option {
	return func(o *loadOptions) {
		o.flags = flags
		if o.bindings == nil {
			o.bindings = make(map[string]string)
		}
		o.bindings[key] = name
	}
}

// Load reads, layers and validates the configuration at path.
//
// All failures are *Error values matching ErrInvalid.
func Load(path string, opts ...Option) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	file, err := readINI(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.MergeConfigMap(file.settings); err != nil {
		return nil, &Error{Code: ErrCodeParse, Key: path, Err: err}
	}
	for key, name := range o.bindings {
		flag := o.flags.Lookup(name)
		if flag == nil {
			return nil, fmt.Errorf("config: flag %q is not defined", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("config: bind flag %q: %w", name, err)
		}
	}

	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) != "" {
			continue
		}
		section := strings.SplitN(key, ".", 2)[0]
		if !file.sections[section] {
			return nil, &Error{Code: ErrCodeMissingSection, Key: section, Err: fmt.Errorf("section [%s] not found in %s", section, path)}
		}
		return nil, &Error{Code: ErrCodeMissingKey, Key: key, Err: fmt.Errorf("required in %s", path)}
	}

	limit, err := cast.ToIntE(v.Get(KeySyncLimit))
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Key: KeySyncLimit, Err: err}
	}

	settings := map[string]any{
		"telegram": map[string]any{
			"netloc": strings.TrimSpace(v.GetString(KeyTelegramNetloc)),
			"token":  strings.TrimSpace(v.GetString(KeyTelegramToken)),
		},
		"fibery": map[string]any{
			"netloc":         strings.TrimSpace(v.GetString(KeyFiberyNetloc)),
			"token":          strings.TrimSpace(v.GetString(KeyFiberyToken)),
			"type":           strings.TrimSpace(v.GetString(KeyFiberyType)),
			"sync_key_field": strings.TrimSpace(v.GetString(KeySyncKeyField)),
			"document_field": strings.TrimSpace(v.GetString(KeyDocumentField)),
		},
		"sync": map[string]any{"limit": limit},
		"log":  map[string]any{"level": strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))},
	}
	if err := validate(settings); err != nil {
		return nil, err
	}

	cfg := build(path, settings)
	if err := cfg.Schema.Validate(); err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Key: KeySyncKeyField, Err: err}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyFiberyType, fibery.DefaultEntityType)
	v.SetDefault(KeySyncKeyField, fibery.DefaultSyncKeyField)
	v.SetDefault(KeyDocumentField, fibery.DefaultDocumentField)
	v.SetDefault(KeySyncLimit, 1)
	v.SetDefault(KeyLogLevel, "info")
}

type iniFile struct {
	settings map[string]any
	sections map[string]bool
}

// readINI parses path into a nested section -> key -> value map.
// Key names are case-insensitive; section names are lowercased to match
// viper's key handling.
func readINI(path string) (*iniFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeMissingFile, Key: path, Err: err}
	}
	if info.IsDir() {
		return nil, &Error{Code: ErrCodeMissingFile, Key: path, Err: fmt.Errorf("is a directory")}
	}

	f, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		return nil, &Error{Code: ErrCodeParse, Key: path, Err: err}
	}

	out := &iniFile{
		settings: make(map[string]any),
		sections: make(map[string]bool),
	}
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		name := strings.ToLower(section.Name())
		values := make(map[string]any)
		for _, key := range section.Keys() {
			values[key.Name()] = key.Value()
		}
		out.settings[name] = values
		out.sections[name] = true
	}
	return out, nil
}

// validate unifies settings with the #Config definition.
func validate(settings map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(ctx.Encode(settings))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	key := ""
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		key = strings.Join(errs[0].Path(), ".")
	}
	return &Error{Code: ErrCodeInvalid, Key: key, Err: err}
}

func build(path string, settings map[string]any) *Config {
	tg := settings["telegram"].(map[string]any)
	fb := settings["fibery"].(map[string]any)

	var level slog.Level
	_ = level.UnmarshalText([]byte(settings["log"].(map[string]any)["level"].(string)))

	return &Config{
		Path:         path,
		SourceNetloc: strings.TrimRight(tg["netloc"].(string), "/"),
		SourceToken:  tg["token"].(string),
		DestNetloc:   strings.TrimRight(fb["netloc"].(string), "/"),
		DestToken:    fb["token"].(string),
		FetchLimit:   settings["sync"].(map[string]any)["limit"].(int),
		Schema: fibery.Schema{
			Type:          fb["type"].(string),
			SyncKeyField:  fb["sync_key_field"].(string),
			DocumentField: fb["document_field"].(string),
		}.WithDefaults(),
		LogLevel: level,
	}
}
