// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package environment

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// setting binds a key to a field of Environment.
type setting struct {
	key, kind, usage string
	// ptr returns a pointer to the field, used to json.Unmarshal the value.
	ptr func(env *Environment) any
	get func(env *Environment) string
}

func boolSetting(key, usage string, field func(env *Environment) *bool) setting {
	return setting{key: key, kind: "bool", usage: usage,
		ptr: func(env *Environment) any { return field(env) },
		get: func(env *Environment) string { return strconv.FormatBool(*field(env)) }}
}

func intSetting(key, usage string, field func(env *Environment) *int) setting {
	return setting{key: key, kind: "int", usage: usage,
		ptr: func(env *Environment) any { return field(env) },
		get: func(env *Environment) string { return strconv.Itoa(*field(env)) }}
}

func int64Setting(key, usage string, field func(env *Environment) *int64) setting {
	return setting{key: key, kind: "int64", usage: usage,
		ptr: func(env *Environment) any { return field(env) },
		get: func(env *Environment) string { return strconv.FormatInt(*field(env), 10) }}
}

func stringSetting(key, usage string, field func(env *Environment) *string) setting {
	return setting{key: key, kind: "string", usage: usage,
		ptr: func(env *Environment) any { return field(env) },
		get: func(env *Environment) string { return *field(env) }}
}

var allSettings = []setting{
	boolSetting("verbose", "log the engine lifecycle",
		func(env *Environment) *bool { return &env.Verbose }),
	boolSetting("debug", "log every execution",
		func(env *Environment) *bool { return &env.Debug }),
	boolSetting("detect_leaks", "track allocation stack traces and fail shutdown on leaks",
		func(env *Environment) *bool { return &env.DetectLeaks }),
	intSetting("max_threads", "maximum parallel workers: 0 disables parallelism, -1 is unlimited",
		func(env *Environment) *int { return &env.MaxThreads }),
	intSetting("elementwise_threshold", "minimum number of elements per parallel partition",
		func(env *Environment) *int { return &env.ElementwiseThreshold }),
	int64Setting("max_host_memory", "limit of live host bytes, -1 is unlimited",
		func(env *Environment) *int64 { return &env.MaxHostMemory }),
	int64Setting("max_device_memory", "limit of live device bytes, -1 is unlimited",
		func(env *Environment) *int64 { return &env.MaxDeviceMemory }),
	stringSetting("device", "device whose capabilities are probed",
		func(env *Environment) *string { return &env.Device }),
}

func findSetting(key string) (setting, bool) {
	for _, s := range allSettings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// Parse applies settings to env, and returns the keys set, in order (a key set more than once is
// repeated).
//
// The settings are a list separated by ";": "key1=value1;key2=value2;...". Keys must be one of Keys().
// Values are parsed according to the type of the setting. For integers, "_" can be used as a
// separator (like in Go: 1_000_000). Strings are taken verbatim.
//
// An entry "file:<path>" reads settings from the file at path ("~" is expanded to the home
// directory). In the file, new lines also separate settings and lines starting with "#" are comments.
//
// On error, env may have been partially updated.
func (env *Environment) Parse(settings string) (keysSet []string, err error) {
	for _, entry := range strings.Split(settings, ";") {
		keysSet, err = env.parseEntry(entry, keysSet)
		if err != nil {
			return
		}
	}
	if err = env.Validate(); err != nil {
		err = errors.WithMessagef(err, "after parsing settings %q", settings)
	}
	return
}

func (env *Environment) parseEntry(entry string, keysSet []string) ([]string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return keysSet, nil
	}
	if filePath, found := strings.CutPrefix(entry, "file:"); found {
		return env.parseFile(filePath, keysSet)
	}

	key, valueStr, found := strings.Cut(entry, "=")
	if !found {
		return keysSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<key>=<value>\"", entry)
	}
	key, valueStr = strings.TrimSpace(key), strings.TrimSpace(valueStr)
	s, found := findSetting(key)
	if !found {
		return keysSet, errors.Errorf("unknown setting %q, valid settings are %q", key, Keys())
	}
	var err error
	switch s.kind {
	case "string":
		*(s.ptr(env).(*string)) = valueStr
	case "int", "int64":
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), s.ptr(env))
	default:
		err = json.Unmarshal([]byte(valueStr), s.ptr(env))
	}
	if err != nil {
		return keysSet, errors.Wrapf(err, "failed to parse value %q for setting %q (%s)", valueStr, key, s.kind)
	}
	return append(keysSet, key), nil
}

func (env *Environment) parseFile(filePath string, keysSet []string) ([]string, error) {
	filePath, err := expandHome(filePath)
	if err != nil {
		return keysSet, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return keysSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, entry := range strings.Split(line, ";") {
			keysSet, err = env.parseEntry(entry, keysSet)
			if err != nil {
				return keysSet, errors.WithMessagef(err, "in settings file %q", filePath)
			}
		}
	}
	return keysSet, nil
}

// expandHome replaces a leading "~" by the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand home directory in %q", path)
	}
	return filepath.Join(home, path[1:]), nil
}

// Validate checks that the values are in range.
func (env *Environment) Validate() error {
	if env.MaxThreads < Unlimited {
		return errors.Errorf("max_threads must be >= -1, got %d", env.MaxThreads)
	}
	if env.ElementwiseThreshold < 1 {
		return errors.Errorf("elementwise_threshold must be >= 1, got %d", env.ElementwiseThreshold)
	}
	if env.MaxHostMemory < Unlimited {
		return errors.Errorf("max_host_memory must be >= -1, got %d", env.MaxHostMemory)
	}
	if env.MaxDeviceMemory < Unlimited {
		return errors.Errorf("max_device_memory must be >= -1, got %d", env.MaxDeviceMemory)
	}
	if env.Device == "" {
		return errors.New("device cannot be empty")
	}
	return nil
}

// FromEnv returns Default() updated with the settings in $OPCORE_CONFIG, if set.
func FromEnv() (*Environment, error) {
	env := Default()
	if settings := os.Getenv(ConfigEnvVar); settings != "" {
		if _, err := env.Parse(settings); err != nil {
			return nil, errors.WithMessagef(err, "parsing $%s", ConfigEnvVar)
		}
	}
	return env, nil
}

// Load returns FromEnv() updated with the explicit settings, which take precedence.
func Load(settings string) (*Environment, error) {
	env, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if _, err = env.Parse(settings); err != nil {
		return nil, err
	}
	return env, nil
}

// CreateSettingsFlag creates a string flag in flagSet (flag.CommandLine if nil) with the given name
// ("settings" if empty), whose usage lists the valid keys and their default values.
//
// The value is meant to be passed to Load after parsing the flags:
//
//	func main() {
//		settings := environment.CreateSettingsFlag(nil, "")
//		flag.Parse()
//		env, err := environment.Load(*settings)
//		...
//	}
func CreateSettingsFlag(flagSet *flag.FlagSet, name string) *string {
	if flagSet == nil {
		flagSet = flag.CommandLine
	}
	if name == "" {
		name = "settings"
	}
	defaults := Default()
	parts := []string{
		`Engine settings, a list of "key=value" separated by ";". ` +
			`An entry "file:<path>" reads the settings from a file, one per line, with "#" comments. ` +
			`They take precedence over $` + ConfigEnvVar + `. Valid keys:`,
	}
	for _, s := range allSettings {
		parts = append(parts, "\t"+s.key+" ("+s.kind+", default "+s.get(defaults)+"): "+s.usage)
	}
	return flagSet.String(name, "", strings.Join(parts, "\n"))
}
