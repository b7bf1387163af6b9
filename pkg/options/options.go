// Package options defines the recognized configuration options for a node
// process, in the unified, introspectable form the CLI's options command
// renders as a table of names and defaults.
package options

import (
	"fmt"
	"log"
	"strings"

	"github.com/distex-rt/distex/pkg/config"
)

// ConfigurationOptionType represents the possible types of a ConfigurationOption's value.
type ConfigurationOptionType int

const (
	// BoolConfigurationOption reflects the boolean value type.
	BoolConfigurationOption ConfigurationOptionType = iota
	// IntConfigurationOption reflects the integer value type.
	IntConfigurationOption
	// StringConfigurationOption reflects the string value type.
	StringConfigurationOption
	// FloatConfigurationOption reflects a floating point value type.
	FloatConfigurationOption
	// StringsConfigurationOption reflects the array of strings value type.
	StringsConfigurationOption
	// PathConfigurationOption reflects the file system path value type.
	PathConfigurationOption
)

// String returns an empty string for the boolean type, "int" for integers and "string" for
// strings. It is used in the command line interface to show the argument's type.
func (opt ConfigurationOptionType) String() string {
	switch opt {
	case BoolConfigurationOption:
		return ""
	case IntConfigurationOption:
		return "int"
	case StringConfigurationOption:
		return "string"
	case FloatConfigurationOption:
		return "float"
	case StringsConfigurationOption:
		return "string"
	case PathConfigurationOption:
		return "path"
	}

	log.Panicf("Invalid ConfigurationOptionType value %d", opt)

	return ""
}

// ConfigurationOption allows for the unified, retrospective way to present
// the node process's recognized flags and their defaults.
type ConfigurationOption struct {
	// Default is the initial value of the configuration option.
	Default any
	// Name identifies the configuration option in facts.
	Name string
	// Description represents the help text about the configuration option.
	Description string
	// Flag is the option's flag name, shown with "--" prepended. No
	// distexd command registers it as a flag; the value is read from the
	// config file or a DISTEX_ environment variable.
	Flag string
	// Type specifies the kind of the configuration option's value.
	Type ConfigurationOptionType
}

// FormatDefault converts the default value of ConfigurationOption to string.
// Used in the command line interface to show the argument's default value.
func (opt ConfigurationOption) FormatDefault() string {
	if opt.Type == StringsConfigurationOption {
		strSlice, ok := opt.Default.([]string)
		if !ok {
			return fmt.Sprint(opt.Default)
		}

		return fmt.Sprintf("%q", strings.Join(strSlice, ","))
	}

	if opt.Type != StringConfigurationOption {
		return fmt.Sprint(opt.Default)
	}

	return fmt.Sprintf("%q", opt.Default)
}

// Recognized returns the configuration options a node process accepts, in
// declaration order, for display by the CLI's options command.
func Recognized() []ConfigurationOption {
	return []ConfigurationOption{
		{
			Name:        "logging.level",
			Flag:        "log-level",
			Description: "minimum log severity (debug, info, warn, error)",
			Type:        StringConfigurationOption,
			Default:     config.DefaultLogLevel,
		},
		{
			Name:        "runtime.platform",
			Flag:        "platform",
			Description: "device platform backend (cpu, cuda, opencl, level0)",
			Type:        StringConfigurationOption,
			Default:     config.DefaultPlatform,
		},
		{
			Name:        "runtime.device_index",
			Flag:        "device",
			Description: "device index to bind this node's rank to",
			Type:        IntConfigurationOption,
			Default:     0,
		},
		{
			Name:        "runtime.device_profiling",
			Flag:        "profile",
			Description: "capture kernel timeline timestamps when the device supports it",
			Type:        BoolConfigurationOption,
			Default:     false,
		},
		{
			Name:        "runtime.forced_work_group_size",
			Flag:        "work-group-size",
			Description: "force a specific compute work-group size instead of the device default",
			Type:        IntConfigurationOption,
			Default:     config.DefaultForcedWorkGroupSize,
		},
	}
}
